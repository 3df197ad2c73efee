/*
Package tracing provides request correlation and access logging.

# Overview

Every HTTP request gets a trace ID that doubles as its request ID. The ID is
taken from an upstream X-Request-ID header when present and well formed,
generated as a ULID otherwise, and echoed back on the response. Finished
request spans are logged asynchronously, one line per request.

# Usage

	tracer := tracing.New("nusapanel", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "extract")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Performance

Spans are buffered (1000) and processed off the request path. When the buffer
is full spans are dropped with a warning rather than blocking requests.
*/
package tracing
