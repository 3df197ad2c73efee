/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the file
manager backend, tracking HTTP requests and every file operation by outcome.

# Features

- HTTP request metrics (latency, throughput, size)
- File operation metrics (count by op and error code, duration)
- Bytes read and written
- Path traversal rejections
- Rate limiter rejections
- Uptime

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Time operations
	timer := monitoring.NewTimer(metrics, "extract")
	// ... perform operation ...
	timer.Stop("ok")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
*/
package monitoring
