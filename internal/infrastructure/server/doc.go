// Package server assembles the file manager HTTP server.
//
// Middleware order:
//  1. Recovery
//  2. Request ID and access log (tracing)
//  3. Request metrics (monitoring)
//  4. CORS
//
// File routes under /api/files additionally run the tenant middleware,
// which binds the caller's sandbox, and the per-tenant rate limiter.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Run()
//	defer srv.Shutdown(context.Background())
package server
