// Package main is the entry point for the NusaPanel file manager backend.
//
// The server exposes a sandboxed file manager over HTTP. Every request is
// bound to one tenant, and every path it names is resolved inside that
// tenant's home directory.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	AUTH_JWT_SECRET=... ./server -port 8080 -home-base /home
//
//	# Development mode (colored logs, tenant taken from X-Tenant-ID)
//	./server -dev -home-base /tmp/homes
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
