// Package config provides 12-factor configuration management for the NusaPanel backend.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown timeout)
//   - Files: Tenant home base directory and file operation limits
//   - Auth: Bearer token verification
//   - Logging: Log level and output format
//   - RateLimit: Per-tenant rate limiting configuration
//   - CORS: Allowed browser origins
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	svc := filesystem.NewService(cfg.Files.Limits(), logger)
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT
//   - FILES_HOME_BASE, FILES_MAX_READ_SIZE, FILES_MAX_UPLOAD_SIZE
//   - FILES_MAX_EXTRACT_SIZE, FILES_SEARCH_LIMIT, FILES_SEARCH_MAX_LIMIT
//   - AUTH_JWT_SECRET, AUTH_JWT_ISSUER
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CORS_ORIGINS
package config
