// Package http provides the HTTP handlers and routing for the file manager API.
//
// Every route under /api/files runs behind the tenant middleware, which binds
// the caller's sandbox to the request. Handlers only parse the wire format,
// call filesystem.Service and map its errors onto status codes.
//
// Endpoints:
//   - GET    /api/files/list, /api/files/stat, /api/files/search
//   - GET    /api/files/content, PUT /api/files/content
//   - POST   /api/files/create, /rename, /copy, /move, /delete
//   - POST   /api/files/compress, /api/files/extract
//   - POST   /api/files/upload (multipart), GET /api/files/download
//
// Errors share one envelope:
//
//	{"success": false, "error": {"code": "not_found", "message": "..."}}
//
// Example Usage:
//
//	handlers := http.NewHandlers(service, metrics, logger)
//	handlers.RegisterRoutes(router.Group("/api/files", middleware.Tenant(cfg)))
package http
