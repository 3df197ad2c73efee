package logging

import "go.uber.org/zap"

// Field keys shared by the access log and the file operation log
const (
	KeyOp        = "op"
	KeyTenant    = "tenant"
	KeyPath      = "path"
	KeyCode      = "code"
	KeyRequestID = "request_id"
)

// Op names the file operation
func Op(op string) zap.Field { return zap.String(KeyOp, op) }

// Tenant names the tenant a request acts for
func Tenant(id string) zap.Field { return zap.String(KeyTenant, id) }

// Path is a sandbox-relative path. Host paths never go here.
func Path(rel string) zap.Field { return zap.String(KeyPath, rel) }

// Code is the stable outcome code, "ok" on success
func Code(code string) zap.Field { return zap.String(KeyCode, code) }

// RequestID correlates a log line with the X-Request-ID response header
func RequestID(id string) zap.Field { return zap.String(KeyRequestID, id) }
