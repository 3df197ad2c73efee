// Package middleware provides the gin middleware in front of the file routes:
// CORS, rate limiting and tenant resolution.
package middleware
