package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nusapanel/panel/backend/internal/infrastructure/logging"
	"github.com/nusapanel/panel/backend/internal/providers/filesystem"
	"github.com/nusapanel/panel/backend/internal/shared/paths"
)

// Context keys and headers for tenant resolution
const (
	TenantKey  = logging.KeyTenant
	SandboxKey = "sandbox"

	// TenantHeader names the tenant when token verification is disabled
	TenantHeader = "X-Tenant-ID"
)

// TenantConfig configures how requests are bound to a tenant home.
type TenantConfig struct {
	HomeBase string
	// JWTSecret enables HS256 bearer verification; the token subject is the tenant ID
	JWTSecret string
	JWTIssuer string
	Logger    *zap.Logger
}

// Tenant resolves the calling tenant and its sandbox before any file route
// runs. The sandbox root comes from the tenant ID and the home base only.
func Tenant(cfg TenantConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		var tenantID string
		if cfg.JWTSecret != "" {
			tokenStr := bearerToken(c)
			if tokenStr == "" {
				abortWithError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			subject, err := verifyToken(parser, secret, tokenStr)
			if err != nil {
				logger.Debug("token rejected", zap.Error(err))
				abortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			tenantID = subject
		} else {
			tenantID = c.GetHeader(TenantHeader)
			if tenantID == "" {
				abortWithError(c, http.StatusUnauthorized, "unauthorized", "missing tenant")
				return
			}
		}

		home, err := paths.TenantHome(cfg.HomeBase, tenantID)
		if err != nil {
			abortWithError(c, http.StatusForbidden, "forbidden", "invalid tenant")
			return
		}
		sb, err := filesystem.NewSandbox(home)
		if err != nil {
			logger.Warn("tenant home unavailable",
				logging.Tenant(tenantID),
				zap.Error(err))
			abortWithError(c, http.StatusForbidden, "forbidden", "tenant home unavailable")
			return
		}

		c.Set(TenantKey, tenantID)
		c.Set(SandboxKey, sb)
		c.Next()
	}
}

func verifyToken(parser *jwt.Parser, secret []byte, tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// bearerToken reads the Authorization header, or access_token on GET requests
// so that plain download links work
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c.Request.Method == http.MethodGet {
		return c.Query("access_token")
	}
	return ""
}

// TenantFrom returns the tenant bound to the request, if any
func TenantFrom(c *gin.Context) string {
	return c.GetString(TenantKey)
}

// SandboxFrom returns the sandbox bound to the request by Tenant
func SandboxFrom(c *gin.Context) (*filesystem.Sandbox, bool) {
	v, ok := c.Get(SandboxKey)
	if !ok {
		return nil, false
	}
	sb, ok := v.(*filesystem.Sandbox)
	return sb, ok
}
