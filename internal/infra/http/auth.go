package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"authcore/internal/domain"
	"authcore/internal/infra/authz"

	"github.com/gin-gonic/gin"
)

const scopedContextKey = "scoped_context"

const (
	headerAPIKey    = "X-API-Key"
	headerAPISecret = "X-API-Secret"
	headerAdminKey  = "X-Admin-Key"
)

// requireAuth validates the request credential (bearer token, API key pair,
// or the constant-time admin key), binds the resulting principal's tenant to
// the request scope, and rejects any path-declared tenant that differs from
// the credential's. Externally every credential failure is a generic 401;
// detail stays in logs.
func (s *Server) requireAuth(c *gin.Context, permission string, tenantID string, allowAdminKey bool) (domain.ScopedContext, bool) {
	if allowAdminKey && s.adminAPIKey != "" {
		if key := strings.TrimSpace(c.GetHeader(headerAdminKey)); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) == 1 {
				principal := domain.Principal{
					Subject: "admin-key",
					Scopes:  []string{authz.AdminScope},
				}
				scoped := domain.ScopedContext{TenantID: tenantID, Principal: principal}
				c.Set(scopedContextKey, scoped)
				return scoped, true
			}
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return domain.ScopedContext{}, false
		}
	}

	principal, err := s.authenticate(c)
	if err != nil {
		s.writeAuthError(c, err)
		return domain.ScopedContext{}, false
	}

	scoped := domain.ScopedContext{TenantID: principal.TenantID, Principal: principal}
	if err := scoped.CheckTenant(tenantID); err != nil {
		writeErrorCode(c, http.StatusForbidden, "TENANT_MISMATCH", "forbidden")
		return domain.ScopedContext{}, false
	}
	if s.authorizer != nil {
		if err := s.authorizer.Require(c.Request.Context(), principal, tenantID, permission); err != nil {
			writeAuthzError(c, err)
			return domain.ScopedContext{}, false
		}
	}
	c.Set(scopedContextKey, scoped)
	return scoped, true
}

func (s *Server) authenticate(c *gin.Context) (domain.Principal, error) {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		return s.validator.Validate(c.Request.Context(), token)
	}
	apiKey := strings.TrimSpace(c.GetHeader(headerAPIKey))
	apiSecret := c.GetHeader(headerAPISecret)
	if apiKey != "" && apiSecret != "" {
		return s.apiKeys.Validate(c.Request.Context(), apiKey, apiSecret)
	}
	return domain.Principal{}, domain.ErrUnauthorized
}

func (s *Server) writeAuthError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "temporarily unavailable")
		return
	}
	// Which part of the credential failed is never revealed to the caller.
	writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
}

func writeAuthzError(c *gin.Context, err error) {
	if authzErr, ok := authz.IsAuthzError(err); ok {
		writeErrorCode(c, http.StatusForbidden, authzErr.Code, "forbidden")
		return
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "forbidden")
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}
