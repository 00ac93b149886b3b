package http

import (
	"errors"
	"log"
	"net/http"
	"time"

	"authcore/internal/domain"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tenantResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type keyResponse struct {
	KID       string  `json:"kid"`
	Alg       string  `json:"alg"`
	PublicKey []byte  `json:"public_key"`
	Status    string  `json:"status"`
	RetiresAt *string `json:"retires_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type onboardTenantRequest struct {
	Name string `json:"name" binding:"required"`
}

type onboardTenantResponse struct {
	Tenant tenantResponse `json:"tenant"`
	Key    keyResponse    `json:"signing_key"`
}

type issueTokensRequest struct {
	TenantID string   `json:"tenant_id" binding:"required"`
	Subject  string   `json:"subject" binding:"required"`
	Scopes   []string `json:"scopes"`
}

type tokenPairResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	AccessExpiry  string `json:"access_expiry"`
	RefreshExpiry string `json:"refresh_expiry"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type revokeRequest struct {
	Token string `json:"token" binding:"required"`
}

type createAPIKeyRequest struct {
	Permissions []string `json:"permissions"`
}

type apiKeyResponse struct {
	ID          string   `json:"id"`
	PublicKey   string   `json:"public_key"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"created_at"`
	LastUsedAt  *string  `json:"last_used_at,omitempty"`
	RevokedAt   *string  `json:"revoked_at,omitempty"`
}

type createAPIKeyResponse struct {
	apiKeyResponse
	// Secret is returned exactly once and never retrievable again.
	Secret string `json:"secret"`
}

type meResponse struct {
	TenantID       string   `json:"tenant_id"`
	Subject        string   `json:"subject"`
	Scopes         []string `json:"scopes"`
	CredentialKind string   `json:"credential_kind"`
}

func (s *Server) handleOnboardTenant(c *gin.Context) {
	if _, ok := s.requireAuth(c, "admin:tenants", "", true); !ok {
		return
	}
	var req onboardTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "name is required")
		return
	}
	tenant, key, err := s.tenants.Onboard(c.Request.Context(), req.Name)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "tenant onboarding failed")
		return
	}
	c.JSON(http.StatusCreated, onboardTenantResponse{
		Tenant: tenantToResponse(tenant),
		Key:    keyToResponse(key),
	})
}

func (s *Server) handleOffboardTenant(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if _, ok := s.requireAuth(c, "admin:tenants", tenantID, true); !ok {
		return
	}
	if err := s.tenants.Offboard(c.Request.Context(), tenantID); err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			writeErrorCode(c, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "tenant off-boarding failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRotateKeys(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if _, ok := s.requireAuth(c, "admin:keys", tenantID, true); !ok {
		return
	}
	key, err := s.keyManager.Rotate(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			writeErrorCode(c, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "key rotation failed")
		return
	}
	c.JSON(http.StatusOK, keyToResponse(key))
}

func (s *Server) handleListKeys(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	scoped, ok := s.requireAuth(c, routeKeysRead, tenantID, true)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeKeysRead, scoped.TenantID, "") {
		return
	}
	keys, err := s.keyManager.ListVerificationKeys(c.Request.Context(), tenantID)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "key listing failed")
		return
	}
	out := make([]keyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, keyToResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

func (s *Server) handleIssueTokens(c *gin.Context) {
	if _, ok := s.requireAuth(c, "admin:tokens", "", true); !ok {
		return
	}
	var req issueTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id and subject are required")
		return
	}
	if !s.enforceRateLimit(c, routeTokensIssue, req.TenantID, req.Subject) {
		return
	}
	pair, err := s.issuer.IssuePair(c.Request.Context(), req.TenantID, req.Subject, req.Scopes)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			writeErrorCode(c, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, pairToResponse(pair))
}

func (s *Server) handleRefreshTokens(c *gin.Context) {
	if !s.enforceRateLimit(c, routeTokensRefresh, c.ClientIP(), "") {
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "refresh_token is required")
		return
	}
	pair, err := s.issuer.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenReuse):
			// Security-significant: a rotated refresh token came back. The
			// whole family is already revoked; surface a distinct code.
			log.Printf("refresh token reuse detected from %s", c.ClientIP())
			writeErrorCode(c, http.StatusUnauthorized, "TOKEN_REUSE", "unauthorized")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "temporarily unavailable")
		default:
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		}
		return
	}
	c.JSON(http.StatusOK, pairToResponse(pair))
}

func (s *Server) handleRevokeToken(c *gin.Context) {
	if !s.enforceRateLimit(c, routeTokensRevoke, c.ClientIP(), "") {
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "token is required")
		return
	}
	if err := s.issuer.Revoke(c.Request.Context(), req.Token); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "temporarily unavailable")
			return
		}
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	scoped, ok := s.requireAuth(c, "", "", false)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeMe, scoped.TenantID, scoped.Principal.Subject) {
		return
	}
	c.JSON(http.StatusOK, meResponse{
		TenantID:       scoped.TenantID,
		Subject:        scoped.Principal.Subject,
		Scopes:         scoped.Principal.Scopes,
		CredentialKind: string(scoped.Principal.Kind),
	})
}

func (s *Server) handleCreateAPIKey(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if _, ok := s.requireAuth(c, "admin:api_keys", tenantID, true); !ok {
		return
	}
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid body")
		return
	}
	key, secret, err := s.apiKeys.Generate(c.Request.Context(), tenantID, req.Permissions)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "api key generation failed")
		return
	}
	c.JSON(http.StatusCreated, createAPIKeyResponse{
		apiKeyResponse: apiKeyToResponse(key),
		Secret:         secret,
	})
}

func (s *Server) handleListAPIKeys(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	scoped, ok := s.requireAuth(c, routeAPIKeysRead, tenantID, true)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeAPIKeysRead, scoped.TenantID, "") {
		return
	}
	keys, err := s.apiKeyRepo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "api key listing failed")
		return
	}
	out := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, apiKeyToResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

func (s *Server) handleRevokeAPIKey(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if _, ok := s.requireAuth(c, "admin:api_keys", tenantID, true); !ok {
		return
	}
	if err := s.apiKeys.Revoke(c.Request.Context(), c.Param("key_id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "api key not found")
			return
		}
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "api key revocation failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}

func tenantToResponse(tenant domain.Tenant) tenantResponse {
	return tenantResponse{
		ID:        tenant.ID,
		Name:      tenant.Name,
		Status:    string(tenant.Status),
		CreatedAt: tenant.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func keyToResponse(key domain.SigningKey) keyResponse {
	resp := keyResponse{
		KID:       key.KID,
		Alg:       key.Alg,
		PublicKey: key.PublicKey,
		Status:    string(key.Status),
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
	}
	if key.RetiresAt != nil {
		formatted := key.RetiresAt.UTC().Format(time.RFC3339)
		resp.RetiresAt = &formatted
	}
	return resp
}

func pairToResponse(pair domain.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
		AccessExpiry:  pair.AccessExpiry.UTC().Format(time.RFC3339),
		RefreshExpiry: pair.RefreshExpiry.UTC().Format(time.RFC3339),
	}
}

func apiKeyToResponse(key domain.APIKey) apiKeyResponse {
	resp := apiKeyResponse{
		ID:          key.ID,
		PublicKey:   key.PublicKey,
		Permissions: key.Permissions,
		CreatedAt:   key.CreatedAt.UTC().Format(time.RFC3339),
	}
	if key.LastUsedAt != nil {
		formatted := key.LastUsedAt.UTC().Format(time.RFC3339)
		resp.LastUsedAt = &formatted
	}
	if key.RevokedAt != nil {
		formatted := key.RevokedAt.UTC().Format(time.RFC3339)
		resp.RevokedAt = &formatted
	}
	return resp
}
