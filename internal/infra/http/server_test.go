package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"authcore/internal/config"
	"authcore/internal/domain"
	"authcore/internal/infra/cache"
	"authcore/internal/infra/keys/soft"
	"authcore/internal/infra/ratelimit"
	"authcore/internal/usecase"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubKeyRepo struct {
	mu   sync.Mutex
	keys map[string]domain.SigningKey
}

func newStubKeyRepo() *stubKeyRepo {
	return &stubKeyRepo{keys: make(map[string]domain.SigningKey)}
}

func (r *stubKeyRepo) GetActive(_ context.Context, tenantID string) (*domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active *domain.SigningKey
	for _, key := range r.keys {
		if key.TenantID != tenantID || key.Status != domain.KeyStatusActive {
			continue
		}
		copyKey := key
		if active == nil || key.CreatedAt.After(active.CreatedAt) {
			active = &copyKey
		}
	}
	if active == nil {
		return nil, domain.ErrNotFound
	}
	return active, nil
}

func (r *stubKeyRepo) GetByKID(_ context.Context, tenantID, kid string) (*domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[tenantID+":"+kid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &key, nil
}

func (r *stubKeyRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SigningKey, 0)
	for _, key := range r.keys {
		if key.TenantID == tenantID {
			out = append(out, key)
		}
	}
	return out, nil
}

func (r *stubKeyRepo) Create(_ context.Context, key domain.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.TenantID+":"+key.KID] = key
	return nil
}

func (r *stubKeyRepo) UpdateStatus(_ context.Context, tenantID, kid string, status domain.KeyStatus, retiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[tenantID+":"+kid]
	if !ok {
		return domain.ErrNotFound
	}
	key.Status = status
	if retiresAt != nil {
		key.RetiresAt = retiresAt
	}
	r.keys[tenantID+":"+kid] = key
	return nil
}

func (r *stubKeyRepo) RevokeAll(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, key := range r.keys {
		if key.TenantID == tenantID {
			key.Status = domain.KeyStatusRevoked
			r.keys[id] = key
		}
	}
	return nil
}

func (r *stubKeyRepo) WithTx(_ context.Context, fn func(repo usecase.KeyRepository) error) error {
	return fn(r)
}

type stubTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]domain.Tenant
}

func newStubTenantRepo() *stubTenantRepo {
	return &stubTenantRepo{tenants: make(map[string]domain.Tenant)}
}

func (r *stubTenantRepo) Create(_ context.Context, tenant domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *stubTenantRepo) GetByID(_ context.Context, tenantID string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &tenant, nil
}

func (r *stubTenantRepo) UpdateStatus(_ context.Context, tenantID string, status domain.TenantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[tenantID]
	if !ok {
		return domain.ErrNotFound
	}
	tenant.Status = status
	r.tenants[tenantID] = tenant
	return nil
}

type stubAPIKeyRepo struct {
	mu   sync.Mutex
	keys map[string]domain.APIKey
}

func newStubAPIKeyRepo() *stubAPIKeyRepo {
	return &stubAPIKeyRepo{keys: make(map[string]domain.APIKey)}
}

func (r *stubAPIKeyRepo) Create(_ context.Context, key domain.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.ID] = key
	return nil
}

func (r *stubAPIKeyRepo) FindByFingerprint(_ context.Context, fingerprint string) (*domain.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.Fingerprint == fingerprint {
			copyKey := key
			return &copyKey, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubAPIKeyRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.APIKey, 0)
	for _, key := range r.keys {
		if key.TenantID == tenantID {
			out = append(out, key)
		}
	}
	return out, nil
}

func (r *stubAPIKeyRepo) MarkRevoked(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return domain.ErrNotFound
	}
	if key.RevokedAt == nil {
		key.RevokedAt = &at
		r.keys[id] = key
	}
	return nil
}

func (r *stubAPIKeyRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return domain.ErrNotFound
	}
	key.LastUsedAt = &at
	r.keys[id] = key
	return nil
}

const testAdminKey = "test-admin-key"

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	cfg.AdminAPIKey = testAdminKey

	fastCache := cache.NewMemoryCache(nil)
	keyManager := usecase.NewKeyManager(newStubKeyRepo(), soft.NewStore(), nil, time.Hour)
	revocations := usecase.NewRevocationRegistry(fastCache, nil, nil)
	validator := &usecase.TokenValidator{Keys: keyManager, Revocations: revocations}
	issuer := &usecase.TokenIssuer{
		Keys:        keyManager,
		Revocations: revocations,
		Validator:   validator,
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  30 * 24 * time.Hour,
	}
	apiKeyRepo := newStubAPIKeyRepo()
	apiKeys, err := usecase.NewAPIKeyService(apiKeyRepo, 4, nil)
	if err != nil {
		t.Fatalf("api key service: %v", err)
	}
	tenants := &usecase.TenantService{
		Tenants:     newStubTenantRepo(),
		KeyManager:  keyManager,
		Revocations: revocations,
	}

	var limiter domain.RateLimiter
	if cfg.RateLimitRequests > 0 {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}
	return NewServerWithDeps(cfg, ServerDeps{
		Tenants:     tenants,
		KeyManager:  keyManager,
		Issuer:      issuer,
		Validator:   validator,
		APIKeys:     apiKeys,
		APIKeyRepo:  apiKeyRepo,
		Revocations: revocations,
		AdminAPIKey: cfg.AdminAPIKey,
		RateLimiter: limiter,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Key": testAdminKey}
}

func onboardTenant(t *testing.T, s *Server, name string) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]string{"name": name}, adminHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("onboard status %d: %s", w.Code, w.Body.String())
	}
	var resp onboardTenantResponse
	decodeBody(t, w, &resp)
	if resp.Tenant.ID == "" || resp.Key.KID == "" {
		t.Fatalf("incomplete onboard response: %+v", resp)
	}
	return resp.Tenant.ID
}

func issueTokens(t *testing.T, s *Server, tenantID, subject string, scopes []string) tokenPairResponse {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]any{
		"tenant_id": tenantID,
		"subject":   subject,
		"scopes":    scopes,
	}, adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("issue status %d: %s", w.Code, w.Body.String())
	}
	var pair tokenPairResponse
	decodeBody(t, w, &pair)
	return pair
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.Config{})
	w := doJSON(t, s, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestOnboardRequiresAdminKey(t *testing.T) {
	s := newTestServer(t, config.Config{})

	w := doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]string{"name": "acme"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no credential: status %d", w.Code)
	}
	w = doJSON(t, s, http.MethodPost, "/v1/tenants", map[string]string{"name": "acme"},
		map[string]string{"X-Admin-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong admin key: status %d", w.Code)
	}
}

func TestTokenLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	tenantID := onboardTenant(t, s, "acme")
	pair := issueTokens(t, s, tenantID, "user-1", []string{"keys:read"})

	// The access token authenticates /v1/me.
	w := doJSON(t, s, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("me status %d: %s", w.Code, w.Body.String())
	}
	var me meResponse
	decodeBody(t, w, &me)
	if me.TenantID != tenantID || me.Subject != "user-1" || me.CredentialKind != "token" {
		t.Fatalf("unexpected identity: %+v", me)
	}

	// A refresh token is not a bearer credential.
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.RefreshToken,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh as bearer: status %d", w.Code)
	}

	// Refresh rotates the pair.
	w = doJSON(t, s, http.MethodPost, "/v1/tokens/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status %d: %s", w.Code, w.Body.String())
	}
	var next tokenPairResponse
	decodeBody(t, w, &next)
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// Replaying the consumed refresh token surfaces the reuse code.
	w = doJSON(t, s, http.MethodPost, "/v1/tokens/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay status %d", w.Code)
	}
	var errResp errorResponse
	decodeBody(t, w, &errResp)
	if errResp.Code != "TOKEN_REUSE" {
		t.Fatalf("replay code %q, want TOKEN_REUSE", errResp.Code)
	}

	// The family died with the reuse; the rotated pair is revoked too.
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + next.AccessToken,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("post-reuse me status %d", w.Code)
	}
}

func TestRevokeTokenOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	tenantID := onboardTenant(t, s, "acme")
	pair := issueTokens(t, s, tenantID, "user-1", nil)

	w := doJSON(t, s, http.MethodPost, "/v1/tokens/revoke", map[string]string{
		"token": pair.AccessToken,
	}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke status %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token accepted: status %d", w.Code)
	}
}

func TestTenantMismatchOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	tenantA := onboardTenant(t, s, "acme")
	tenantB := onboardTenant(t, s, "globex")
	pair := issueTokens(t, s, tenantA, "user-1", []string{"keys:read"})

	w := doJSON(t, s, http.MethodGet, "/v1/tenants/"+tenantB+"/keys", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("cross-tenant status %d: %s", w.Code, w.Body.String())
	}
	var errResp errorResponse
	decodeBody(t, w, &errResp)
	if errResp.Code != "TENANT_MISMATCH" {
		t.Fatalf("code %q, want TENANT_MISMATCH", errResp.Code)
	}

	// The declared tenant matching the credential works.
	w = doJSON(t, s, http.MethodGet, "/v1/tenants/"+tenantA+"/keys", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("own-tenant status %d: %s", w.Code, w.Body.String())
	}
}

func TestKeyRotationOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	tenantID := onboardTenant(t, s, "acme")
	pair := issueTokens(t, s, tenantID, "user-1", nil)

	w := doJSON(t, s, http.MethodPost, "/v1/tenants/"+tenantID+"/keys/rotate", nil, adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("rotate status %d: %s", w.Code, w.Body.String())
	}

	// Tokens signed before rotation still validate inside the grace window.
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("pre-rotation token rejected: status %d", w.Code)
	}

	// Both the new active and the retiring key are listed.
	w = doJSON(t, s, http.MethodGet, "/v1/tenants/"+tenantID+"/keys", nil, adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("list status %d: %s", w.Code, w.Body.String())
	}
	var listed struct {
		Keys []keyResponse `json:"keys"`
	}
	decodeBody(t, w, &listed)
	if len(listed.Keys) != 2 {
		t.Fatalf("listed %d keys, want 2", len(listed.Keys))
	}
}

func TestAPIKeyFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	tenantID := onboardTenant(t, s, "acme")

	w := doJSON(t, s, http.MethodPost, "/v1/tenants/"+tenantID+"/api-keys", map[string]any{
		"permissions": []string{"keys:read"},
	}, adminHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", w.Code, w.Body.String())
	}
	var created createAPIKeyResponse
	decodeBody(t, w, &created)
	if created.Secret == "" || created.PublicKey == "" {
		t.Fatalf("incomplete api key response: %+v", created)
	}

	// The pair authenticates /v1/me.
	keyHeaders := map[string]string{
		"X-API-Key":    created.PublicKey,
		"X-API-Secret": created.Secret,
	}
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, keyHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("me status %d: %s", w.Code, w.Body.String())
	}
	var me meResponse
	decodeBody(t, w, &me)
	if me.TenantID != tenantID || me.CredentialKind != "api_key" {
		t.Fatalf("unexpected identity: %+v", me)
	}

	// Wrong secret and revoked key both fail with the generic 401.
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, map[string]string{
		"X-API-Key":    created.PublicKey,
		"X-API-Secret": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status %d", w.Code)
	}

	w = doJSON(t, s, http.MethodDelete, "/v1/tenants/"+tenantID+"/api-keys/"+created.ID, nil, adminHeaders())
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke status %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, keyHeaders)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key status %d", w.Code)
	}
}

func TestOffboardTenantOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	tenantID := onboardTenant(t, s, "acme")
	pair := issueTokens(t, s, tenantID, "user-1", nil)

	w := doJSON(t, s, http.MethodDelete, "/v1/tenants/"+tenantID, nil, adminHeaders())
	if w.Code != http.StatusNoContent {
		t.Fatalf("offboard status %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodGet, "/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("token alive after off-boarding: status %d", w.Code)
	}
}

func TestRateLimitOverHTTP(t *testing.T) {
	cfg := config.Config{RateLimitRequests: 2, RateLimitWindowSeconds: 60}
	s := newTestServer(t, cfg)
	tenantID := onboardTenant(t, s, "acme")
	pair := issueTokens(t, s, tenantID, "user-1", nil)
	bearer := map[string]string{"Authorization": "Bearer " + pair.AccessToken}

	for i := 0; i < 2; i++ {
		w := doJSON(t, s, http.MethodGet, "/v1/me", nil, bearer)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status %d: %s", i, w.Code, w.Body.String())
		}
		if w.Header().Get("RateLimit-Limit") != "2" {
			t.Fatalf("missing RateLimit-Limit header on request %d", i)
		}
	}

	w := doJSON(t, s, http.MethodGet, "/v1/me", nil, bearer)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status %d: %s", w.Code, w.Body.String())
	}
	var errResp errorResponse
	decodeBody(t, w, &errResp)
	if errResp.Code != "RATE_LIMITED" {
		t.Fatalf("code %q, want RATE_LIMITED", errResp.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, config.Config{})
	w := doJSON(t, s, http.MethodGet, "/v1/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}
