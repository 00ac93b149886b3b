package usecase

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"authcore/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryKeyRepo struct {
	mu   sync.Mutex
	keys map[string]domain.SigningKey
}

func newMemoryKeyRepo() *memoryKeyRepo {
	return &memoryKeyRepo{keys: make(map[string]domain.SigningKey)}
}

func (r *memoryKeyRepo) GetActive(_ context.Context, tenantID string) (*domain.SigningKey, error) {
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

func (r *memoryKeyRepo) GetByKID(_ context.Context, tenantID, kid string) (*domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[tenantID+":"+kid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &key, nil
}

func (r *memoryKeyRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.SigningKey, error) {
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

func (r *memoryKeyRepo) Create(_ context.Context, key domain.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.TenantID+":"+key.KID] = key
	return nil
}

func (r *memoryKeyRepo) UpdateStatus(_ context.Context, tenantID, kid string, status domain.KeyStatus, retiresAt *time.Time) error {
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

func (r *memoryKeyRepo) RevokeAll(_ context.Context, tenantID string) error {
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

func (r *memoryKeyRepo) WithTx(_ context.Context, fn func(repo KeyRepository) error) error {
	return fn(r)
}

type memoryMaterialStore struct {
	mu   sync.Mutex
	keys map[domain.KeyRef]ed25519.PrivateKey
}

func newMemoryMaterialStore() *memoryMaterialStore {
	return &memoryMaterialStore{keys: make(map[domain.KeyRef]ed25519.PrivateKey)}
}

func (s *memoryMaterialStore) Put(_ context.Context, ref domain.KeyRef, key ed25519.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[ref] = append(ed25519.PrivateKey(nil), key...)
	return nil
}

func (s *memoryMaterialStore) Get(_ context.Context, ref domain.KeyRef) (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return key, nil
}

func (s *memoryMaterialStore) Delete(_ context.Context, ref domain.KeyRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, ref)
	return nil
}

func (s *memoryMaterialStore) has(ref domain.KeyRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[ref]
	return ok
}

type memoryTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]domain.Tenant
}

func newMemoryTenantRepo() *memoryTenantRepo {
	return &memoryTenantRepo{tenants: make(map[string]domain.Tenant)}
}

func (r *memoryTenantRepo) Create(_ context.Context, tenant domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *memoryTenantRepo) GetByID(_ context.Context, tenantID string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &tenant, nil
}

func (r *memoryTenantRepo) UpdateStatus(_ context.Context, tenantID string, status domain.TenantStatus) error {
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

type memoryAPIKeyRepo struct {
	mu   sync.Mutex
	keys map[string]domain.APIKey
}

func newMemoryAPIKeyRepo() *memoryAPIKeyRepo {
	return &memoryAPIKeyRepo{keys: make(map[string]domain.APIKey)}
}

func (r *memoryAPIKeyRepo) Create(_ context.Context, key domain.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.ID] = key
	return nil
}

func (r *memoryAPIKeyRepo) FindByFingerprint(_ context.Context, fingerprint string) (*domain.APIKey, error) {
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

func (r *memoryAPIKeyRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.APIKey, error) {
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

func (r *memoryAPIKeyRepo) MarkRevoked(_ context.Context, id string, at time.Time) error {
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

func (r *memoryAPIKeyRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
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

func (r *memoryAPIKeyRepo) lastUsed(id string) *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil
	}
	return key.LastUsedAt
}

type memoryEpochRepo struct {
	mu     sync.Mutex
	epochs map[string]time.Time
}

func newMemoryEpochRepo() *memoryEpochRepo {
	return &memoryEpochRepo{epochs: make(map[string]time.Time)}
}

func (r *memoryEpochRepo) Bump(_ context.Context, tenantID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochs[tenantID] = at
	return nil
}

func (r *memoryEpochRepo) Get(_ context.Context, tenantID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.epochs[tenantID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// failingCache simulates a fast-cache outage.
type failingCache struct {
	err error
}

func (c failingCache) Set(_ context.Context, _, _ string, _ time.Duration) error {
	return c.err
}

func (c failingCache) SetNX(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return false, c.err
}

func (c failingCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, c.err
}

// memoryTestCache mirrors the infra memory cache without the import cycle.
type memoryTestCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]testCacheEntry
}

type testCacheEntry struct {
	value     string
	expiresAt time.Time
}

func newMemoryTestCache(now func() time.Time) *memoryTestCache {
	return &memoryTestCache{now: now, entries: make(map[string]testCacheEntry)}
}

func (c *memoryTestCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = testCacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *memoryTestCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && c.now().Before(entry.expiresAt) {
		return false, nil
	}
	c.entries[key] = testCacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *memoryTestCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}
