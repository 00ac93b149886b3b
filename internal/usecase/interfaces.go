package usecase

import (
	"context"
	"crypto/ed25519"
	"time"

	"authcore/internal/domain"
)

type Clock func() time.Time

type TenantRepository interface {
	Create(ctx context.Context, tenant domain.Tenant) error
	GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error)
	UpdateStatus(ctx context.Context, tenantID string, status domain.TenantStatus) error
}

type KeyRepository interface {
	GetActive(ctx context.Context, tenantID string) (*domain.SigningKey, error)
	GetByKID(ctx context.Context, tenantID, kid string) (*domain.SigningKey, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.SigningKey, error)
	Create(ctx context.Context, key domain.SigningKey) error
	UpdateStatus(ctx context.Context, tenantID, kid string, status domain.KeyStatus, retiresAt *time.Time) error
	RevokeAll(ctx context.Context, tenantID string) error
	WithTx(ctx context.Context, fn func(repo KeyRepository) error) error
}

// KeyMaterialStore holds private key material separately from the public key
// record so purging on revocation is a single delete.
type KeyMaterialStore interface {
	Put(ctx context.Context, ref domain.KeyRef, key ed25519.PrivateKey) error
	Get(ctx context.Context, ref domain.KeyRef) (ed25519.PrivateKey, error)
	Delete(ctx context.Context, ref domain.KeyRef) error
}

type APIKeyRepository interface {
	Create(ctx context.Context, key domain.APIKey) error
	FindByFingerprint(ctx context.Context, fingerprint string) (*domain.APIKey, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.APIKey, error)
	MarkRevoked(ctx context.Context, id string, at time.Time) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Cache is the fast-cache surface backing the revocation registry. Only
// set-with-ttl, set-if-absent, and get are required.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

// RevocationEpochRepository persists the per-tenant bulk-revocation cutoff.
// Tokens issued before the epoch are treated as revoked.
type RevocationEpochRepository interface {
	Bump(ctx context.Context, tenantID string, at time.Time) error
	Get(ctx context.Context, tenantID string) (*time.Time, error)
}
