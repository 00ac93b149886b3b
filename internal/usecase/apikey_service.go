package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"authcore/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyPrefix = "ak_"

// APIKeyService manages long-lived key/secret credential pairs. The secret
// plaintext exists only in the Generate response; at rest there is a bcrypt
// hash plus a SHA-256 fingerprint of the public key for O(1) lookup.
type APIKeyService struct {
	Keys         APIKeyRepository
	Cost         int
	Clock        Clock
	StoreTimeout time.Duration

	// dummyHash absorbs a bcrypt comparison when the public key is unknown
	// or revoked, so lookup misses are not distinguishable by timing.
	dummyHash []byte
}

func NewAPIKeyService(keys APIKeyRepository, cost int, clock Clock) (*APIKeyService, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("authcore-dummy-secret"), cost)
	if err != nil {
		return nil, err
	}
	return &APIKeyService{Keys: keys, Cost: cost, dummyHash: dummy, Clock: clock}, nil
}

// Generate mints a credential pair for the tenant. The returned secret is
// shown exactly once and never retrievable again.
func (s *APIKeyService) Generate(ctx context.Context, tenantID string, permissions []string) (domain.APIKey, string, error) {
	if tenantID == "" {
		return domain.APIKey{}, "", domain.ErrTenantNotFound
	}
	publicKey := apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost())
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		PublicKey:   publicKey,
		SecretHash:  hash,
		Fingerprint: fingerprint(publicKey),
		Permissions: permissions,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.Keys.Create(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// Validate authenticates a credential pair and produces the tenant-bound
// principal. Unknown key, revoked key, and wrong secret all burn one bcrypt
// comparison before failing.
func (s *APIKeyService) Validate(ctx context.Context, publicKey, secret string) (domain.Principal, error) {
	findCtx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()
	key, err := s.Keys.FindByFingerprint(findCtx, fingerprint(publicKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(secret))
			return domain.Principal{}, domain.ErrUnauthorized
		}
		if findCtx.Err() != nil {
			return domain.Principal{}, fmt.Errorf("%w: api key lookup: %v", domain.ErrStoreUnavailable, err)
		}
		return domain.Principal{}, err
	}
	if key.Revoked() {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(secret))
		return domain.Principal{}, domain.ErrRevoked
	}
	if err := bcrypt.CompareHashAndPassword(key.SecretHash, []byte(secret)); err != nil {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	// Fire-and-forget; a failed touch must never fail the request.
	go func(id string, at time.Time) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Keys.TouchLastUsed(touchCtx, id, at); err != nil {
			log.Printf("api key last-used touch failed: %v", err)
		}
	}(key.ID, s.now().UTC())

	return domain.Principal{
		TenantID: key.TenantID,
		Subject:  key.PublicKey,
		Scopes:   key.Permissions,
		Kind:     domain.CredentialAPIKey,
	}, nil
}

// Revoke disables the credential immediately and permanently. The record is
// kept for audit continuity.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	return s.Keys.MarkRevoked(ctx, id, s.now().UTC())
}

func (s *APIKeyService) storeTimeout() time.Duration {
	if s.StoreTimeout > 0 {
		return s.StoreTimeout
	}
	return 50 * time.Millisecond
}

func (s *APIKeyService) cost() int {
	if s.Cost >= bcrypt.MinCost && s.Cost <= bcrypt.MaxCost {
		return s.Cost
	}
	return bcrypt.DefaultCost
}

func (s *APIKeyService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func fingerprint(publicKey string) string {
	sum := sha256.Sum256([]byte(publicKey))
	return hex.EncodeToString(sum[:])
}
