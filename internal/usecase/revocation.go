package usecase

import (
	"context"
	"fmt"
	"time"

	"authcore/internal/domain"
)

const (
	RevokeReasonLogout  = "logout"
	RevokeReasonRotated = "rotated"
	RevokeReasonFamily  = "family"
	RevokeReasonTenant  = "tenant"
	RevokeReasonAdmin   = "admin"
)

const (
	revokedTokenPrefix  = "revoked:token:"
	revokedFamilyPrefix = "revoked:family:"
	tenantEpochPrefix   = "revoked:tenant:"
)

// RevocationRegistry records revoked token identifiers in the fast cache with
// a TTL equal to the remaining token lifetime, so entries self-expire exactly
// when the token would anyway. Tenant-wide revocation is an epoch timestamp:
// tokens issued before it are dead regardless of their own identifier.
type RevocationRegistry struct {
	Cache  Cache
	Epochs RevocationEpochRepository
	Clock  Clock
}

func NewRevocationRegistry(cache Cache, epochs RevocationEpochRepository, clock Clock) *RevocationRegistry {
	return &RevocationRegistry{Cache: cache, Epochs: epochs, Clock: clock}
}

func (r *RevocationRegistry) Revoke(ctx context.Context, tokenID string, expiresAt time.Time, reason string) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.Cache.Set(ctx, revokedTokenPrefix+tokenID, reason, ttl)
}

// RevokeOnce is the compare-and-swap step of refresh rotation: exactly one
// of any number of concurrent callers observes true for a given token.
func (r *RevocationRegistry) RevokeOnce(ctx context.Context, tokenID string, expiresAt time.Time, reason string) (bool, error) {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return false, nil
	}
	return r.Cache.SetNX(ctx, revokedTokenPrefix+tokenID, reason, ttl)
}

// RevokeFamily kills every token descended from one original login. Used as
// containment when a rotated refresh token is replayed. The until bound must
// cover the newest family member, not just the token that triggered it.
func (r *RevocationRegistry) RevokeFamily(ctx context.Context, familyID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.Cache.Set(ctx, revokedFamilyPrefix+familyID, RevokeReasonFamily, ttl)
}

// RevokeTenant drops every live session of a tenant by bumping its epoch.
func (r *RevocationRegistry) RevokeTenant(ctx context.Context, tenantID string, maxTokenTTL time.Duration) error {
	now := r.now().UTC()
	if r.Epochs != nil {
		if err := r.Epochs.Bump(ctx, tenantID, now); err != nil {
			return err
		}
	}
	return r.Cache.Set(ctx, tenantEpochPrefix+tenantID, fmt.Sprintf("%d", now.UnixNano()), maxTokenTTL)
}

// Check reports whether the token is revoked and why. A single cache lookup
// per dimension; all O(1).
func (r *RevocationRegistry) Check(ctx context.Context, token domain.Token) (bool, string, error) {
	if reason, ok, err := r.Cache.Get(ctx, revokedTokenPrefix+token.ID); err != nil {
		return false, "", err
	} else if ok {
		return true, reason, nil
	}
	if token.FamilyID != "" {
		if _, ok, err := r.Cache.Get(ctx, revokedFamilyPrefix+token.FamilyID); err != nil {
			return false, "", err
		} else if ok {
			return true, RevokeReasonFamily, nil
		}
	}
	epoch, err := r.tenantEpoch(ctx, token.TenantID)
	if err != nil {
		return false, "", err
	}
	if epoch != nil && token.IssuedAt.Before(*epoch) {
		return true, RevokeReasonTenant, nil
	}
	return false, "", nil
}

func (r *RevocationRegistry) IsRevoked(ctx context.Context, token domain.Token) (bool, error) {
	revoked, _, err := r.Check(ctx, token)
	return revoked, err
}

func (r *RevocationRegistry) tenantEpoch(ctx context.Context, tenantID string) (*time.Time, error) {
	raw, ok, err := r.Cache.Get(ctx, tenantEpochPrefix+tenantID)
	if err != nil {
		return nil, err
	}
	if ok {
		var nanos int64
		if _, err := fmt.Sscanf(raw, "%d", &nanos); err == nil {
			at := time.Unix(0, nanos).UTC()
			return &at, nil
		}
	}
	if r.Epochs == nil {
		return nil, nil
	}
	return r.Epochs.Get(ctx, tenantID)
}

func (r *RevocationRegistry) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
