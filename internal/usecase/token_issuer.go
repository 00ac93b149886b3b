package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authcore/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer builds and signs tokens under the tenant's active key. It is
// invoked on login and refresh only, never on the hot validation path.
type TokenIssuer struct {
	Keys        *KeyManager
	Revocations *RevocationRegistry
	Validator   *TokenValidator
	Clock       Clock
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

type tokenClaims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tid"`
	Scopes   []string `json:"scp,omitempty"`
	Kind     string   `json:"knd"`
	FamilyID string   `json:"fid,omitempty"`
}

// IssuePair mints a fresh access/refresh pair sharing a new token family.
func (s *TokenIssuer) IssuePair(ctx context.Context, tenantID, subject string, scopes []string) (domain.TokenPair, error) {
	return s.issuePair(ctx, tenantID, subject, scopes, uuid.NewString())
}

// Issue signs a single token of the given kind within an existing family.
func (s *TokenIssuer) Issue(ctx context.Context, tenantID, subject string, scopes []string, kind domain.TokenKind, familyID string) (string, domain.Token, error) {
	key, priv, err := s.Keys.Signer(ctx, tenantID)
	if err != nil {
		return "", domain.Token{}, err
	}
	now := s.now().UTC()
	token := domain.Token{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Subject:   subject,
		Scopes:    scopes,
		Kind:      kind,
		FamilyID:  familyID,
		KID:       key.KID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl(kind)),
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.ID,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
		},
		TenantID: tenantID,
		Scopes:   scopes,
		Kind:     string(kind),
		FamilyID: familyID,
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	jt.Header["kid"] = key.KID
	signed, err := jt.SignedString(priv)
	if err != nil {
		return "", domain.Token{}, err
	}
	return signed, token, nil
}

// Refresh exchanges a refresh token for a new pair, revoking the old token
// atomically. Exactly one of any concurrent exchanges with the same token
// wins; the rest observe ErrTokenReuse, which also revokes the whole family
// as containment against replay of a stolen token.
func (s *TokenIssuer) Refresh(ctx context.Context, rawRefresh string) (domain.TokenPair, error) {
	token, err := s.Validator.Verify(ctx, rawRefresh)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if token.Kind != domain.TokenKindRefresh {
		return domain.TokenPair{}, domain.ErrMalformed
	}
	revoked, reason, err := s.Revocations.Check(ctx, token)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: revocation check: %v", domain.ErrStoreUnavailable, err)
	}
	if revoked {
		if reason == RevokeReasonRotated || reason == RevokeReasonFamily {
			_ = s.Revocations.RevokeFamily(ctx, token.FamilyID, s.familyHorizon())
			return domain.TokenPair{}, domain.ErrTokenReuse
		}
		return domain.TokenPair{}, domain.ErrRevoked
	}
	// The verifier's leeway can admit a token past its exp; that is an
	// ordinary expiry, not a replay.
	if !s.now().Before(token.ExpiresAt) {
		return domain.TokenPair{}, domain.ErrExpired
	}
	winner, err := s.Revocations.RevokeOnce(ctx, token.ID, token.ExpiresAt, RevokeReasonRotated)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: refresh rotation: %v", domain.ErrStoreUnavailable, err)
	}
	if !winner {
		_ = s.Revocations.RevokeFamily(ctx, token.FamilyID, s.familyHorizon())
		return domain.TokenPair{}, domain.ErrTokenReuse
	}
	return s.issuePair(ctx, token.TenantID, token.Subject, token.Scopes, token.FamilyID)
}

// Revoke invalidates a presented token before its natural expiry (logout).
// Revoking a refresh token also drops the family so the paired access token
// dies with it.
func (s *TokenIssuer) Revoke(ctx context.Context, raw string) error {
	token, err := s.Validator.Verify(ctx, raw)
	if err != nil {
		if errors.Is(err, domain.ErrExpired) {
			return nil
		}
		return err
	}
	if err := s.Revocations.Revoke(ctx, token.ID, token.ExpiresAt, RevokeReasonLogout); err != nil {
		return fmt.Errorf("%w: token revocation: %v", domain.ErrStoreUnavailable, err)
	}
	if token.Kind == domain.TokenKindRefresh && token.FamilyID != "" {
		if err := s.Revocations.RevokeFamily(ctx, token.FamilyID, s.familyHorizon()); err != nil {
			return fmt.Errorf("%w: family revocation: %v", domain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// familyHorizon is the latest instant any member of a token family can still
// be alive: the most recently rotated refresh token lives a full refresh TTL
// from now. Family entries must not lapse before that.
func (s *TokenIssuer) familyHorizon() time.Time {
	return s.now().Add(s.ttl(domain.TokenKindRefresh))
}

func (s *TokenIssuer) issuePair(ctx context.Context, tenantID, subject string, scopes []string, familyID string) (domain.TokenPair, error) {
	access, accessTok, err := s.Issue(ctx, tenantID, subject, scopes, domain.TokenKindAccess, familyID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, refreshTok, err := s.Issue(ctx, tenantID, subject, scopes, domain.TokenKindRefresh, familyID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessExpiry:  accessTok.ExpiresAt,
		RefreshExpiry: refreshTok.ExpiresAt,
	}, nil
}

func (s *TokenIssuer) ttl(kind domain.TokenKind) time.Duration {
	if kind == domain.TokenKindRefresh {
		if s.RefreshTTL > 0 {
			return s.RefreshTTL
		}
		return 30 * 24 * time.Hour
	}
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return 15 * time.Minute
}

func (s *TokenIssuer) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
