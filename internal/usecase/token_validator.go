package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authcore/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator verifies signature, expiry, and revocation status for raw
// bearer tokens. The key used for signature verification is always resolved
// through the tenant claimed inside the token, so a kid can never select
// another tenant's key.
type TokenValidator struct {
	Keys         *KeyManager
	Revocations  *RevocationRegistry
	Clock        Clock
	Skew         time.Duration
	StoreTimeout time.Duration
}

// Verify checks structure, key ownership, signature, and expiry. It does not
// consult the revocation registry; Validate does.
func (v *TokenValidator) Verify(ctx context.Context, raw string) (domain.Token, error) {
	if raw == "" {
		return domain.Token{}, domain.ErrMalformed
	}
	claims := &tokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithLeeway(v.skew()),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		tenantID := claims.TenantID
		if kid == "" || tenantID == "" {
			return nil, domain.ErrMalformed
		}
		keyCtx, cancel := context.WithTimeout(ctx, v.storeTimeout())
		defer cancel()
		pub, err := v.Keys.VerificationKey(keyCtx, tenantID, kid)
		if err != nil {
			if keyCtx.Err() != nil {
				return nil, fmt.Errorf("%w: verification key lookup: %v", domain.ErrStoreUnavailable, err)
			}
			return nil, err
		}
		return pub, nil
	})
	if err != nil {
		return domain.Token{}, mapJWTError(err)
	}
	token := domain.Token{
		ID:       claims.ID,
		TenantID: claims.TenantID,
		Subject:  claims.Subject,
		Scopes:   claims.Scopes,
		Kind:     domain.TokenKind(claims.Kind),
		FamilyID: claims.FamilyID,
	}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		token.ExpiresAt = claims.ExpiresAt.Time
	}
	if token.ID == "" || token.Kind == "" {
		return domain.Token{}, domain.ErrMalformed
	}
	return token, nil
}

// Validate is the hot-path entry point: signature and expiry via Verify,
// then a single revocation lookup. Only access tokens authenticate requests;
// a refresh token presented as a bearer credential is rejected outright.
func (v *TokenValidator) Validate(ctx context.Context, raw string) (domain.Principal, error) {
	token, err := v.Verify(ctx, raw)
	if err != nil {
		return domain.Principal{}, err
	}
	if token.Kind != domain.TokenKindAccess {
		return domain.Principal{}, domain.ErrMalformed
	}
	revCtx, cancel := context.WithTimeout(ctx, v.storeTimeout())
	defer cancel()
	revoked, err := v.Revocations.IsRevoked(revCtx, token)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: revocation check: %v", domain.ErrStoreUnavailable, err)
	}
	if revoked {
		return domain.Principal{}, domain.ErrRevoked
	}
	return domain.Principal{
		TenantID: token.TenantID,
		Subject:  token.Subject,
		Scopes:   token.Scopes,
		Kind:     domain.CredentialToken,
		TokenID:  token.ID,
		FamilyID: token.FamilyID,
	}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return err
	case errors.Is(err, domain.ErrKeyUnknown):
		return domain.ErrKeyUnknown
	case errors.Is(err, domain.ErrMalformed):
		return domain.ErrMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domain.ErrMalformed
	default:
		return domain.ErrMalformed
	}
}

func (v *TokenValidator) skew() time.Duration {
	if v.Skew > 0 {
		return v.Skew
	}
	return time.Minute
}

func (v *TokenValidator) storeTimeout() time.Duration {
	if v.StoreTimeout > 0 {
		return v.StoreTimeout
	}
	return 50 * time.Millisecond
}

func (v *TokenValidator) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now().UTC()
}
