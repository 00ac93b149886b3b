package authz

import (
	"context"
	"errors"

	"authcore/internal/domain"
)

const AdminScope = "admin:*"

type AuthzError struct {
	Code string
	Err  error
}

func (e *AuthzError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code
}

func (e *AuthzError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Authorizer is the built-in scope authorizer: the credential's tenant must
// match the requested tenant, and the principal must carry the required
// scope. The admin scope bypasses both.
type Authorizer struct {
	adminScope string
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{adminScope: AdminScope}
}

func (a *Authorizer) Require(_ context.Context, principal domain.Principal, tenantID string, permission string) error {
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	if permission == "" {
		return nil
	}
	if principal.HasScope(a.adminScope) {
		return nil
	}
	if tenantID != "" {
		if principal.TenantID == "" || tenantID != principal.TenantID {
			return &AuthzError{Code: "TENANT_MISMATCH", Err: domain.ErrTenantMismatch}
		}
	}
	if !principal.HasScope(permission) {
		return &AuthzError{Code: "MISSING_SCOPE", Err: domain.ErrForbidden}
	}
	return nil
}

func IsAuthzError(err error) (*AuthzError, bool) {
	var authz *AuthzError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}
