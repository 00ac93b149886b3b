package domain

import "context"

type CredentialKind string

const (
	CredentialToken  CredentialKind = "token"
	CredentialAPIKey CredentialKind = "api_key"
)

// Principal is the authenticated identity produced by credential validation.
// It is bound to exactly one tenant and is the only artifact downstream
// services may trust for authorization decisions.
type Principal struct {
	TenantID string
	Subject  string
	Scopes   []string
	Kind     CredentialKind

	// TokenID and FamilyID are set only for token credentials.
	TokenID  string
	FamilyID string
}

func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopedContext binds the credential's tenant to one request's execution
// scope. It is constructed once per request and passed explicitly; it is
// never held in process-wide state.
type ScopedContext struct {
	TenantID  string
	Principal Principal
}

// CheckTenant rejects any caller-supplied tenant identifier that differs
// from the credential's tenant. The credential always wins.
func (s ScopedContext) CheckTenant(declared string) error {
	if declared != "" && declared != s.TenantID {
		return ErrTenantMismatch
	}
	return nil
}

type Authorizer interface {
	Require(ctx context.Context, principal Principal, tenantID string, permission string) error
}
