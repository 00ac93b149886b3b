package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"authcore/internal/domain"
	"authcore/internal/infra/authz"

	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.authcore.authz.result"

// Engine evaluates authorization decisions against a rego bundle. It is an
// optional replacement for the built-in scope authorizer, selected when
// POLICY_BUNDLE_PATH is configured.
type Engine struct {
	query rego.PreparedEvalQuery
}

type policyInput struct {
	Subject         string   `json:"subject"`
	TenantID        string   `json:"tenant_id"`
	Scopes          []string `json:"scopes"`
	CredentialKind  string   `json:"credential_kind"`
	RequestedTenant string   `json:"requested_tenant"`
	Permission      string   `json:"permission"`
}

type policyResult struct {
	Allow bool   `json:"allow"`
	Code  string `json:"code"`
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	if bundlePath == "" {
		return nil, errors.New("policy bundle path is required")
	}
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy bundle: %w", err)
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Require(ctx context.Context, principal domain.Principal, tenantID string, permission string) error {
	if e == nil {
		return errors.New("policy engine is nil")
	}
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	input := policyInput{
		Subject:         principal.Subject,
		TenantID:        principal.TenantID,
		Scopes:          principal.Scopes,
		CredentialKind:  string(principal.Kind),
		RequestedTenant: tenantID,
		Permission:      permission,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return errors.New("empty policy result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return err
	}
	if result.Allow {
		return nil
	}
	code := result.Code
	if code == "" {
		code = "FORBIDDEN"
	}
	if code == "TENANT_MISMATCH" {
		return &authz.AuthzError{Code: code, Err: domain.ErrTenantMismatch}
	}
	return &authz.AuthzError{Code: code, Err: domain.ErrForbidden}
}

func decodeResult(value any) (policyResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return policyResult{}, err
	}
	var result policyResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return policyResult{}, err
	}
	return result, nil
}
