package domain

import "errors"

// Credential errors are terminal for the presented credential; the caller
// must obtain a fresh one rather than retry.
var (
	ErrMalformed        = errors.New("malformed credential")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrExpired          = errors.New("credential expired")
	ErrRevoked          = errors.New("credential revoked")
	ErrKeyUnknown       = errors.New("key unknown")
	ErrTokenReuse       = errors.New("token reuse detected")
)

// Tenant errors are terminal and logged as misconfiguration or attack signal.
var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantMismatch = errors.New("tenant mismatch")
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")

	// ErrStoreUnavailable marks infrastructure failures as retryable,
	// distinct from a definitive credential rejection.
	ErrStoreUnavailable = errors.New("store unavailable")
)
