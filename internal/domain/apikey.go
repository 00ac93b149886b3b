package domain

import "time"

// APIKey is a long-lived credential pair. Only the bcrypt hash of the secret
// is stored; the plaintext exists solely in the Generate response. The
// fingerprint is a SHA-256 of the public key for O(1) lookup.
type APIKey struct {
	ID          string
	TenantID    string
	PublicKey   string
	SecretHash  []byte
	Fingerprint string
	Permissions []string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
}

func (k APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
