package domain

import "time"

type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusRetiring KeyStatus = "retiring"
	KeyStatusRevoked  KeyStatus = "revoked"
)

// SigningKey is a per-tenant asymmetric key pair. At most one key per tenant
// is active; a retiring key verifies outstanding tokens until RetiresAt but
// never signs new ones.
type SigningKey struct {
	ID        string
	TenantID  string
	KID       string
	Alg       string
	PublicKey []byte
	Status    KeyStatus
	RetiresAt *time.Time
	CreatedAt time.Time
}

// Usable reports whether the key may still verify signatures at now.
func (k SigningKey) Usable(now time.Time) bool {
	switch k.Status {
	case KeyStatusActive:
		return true
	case KeyStatusRetiring:
		return k.RetiresAt == nil || now.Before(*k.RetiresAt)
	default:
		return false
	}
}

type KeyRef struct {
	TenantID string
	KID      string
}
