package db

import "time"

type TenantModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type SigningKeyModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;index;not null"`
	KID       string `gorm:"index;not null"`
	Alg       string `gorm:"not null"`
	PublicKey []byte `gorm:"type:bytea;not null"`
	Status    string `gorm:"not null"`
	RetiresAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

// KeyMaterialModel holds private material in its own table so revocation can
// purge it without touching the public key record.
type KeyMaterialModel struct {
	TenantID   string    `gorm:"type:uuid;primaryKey"`
	KID        string    `gorm:"primaryKey"`
	PrivateKey []byte    `gorm:"type:bytea;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

type APIKeyModel struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	TenantID    string     `gorm:"type:uuid;index;not null"`
	PublicKey   string     `gorm:"uniqueIndex;not null"`
	SecretHash  []byte     `gorm:"type:bytea;not null"`
	Fingerprint string     `gorm:"uniqueIndex;not null"`
	Permissions []byte     `gorm:"type:jsonb"`
	CreatedAt   time.Time  `gorm:"not null"`
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
}

type RevocationEpochModel struct {
	TenantID  string    `gorm:"type:uuid;primaryKey"`
	Epoch     time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
