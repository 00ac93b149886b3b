package db

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"authcore/internal/domain"
	"authcore/internal/usecase"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SigningKeyRepository struct {
	db *gorm.DB
}

func NewSigningKeyRepository(db *gorm.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

func (r *SigningKeyRepository) GetActive(ctx context.Context, tenantID string) (*domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, string(domain.KeyStatusActive)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return signingKeyFromModel(model), nil
}

func (r *SigningKeyRepository) GetByKID(ctx context.Context, tenantID, kid string) (*domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND kid = ?", tenantID, kid).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return signingKeyFromModel(model), nil
}

func (r *SigningKeyRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.SigningKey, 0, len(models))
	for _, model := range models {
		out = append(out, *signingKeyFromModel(model))
	}
	return out, nil
}

func (r *SigningKeyRepository) Create(ctx context.Context, key domain.SigningKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	keyID := key.ID
	if keyID == "" {
		keyID = uuid.NewString()
	}
	status := key.Status
	if status == "" {
		status = domain.KeyStatusActive
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := SigningKeyModel{
		ID:        keyID,
		TenantID:  key.TenantID,
		KID:       key.KID,
		Alg:       key.Alg,
		PublicKey: copyBytes(key.PublicKey),
		Status:    string(status),
		RetiresAt: key.RetiresAt,
		CreatedAt: createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *SigningKeyRepository) UpdateStatus(ctx context.Context, tenantID, kid string, status domain.KeyStatus, retiresAt *time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	updates := map[string]any{"status": string(status)}
	if retiresAt != nil {
		updates["retires_at"] = *retiresAt
	}
	result := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("tenant_id = ? AND kid = ?", tenantID, kid).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SigningKeyRepository) RevokeAll(ctx context.Context, tenantID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("tenant_id = ?", tenantID).
		Update("status", string(domain.KeyStatusRevoked)).Error
}

func (r *SigningKeyRepository) WithTx(ctx context.Context, fn func(repo usecase.KeyRepository) error) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewSigningKeyRepository(tx))
	})
}

func signingKeyFromModel(model SigningKeyModel) *domain.SigningKey {
	return &domain.SigningKey{
		ID:        model.ID,
		TenantID:  model.TenantID,
		KID:       model.KID,
		Alg:       model.Alg,
		PublicKey: copyBytes(model.PublicKey),
		Status:    domain.KeyStatus(model.Status),
		RetiresAt: model.RetiresAt,
		CreatedAt: model.CreatedAt,
	}
}

// KeyMaterialRepository is the postgres-backed private key store.
type KeyMaterialRepository struct {
	db *gorm.DB
}

func NewKeyMaterialRepository(db *gorm.DB) *KeyMaterialRepository {
	return &KeyMaterialRepository{db: db}
}

func (r *KeyMaterialRepository) Put(ctx context.Context, ref domain.KeyRef, key ed25519.PrivateKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := KeyMaterialModel{
		TenantID:   ref.TenantID,
		KID:        ref.KID,
		PrivateKey: copyBytes(key),
		CreatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *KeyMaterialRepository) Get(ctx context.Context, ref domain.KeyRef) (ed25519.PrivateKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model KeyMaterialModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND kid = ?", ref.TenantID, ref.KID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(model.PrivateKey) != ed25519.PrivateKeySize {
		return nil, domain.ErrKeyUnknown
	}
	return ed25519.PrivateKey(copyBytes(model.PrivateKey)), nil
}

func (r *KeyMaterialRepository) Delete(ctx context.Context, ref domain.KeyRef) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND kid = ?", ref.TenantID, ref.KID).
		Delete(&KeyMaterialModel{}).Error
}
