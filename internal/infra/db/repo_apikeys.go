package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"authcore/internal/domain"

	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key domain.APIKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return err
	}
	model := APIKeyModel{
		ID:          key.ID,
		TenantID:    key.TenantID,
		PublicKey:   key.PublicKey,
		SecretHash:  copyBytes(key.SecretHash),
		Fingerprint: key.Fingerprint,
		Permissions: permissions,
		CreatedAt:   key.CreatedAt,
		LastUsedAt:  key.LastUsedAt,
		RevokedAt:   key.RevokedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *APIKeyRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.APIKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model APIKeyModel
	err := r.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return apiKeyFromModel(model)
}

func (r *APIKeyRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.APIKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []APIKeyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.APIKey, 0, len(models))
	for _, model := range models {
		key, err := apiKeyFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, *key)
	}
	return out, nil
}

func (r *APIKeyRepository) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&APIKeyModel{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&APIKeyModel{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

func apiKeyFromModel(model APIKeyModel) (*domain.APIKey, error) {
	var permissions []string
	if len(model.Permissions) > 0 {
		if err := json.Unmarshal(model.Permissions, &permissions); err != nil {
			return nil, err
		}
	}
	return &domain.APIKey{
		ID:          model.ID,
		TenantID:    model.TenantID,
		PublicKey:   model.PublicKey,
		SecretHash:  copyBytes(model.SecretHash),
		Fingerprint: model.Fingerprint,
		Permissions: permissions,
		CreatedAt:   model.CreatedAt,
		LastUsedAt:  model.LastUsedAt,
		RevokedAt:   model.RevokedAt,
	}, nil
}
