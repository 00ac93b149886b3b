package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RevocationEpochRepository struct {
	db *gorm.DB
}

func NewRevocationEpochRepository(db *gorm.DB) *RevocationEpochRepository {
	return &RevocationEpochRepository{db: db}
}

func (r *RevocationEpochRepository) Bump(ctx context.Context, tenantID string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := RevocationEpochModel{
		TenantID:  tenantID,
		Epoch:     at,
		UpdatedAt: at,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"epoch", "updated_at"}),
		}).
		Create(&model).Error
}

func (r *RevocationEpochRepository) Get(ctx context.Context, tenantID string) (*time.Time, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RevocationEpochModel
	err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	epoch := model.Epoch
	return &epoch, nil
}
