package usecase

import (
	"context"
	"errors"
	"time"

	"authcore/internal/domain"

	"github.com/google/uuid"
)

// TenantService drives tenant lifecycle: onboarding provisions the first
// signing key, off-boarding revokes every key and drops all live sessions.
type TenantService struct {
	Tenants     TenantRepository
	KeyManager  *KeyManager
	Revocations *RevocationRegistry
	Clock       Clock
	MaxTokenTTL time.Duration
}

func (s *TenantService) Onboard(ctx context.Context, name string) (domain.Tenant, domain.SigningKey, error) {
	tenant := domain.Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    domain.TenantStatusActive,
		CreatedAt: s.now().UTC(),
	}
	if err := s.Tenants.Create(ctx, tenant); err != nil {
		return domain.Tenant{}, domain.SigningKey{}, err
	}
	key, err := s.KeyManager.Provision(ctx, tenant.ID)
	if err != nil {
		return domain.Tenant{}, domain.SigningKey{}, err
	}
	return tenant, key, nil
}

// Offboard disables the tenant, revokes all its signing keys, and bumps the
// revocation epoch so every outstanding token dies at once.
func (s *TenantService) Offboard(ctx context.Context, tenantID string) error {
	if _, err := s.Tenants.GetByID(ctx, tenantID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrTenantNotFound
		}
		return err
	}
	if err := s.Tenants.UpdateStatus(ctx, tenantID, domain.TenantStatusDisabled); err != nil {
		return err
	}
	if err := s.KeyManager.RevokeAll(ctx, tenantID); err != nil {
		return err
	}
	return s.Revocations.RevokeTenant(ctx, tenantID, s.maxTokenTTL())
}

func (s *TenantService) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	tenant, err := s.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

func (s *TenantService) maxTokenTTL() time.Duration {
	if s.MaxTokenTTL > 0 {
		return s.MaxTokenTTL
	}
	return 30 * 24 * time.Hour
}

func (s *TenantService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
