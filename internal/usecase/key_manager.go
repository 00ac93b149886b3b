package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"authcore/internal/domain"
)

const keyAlgEd25519 = "ed25519"

// KeyManager owns per-tenant signing key pairs: generation, rotation with a
// retiring grace window, and verification-key lookup. The active key for each
// tenant is held behind an atomic pointer so readers never block on rotation.
type KeyManager struct {
	Keys     KeyRepository
	Material KeyMaterialStore
	Clock    Clock
	Grace    time.Duration

	active sync.Map // tenantID -> *atomic.Pointer[domain.SigningKey]
	rotate sync.Map // tenantID -> *sync.Mutex
}

func NewKeyManager(keys KeyRepository, material KeyMaterialStore, clock Clock, grace time.Duration) *KeyManager {
	return &KeyManager{
		Keys:     keys,
		Material: material,
		Clock:    clock,
		Grace:    grace,
	}
}

// GetActive returns the tenant's current signing key. Fails with
// ErrTenantNotFound when the tenant has no provisioned key.
func (m *KeyManager) GetActive(ctx context.Context, tenantID string) (domain.SigningKey, error) {
	if tenantID == "" {
		return domain.SigningKey{}, domain.ErrTenantNotFound
	}
	if ptr := m.activePointer(tenantID); ptr != nil {
		if key := ptr.Load(); key != nil {
			return *key, nil
		}
	}
	key, err := m.Keys.GetActive(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SigningKey{}, domain.ErrTenantNotFound
		}
		return domain.SigningKey{}, err
	}
	m.storeActive(*key)
	return *key, nil
}

// Signer returns the active key together with its private material.
func (m *KeyManager) Signer(ctx context.Context, tenantID string) (domain.SigningKey, ed25519.PrivateKey, error) {
	key, err := m.GetActive(ctx, tenantID)
	if err != nil {
		return domain.SigningKey{}, nil, err
	}
	priv, err := m.Material.Get(ctx, domain.KeyRef{TenantID: key.TenantID, KID: key.KID})
	if err != nil {
		return domain.SigningKey{}, nil, err
	}
	return key, priv, nil
}

// VerificationKey resolves public material for (tenantID, kid). The kid must
// belong to the claimed tenant; lookups never fall through to another
// tenant's key set. Active and in-grace retiring keys resolve, everything
// else fails ErrKeyUnknown.
func (m *KeyManager) VerificationKey(ctx context.Context, tenantID, kid string) (ed25519.PublicKey, error) {
	if tenantID == "" || kid == "" {
		return nil, domain.ErrKeyUnknown
	}
	key, err := m.Keys.GetByKID(ctx, tenantID, kid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrKeyUnknown
		}
		return nil, err
	}
	now := m.now()
	switch key.Status {
	case domain.KeyStatusActive:
	case domain.KeyStatusRetiring:
		if key.RetiresAt != nil && !now.Before(*key.RetiresAt) {
			// Grace window elapsed; retire for good and purge private material.
			m.expire(ctx, *key)
			return nil, domain.ErrKeyUnknown
		}
	default:
		return nil, domain.ErrKeyUnknown
	}
	return ed25519.PublicKey(key.PublicKey), nil
}

// ListVerificationKeys returns the tenant's keys still usable for
// verification, i.e. the active key plus retiring keys inside their grace
// window.
func (m *KeyManager) ListVerificationKeys(ctx context.Context, tenantID string) ([]domain.SigningKey, error) {
	keys, err := m.Keys.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]domain.SigningKey, 0, len(keys))
	for _, key := range keys {
		if key.Usable(now) {
			out = append(out, key)
		}
	}
	return out, nil
}

// Provision creates the tenant's first key pair. Invoking it on a tenant
// that already has an active key returns that key unchanged.
func (m *KeyManager) Provision(ctx context.Context, tenantID string) (domain.SigningKey, error) {
	mu := m.rotationLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := m.Keys.GetActive(ctx, tenantID)
	if err == nil {
		m.storeActive(*existing)
		return *existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.SigningKey{}, err
	}
	return m.createActive(ctx, tenantID, nil)
}

// Rotate generates a new active key pair and marks the prior key retiring
// with the configured grace window. Readers observe either the old or the
// new active key, never a half-rotated state.
func (m *KeyManager) Rotate(ctx context.Context, tenantID string) (domain.SigningKey, error) {
	if tenantID == "" {
		return domain.SigningKey{}, domain.ErrTenantNotFound
	}
	mu := m.rotationLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	oldKey, err := m.Keys.GetActive(ctx, tenantID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.SigningKey{}, err
	}
	return m.createActive(ctx, tenantID, oldKey)
}

// RotateIfDue rotates when the active key is older than interval, or
// provisions one when the tenant has none. A non-positive interval disables
// scheduled rotation.
func (m *KeyManager) RotateIfDue(ctx context.Context, tenantID string, interval time.Duration) (bool, domain.SigningKey, error) {
	active, err := m.Keys.GetActive(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			key, err := m.Provision(ctx, tenantID)
			return err == nil, key, err
		}
		return false, domain.SigningKey{}, err
	}
	if interval <= 0 || m.now().Sub(active.CreatedAt) < interval {
		return false, *active, nil
	}
	key, err := m.Rotate(ctx, tenantID)
	if err != nil {
		return false, domain.SigningKey{}, err
	}
	return true, key, nil
}

// SweepRetired finalizes retiring keys whose grace window has elapsed:
// status becomes revoked and private material is purged.
func (m *KeyManager) SweepRetired(ctx context.Context, tenantID string) error {
	keys, err := m.Keys.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	now := m.now()
	for _, key := range keys {
		if key.Status != domain.KeyStatusRetiring {
			continue
		}
		if key.RetiresAt != nil && !now.Before(*key.RetiresAt) {
			m.expire(ctx, key)
		}
	}
	return nil
}

// RevokeAll marks every key of the tenant revoked and purges all private
// material. Used on tenant off-boarding.
func (m *KeyManager) RevokeAll(ctx context.Context, tenantID string) error {
	keys, err := m.Keys.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := m.Keys.RevokeAll(ctx, tenantID); err != nil {
		return err
	}
	for _, key := range keys {
		_ = m.Material.Delete(ctx, domain.KeyRef{TenantID: key.TenantID, KID: key.KID})
	}
	m.dropActive(tenantID)
	return nil
}

func (m *KeyManager) createActive(ctx context.Context, tenantID string, oldKey *domain.SigningKey) (domain.SigningKey, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.SigningKey{}, err
	}
	now := m.now().UTC()
	kid := keyIDFromPublicKey(pubKey)
	newKey := domain.SigningKey{
		TenantID:  tenantID,
		KID:       kid,
		Alg:       keyAlgEd25519,
		PublicKey: pubKey,
		Status:    domain.KeyStatusActive,
		CreatedAt: now,
	}
	ref := domain.KeyRef{TenantID: tenantID, KID: kid}
	if err := m.Material.Put(ctx, ref, privKey); err != nil {
		return domain.SigningKey{}, err
	}

	if err := m.Keys.WithTx(ctx, func(repo KeyRepository) error {
		if err := repo.Create(ctx, newKey); err != nil {
			return err
		}
		if oldKey != nil {
			retiresAt := now.Add(m.grace())
			return repo.UpdateStatus(ctx, tenantID, oldKey.KID, domain.KeyStatusRetiring, &retiresAt)
		}
		return nil
	}); err != nil {
		_ = m.Material.Delete(ctx, ref)
		return domain.SigningKey{}, err
	}

	m.storeActive(newKey)
	return newKey, nil
}

func (m *KeyManager) expire(ctx context.Context, key domain.SigningKey) {
	_ = m.Keys.UpdateStatus(ctx, key.TenantID, key.KID, domain.KeyStatusRevoked, key.RetiresAt)
	_ = m.Material.Delete(ctx, domain.KeyRef{TenantID: key.TenantID, KID: key.KID})
}

func (m *KeyManager) activePointer(tenantID string) *atomic.Pointer[domain.SigningKey] {
	raw, ok := m.active.Load(tenantID)
	if !ok {
		return nil
	}
	return raw.(*atomic.Pointer[domain.SigningKey])
}

func (m *KeyManager) storeActive(key domain.SigningKey) {
	raw, _ := m.active.LoadOrStore(key.TenantID, &atomic.Pointer[domain.SigningKey]{})
	raw.(*atomic.Pointer[domain.SigningKey]).Store(&key)
}

func (m *KeyManager) dropActive(tenantID string) {
	m.active.Delete(tenantID)
}

func (m *KeyManager) rotationLock(tenantID string) *sync.Mutex {
	raw, _ := m.rotate.LoadOrStore(tenantID, &sync.Mutex{})
	return raw.(*sync.Mutex)
}

func (m *KeyManager) grace() time.Duration {
	if m.Grace > 0 {
		return m.Grace
	}
	return 30 * 24 * time.Hour
}

func (m *KeyManager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}

func keyIDFromPublicKey(pubKey ed25519.PublicKey) string {
	sum := sha256.Sum256(pubKey)
	return hex.EncodeToString(sum[:8])
}
