package soft

import (
	"context"
	"crypto/ed25519"
	"sync"

	"authcore/internal/domain"
)

// Store keeps private key material in process memory. It backs dev and test
// deployments and the no-db mode; production uses the postgres-backed store.
type Store struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

func NewStore() *Store {
	return &Store{keys: make(map[string]ed25519.PrivateKey)}
}

func (s *Store) Put(_ context.Context, ref domain.KeyRef, key ed25519.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[refKey(ref)] = append(ed25519.PrivateKey(nil), key...)
	return nil
}

func (s *Store) Get(_ context.Context, ref domain.KeyRef) (ed25519.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[refKey(ref)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append(ed25519.PrivateKey(nil), key...), nil
}

func (s *Store) Delete(_ context.Context, ref domain.KeyRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, refKey(ref))
	return nil
}

func refKey(ref domain.KeyRef) string {
	return ref.TenantID + "|" + ref.KID
}
