package credstore

import (
	"context"
	"sync"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

type memStore struct {
	mu   sync.RWMutex
	cred *types.TenantCredential
}

// NewMemory crea un store in-process (tests y modo efímero).
func NewMemory() Store { return &memStore{} }

func (s *memStore) Save(ctx context.Context, cred types.TenantCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cred
	s.cred = &cp
	return nil
}

func (s *memStore) Load(ctx context.Context) (*types.TenantCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, types.ErrNotFound
	}
	cp := *s.cred
	return &cp, nil
}

func (s *memStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}
