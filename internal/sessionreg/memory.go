package sessionreg

import (
	"context"
	"sync"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

type memRegistry struct {
	mu      sync.RWMutex
	demo    bool
	session *types.SessionRecord
	pending *types.PendingAuth
}

// NewMemory crea un registry in-process (tests y modo efímero).
func NewMemory() Registry { return &memRegistry{} }

func (r *memRegistry) Active(ctx context.Context) (*types.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return nil, types.ErrNotFound
	}
	cp := *r.session
	return &cp, nil
}

func (r *memRegistry) Commit(ctx context.Context, rec types.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = &rec
	return nil
}

func (r *memRegistry) Invalidate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = nil
	return nil
}

func (r *memRegistry) SetPending(ctx context.Context, p types.PendingAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = &p
	return nil
}

func (r *memRegistry) Pending(ctx context.Context) (*types.PendingAuth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.pending == nil {
		return nil, types.ErrNotFound
	}
	cp := *r.pending
	return &cp, nil
}

func (r *memRegistry) ClearPending(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
	return nil
}

func (r *memRegistry) SetDemo(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.demo = enabled
	return nil
}

func (r *memRegistry) DemoEnabled(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.demo, nil
}
