package sessionreg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/util/atomicwrite"
)

const sessionFile = "session.yaml"

// stateYAML es el documento completo en disco. Se escribe entero en cada
// cambio: el archivo chico y la escritura atómica hacen innecesario un
// formato incremental.
type stateYAML struct {
	Demo    bool                 `yaml:"demo,omitempty"`
	Session *types.SessionRecord `yaml:"session,omitempty"`
	Pending *types.PendingAuth   `yaml:"pending,omitempty"`
}

type fsRegistry struct {
	mu   sync.RWMutex
	path string
}

// NewFS crea un registry sobre filesystem en root/session.yaml.
func NewFS(root string) (Registry, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("sessionreg: mkdir %s: %w", root, err)
	}
	return &fsRegistry{path: filepath.Join(root, sessionFile)}, nil
}

func (r *fsRegistry) load() (*stateYAML, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &stateYAML{}, nil
		}
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	var st stateYAML
	if err := yaml.Unmarshal(data, &st); err != nil {
		// Archivo corrupto = store fuera de servicio, misma categoría
		// que un read fallido.
		return nil, fmt.Errorf("%w: parse %s: %v", types.ErrStoreUnavailable, r.path, err)
	}
	return &st, nil
}

func (r *fsRegistry) save(st *stateYAML) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("sessionreg: marshal: %w", err)
	}
	if err := atomicwrite.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *fsRegistry) mutate(fn func(*stateYAML)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.load()
	if err != nil {
		return err
	}
	fn(st)
	return r.save(st)
}

func (r *fsRegistry) Active(ctx context.Context) (*types.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, err := r.load()
	if err != nil {
		return nil, err
	}
	if st.Session == nil {
		return nil, types.ErrNotFound
	}
	cp := *st.Session
	return &cp, nil
}

func (r *fsRegistry) Commit(ctx context.Context, rec types.SessionRecord) error {
	return r.mutate(func(st *stateYAML) { st.Session = &rec })
}

func (r *fsRegistry) Invalidate(ctx context.Context) error {
	return r.mutate(func(st *stateYAML) { st.Session = nil })
}

func (r *fsRegistry) SetPending(ctx context.Context, p types.PendingAuth) error {
	return r.mutate(func(st *stateYAML) { st.Pending = &p })
}

func (r *fsRegistry) Pending(ctx context.Context) (*types.PendingAuth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, err := r.load()
	if err != nil {
		return nil, err
	}
	if st.Pending == nil {
		return nil, types.ErrNotFound
	}
	cp := *st.Pending
	return &cp, nil
}

func (r *fsRegistry) ClearPending(ctx context.Context) error {
	return r.mutate(func(st *stateYAML) { st.Pending = nil })
}

func (r *fsRegistry) SetDemo(ctx context.Context, enabled bool) error {
	return r.mutate(func(st *stateYAML) { st.Demo = enabled })
}

func (r *fsRegistry) DemoEnabled(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, err := r.load()
	if err != nil {
		return false, err
	}
	return st.Demo, nil
}
