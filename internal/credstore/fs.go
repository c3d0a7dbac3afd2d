package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/security/secretbox"
	"github.com/dropDatabas3/doorman/internal/util/atomicwrite"
)

const credentialFile = "credential.yaml"

// credentialYAML es la forma en disco. El secret va sellado, nunca plano.
type credentialYAML struct {
	TenantID        string `yaml:"tenant_id"`
	ApplicationID   string `yaml:"application_id"`
	SharedSecretEnc string `yaml:"shared_secret_enc,omitempty"`
}

type fsStore struct {
	mu   sync.RWMutex
	path string
}

// NewFS crea un store sobre filesystem en root/credential.yaml.
func NewFS(root string) (Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("credstore: mkdir %s: %w", root, err)
	}
	return &fsStore{path: filepath.Join(root, credentialFile)}, nil
}

func (s *fsStore) Save(ctx context.Context, cred types.TenantCredential) error {
	raw := credentialYAML{
		TenantID:      cred.TenantID,
		ApplicationID: cred.ApplicationID,
	}
	if cred.HasSecret() {
		enc, err := secretbox.Seal(cred.SharedSecret)
		if err != nil {
			return fmt.Errorf("credstore: seal secret: %w", err)
		}
		raw.SharedSecretEnc = enc
	}

	data, err := yaml.Marshal(&raw)
	if err != nil {
		return fmt.Errorf("credstore: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicwrite.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *fsStore) Load(ctx context.Context) (*types.TenantCredential, error) {
	s.mu.RLock()
	data, err := os.ReadFile(s.path)
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}

	var raw credentialYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		// Archivo corrupto = store fuera de servicio, misma categoría
		// que un read fallido.
		return nil, fmt.Errorf("%w: parse %s: %v", types.ErrStoreUnavailable, s.path, err)
	}

	cred := &types.TenantCredential{
		TenantID:      raw.TenantID,
		ApplicationID: raw.ApplicationID,
	}
	if raw.SharedSecretEnc != "" {
		secret, err := secretbox.Open(raw.SharedSecretEnc)
		if err != nil {
			return nil, fmt.Errorf("credstore: open secret: %w", err)
		}
		cred.SharedSecret = secret
	}
	return cred, nil
}

func (s *fsStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}
