package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/idp"
)

// Federated implementa el sign-on delegado interactivo/silencioso contra el
// identity provider. El access/refresh token NUNCA sale del proceso: el
// SessionRecord persiste solo el handle, y el material se re-adquiere
// (silent o interactivo) tras un reinicio.
type Federated struct {
	oidc *idp.OIDC

	mu       sync.RWMutex
	material map[string]*federatedMaterial // handle → tokens
}

type federatedMaterial struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewFederated crea el provider sobre el cliente OIDC dado.
func NewFederated(oidc *idp.OIDC) *Federated {
	return &Federated{
		oidc:     oidc,
		material: make(map[string]*federatedMaterial),
	}
}

func (p *Federated) Mode() types.AuthMode { return types.AuthModeFederated }

// Begin arma la URL de autorización. El state es el token de correlación
// del marker persistido: el callback lo usa para re-enganchar esta
// operación aunque medie una navegación completa.
func (p *Federated) Begin(ctx context.Context) (string, types.PendingAuth, error) {
	pending := types.PendingAuth{
		Correlation: uuid.NewString(),
		Mode:        types.AuthModeFederated,
		Nonce:       uuid.NewString(),
		StartedAt:   time.Now().UTC(),
	}
	authURL, err := p.oidc.AuthURL(ctx, pending.Correlation, pending.Nonce)
	if err != nil {
		return "", types.PendingAuth{}, err
	}
	return authURL, pending, nil
}

// Complete canjea el code y verifica el id_token contra el nonce del marker.
func (p *Federated) Complete(ctx context.Context, pending types.PendingAuth, code string) (*Token, error) {
	tr, err := p.oidc.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCredentialExchangeFailed, err)
	}
	claims, err := p.oidc.VerifyIDToken(ctx, tr.IDToken, pending.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSessionActivationFailed, err)
	}
	return p.storeTokens(tr, claims), nil
}

func (p *Federated) storeTokens(tr *idp.TokenResponse, claims *idp.IDClaims) *Token {
	handle := "fed-" + uuid.NewString()
	expiresAt := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	p.mu.Lock()
	p.material[handle] = &federatedMaterial{
		accessToken:  tr.AccessToken,
		refreshToken: tr.RefreshTok,
		expiresAt:    expiresAt,
	}
	p.mu.Unlock()

	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	exp := expiresAt
	return &Token{
		Handle: handle,
		Identity: types.IdentitySummary{
			DisplayName:   name,
			PrincipalName: claims.Email,
			AuthMode:      types.AuthModeFederated,
		},
		ExpiresAt: &exp,
		Refresh:   tr.RefreshTok,
		Activated: true,
	}
}

// Bearer retorna el access token vigente para un handle, si existe.
func (p *Federated) Bearer(handle string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.material[handle]
	if !ok || time.Now().After(m.expiresAt) {
		return "", false
	}
	return m.accessToken, true
}

func (p *Federated) IsValid(ctx context.Context, rec *types.SessionRecord) bool {
	if rec == nil || rec.Mode != types.AuthModeFederated {
		return false
	}
	_, ok := p.Bearer(rec.Handle)
	return ok
}

func (p *Federated) SignOut(ctx context.Context, rec *types.SessionRecord) error {
	p.mu.Lock()
	delete(p.material, rec.Handle)
	p.mu.Unlock()
	// El sign-out del IdP es front-channel; no hay revoke back-channel acá.
	return nil
}

// Renew intenta la renovación silenciosa con el refresh token. Si no hay
// material (p.ej. reinicio del proceso), hace falta interacción de nuevo.
func (p *Federated) Renew(ctx context.Context, rec *types.SessionRecord) (*Token, error) {
	p.mu.RLock()
	m, ok := p.material[rec.Handle]
	p.mu.RUnlock()
	if !ok || m.refreshToken == "" {
		return nil, types.ErrSessionExpired
	}

	tr, err := p.oidc.RefreshToken(ctx, m.refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSessionExpired, err)
	}
	claims, err := p.oidc.VerifyIDToken(ctx, tr.IDToken, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSessionExpired, err)
	}

	p.mu.Lock()
	delete(p.material, rec.Handle)
	p.mu.Unlock()

	return p.storeTokens(tr, claims), nil
}
