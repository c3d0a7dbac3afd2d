package provider

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// ServicePrincipal autentica con client-credentials: el shared secret viaja
// al broker una sola vez, en el exchange; después solo circula el handle.
type ServicePrincipal struct {
	broker *broker.Client
	cred   types.TenantCredential
}

// NewServicePrincipal crea el provider para la credencial dada. La
// credencial tiene que estar completa y con secret.
func NewServicePrincipal(b *broker.Client, cred types.TenantCredential) (*ServicePrincipal, error) {
	if !cred.Complete() || !cred.HasSecret() {
		return nil, fmt.Errorf("%w: service principal requiere tenant, application y secret", types.ErrInvalidConfiguration)
	}
	return &ServicePrincipal{broker: b, cred: cred}, nil
}

func (p *ServicePrincipal) Mode() types.AuthMode { return types.AuthModeServicePrincipal }

func (p *ServicePrincipal) Exchange(ctx context.Context) (*Token, error) {
	resp, err := p.broker.Exchange(ctx, broker.ExchangeRequest{
		TenantID:      p.cred.TenantID,
		ApplicationID: p.cred.ApplicationID,
		SharedSecret:  p.cred.SharedSecret,
	})
	if err != nil {
		return nil, err
	}
	identity := resp.Identity
	identity.AuthMode = types.AuthModeServicePrincipal
	if identity.PrincipalName == "" {
		// Identidad app-only: el principal es la aplicación, no un usuario.
		identity.PrincipalName = p.cred.ApplicationID + "@" + p.cred.TenantID
	}
	return &Token{
		Handle:    resp.Handle,
		Identity:  identity,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

func (p *ServicePrincipal) Activate(ctx context.Context, tok *Token) error {
	resp, err := p.broker.Validate(ctx, tok.Handle)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSessionActivationFailed, err)
	}
	if !resp.Valid {
		return fmt.Errorf("%w: broker rechazó el handle", types.ErrSessionActivationFailed)
	}
	if resp.Identity.PrincipalName != "" {
		resp.Identity.AuthMode = types.AuthModeServicePrincipal
		tok.Identity = resp.Identity
	}
	tok.Activated = true
	return nil
}

func (p *ServicePrincipal) Discard(ctx context.Context, tok *Token) {
	_ = p.broker.Revoke(ctx, tok.Handle)
}

func (p *ServicePrincipal) IsValid(ctx context.Context, rec *types.SessionRecord) bool {
	if rec == nil || rec.Mode != types.AuthModeServicePrincipal {
		return false
	}
	resp, err := p.broker.Validate(ctx, rec.Handle)
	return err == nil && resp.Valid
}

func (p *ServicePrincipal) SignOut(ctx context.Context, rec *types.SessionRecord) error {
	return p.broker.Revoke(ctx, rec.Handle)
}

// Renew re-canjea el secret silenciosamente: client-credentials no necesita
// interacción, así que una sesión expirada se reconstruye entera.
func (p *ServicePrincipal) Renew(ctx context.Context, rec *types.SessionRecord) (*Token, error) {
	tok, err := p.Exchange(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Activate(ctx, tok); err != nil {
		p.Discard(ctx, tok)
		return nil, err
	}
	return tok, nil
}
