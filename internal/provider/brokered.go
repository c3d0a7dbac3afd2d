package provider

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// Brokered delega todo al session broker: las credenciales viven cifradas
// server-side y el cliente solo conoce un handle opaco. Sin material de
// token local, por diseño.
type Brokered struct {
	broker *broker.Client
	cred   types.TenantCredential
}

// NewBrokered crea el provider. La credencial tiene que estar completa; el
// secret, si existe, NO se manda: esa es la diferencia con ServicePrincipal.
func NewBrokered(b *broker.Client, cred types.TenantCredential) (*Brokered, error) {
	if !cred.Complete() {
		return nil, fmt.Errorf("%w: brokered requiere tenant y application", types.ErrInvalidConfiguration)
	}
	return &Brokered{broker: b, cred: cred}, nil
}

func (p *Brokered) Mode() types.AuthMode { return types.AuthModeBrokered }

func (p *Brokered) Exchange(ctx context.Context) (*Token, error) {
	resp, err := p.broker.Exchange(ctx, broker.ExchangeRequest{
		TenantID:      p.cred.TenantID,
		ApplicationID: p.cred.ApplicationID,
	})
	if err != nil {
		return nil, err
	}
	identity := resp.Identity
	identity.AuthMode = types.AuthModeBrokered
	return &Token{
		Handle:    resp.Handle,
		Identity:  identity,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

func (p *Brokered) Activate(ctx context.Context, tok *Token) error {
	resp, err := p.broker.Validate(ctx, tok.Handle)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSessionActivationFailed, err)
	}
	if !resp.Valid {
		return fmt.Errorf("%w: broker rechazó el handle", types.ErrSessionActivationFailed)
	}
	if resp.Identity.PrincipalName != "" {
		resp.Identity.AuthMode = types.AuthModeBrokered
		tok.Identity = resp.Identity
	}
	tok.Activated = true
	return nil
}

func (p *Brokered) Discard(ctx context.Context, tok *Token) {
	_ = p.broker.Revoke(ctx, tok.Handle)
}

func (p *Brokered) IsValid(ctx context.Context, rec *types.SessionRecord) bool {
	if rec == nil || rec.Mode != types.AuthModeBrokered {
		return false
	}
	resp, err := p.broker.Validate(ctx, rec.Handle)
	return err == nil && resp.Valid
}

func (p *Brokered) SignOut(ctx context.Context, rec *types.SessionRecord) error {
	return p.broker.Revoke(ctx, rec.Handle)
}

// Renew pide al broker re-emitir el handle. Si el broker ya lo olvidó, la
// sesión está expirada de verdad.
func (p *Brokered) Renew(ctx context.Context, rec *types.SessionRecord) (*Token, error) {
	resp, err := p.broker.Refresh(ctx, rec.Handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSessionExpired, err)
	}
	identity := resp.Identity
	identity.AuthMode = types.AuthModeBrokered
	return &Token{
		Handle:    resp.Handle,
		Identity:  identity,
		ExpiresAt: resp.ExpiresAt,
		Activated: true,
	}, nil
}
