package provider

import (
	"fmt"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/idp"
)

// Factory construye el TokenProvider de cada modo. Federated y Demo son
// singletons (federated guarda material de tokens en memoria); los modos de
// broker se reconstruyen por credencial.
type Factory struct {
	broker    *broker.Client
	federated *Federated
	demo      *Demo
}

// NewFactory crea la fábrica. oidc puede ser nil si no hay IdP configurado.
func NewFactory(b *broker.Client, oidc *idp.OIDC) *Factory {
	f := &Factory{broker: b, demo: NewDemo()}
	if oidc != nil {
		f.federated = NewFederated(oidc)
	}
	return f
}

// Federated retorna el provider federado singleton, o nil si no hay IdP.
func (f *Factory) Federated() *Federated { return f.federated }

// For retorna el provider del modo para la credencial dada.
func (f *Factory) For(mode types.AuthMode, cred *types.TenantCredential) (TokenProvider, error) {
	switch mode {
	case types.AuthModeDemo:
		return f.demo, nil
	case types.AuthModeFederated:
		if f.federated == nil {
			return nil, fmt.Errorf("%w: idp no configurado", types.ErrInvalidConfiguration)
		}
		return f.federated, nil
	case types.AuthModeServicePrincipal:
		if cred == nil {
			return nil, fmt.Errorf("%w: falta credencial", types.ErrInvalidConfiguration)
		}
		return NewServicePrincipal(f.broker, *cred)
	case types.AuthModeBrokered:
		if cred == nil {
			return nil, fmt.Errorf("%w: falta credencial", types.ErrInvalidConfiguration)
		}
		return NewBrokered(f.broker, *cred)
	}
	return nil, fmt.Errorf("%w: modo %q", types.ErrInvalidConfiguration, mode)
}
