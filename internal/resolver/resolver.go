// Package resolver decide determinísticamente qué modo de autenticación
// está activo. Es LA fuente de verdad: orquestador y router consultan acá
// en vez de chequear "¿hay secret guardado?" por su cuenta.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/credstore"
	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/provider"
	"github.com/dropDatabas3/doorman/internal/sessionreg"
)

// Resolution es el resultado de un resolve.
type Resolution struct {
	Mode types.AuthMode
	// Provider del modo resuelto. Nil cuando Unconfigured.
	Provider provider.TokenProvider
	// Session es la sesión activa que sostiene el modo (solo regla 1).
	Session *types.SessionRecord
	// Credential es lo que haya en el credential store (puede ser nil).
	Credential *types.TenantCredential
	// StaleSession es una sesión encontrada pero expirada o inconsistente
	// con la credencial actual. El resolver no escribe: la limpieza es del
	// orquestador.
	StaleSession *types.SessionRecord
}

// Resolver evalúa la cadena de prioridades sobre los dos stores.
type Resolver struct {
	creds    credstore.Store
	sessions sessionreg.Registry
	broker   *broker.Client
	factory  *provider.Factory
	now      func() time.Time
}

// New crea el resolver.
func New(creds credstore.Store, sessions sessionreg.Registry, b *broker.Client, f *provider.Factory) *Resolver {
	return &Resolver{creds: creds, sessions: sessions, broker: b, factory: f, now: time.Now}
}

// Resolve aplica el orden de prioridad, de arriba hacia abajo, primera
// coincidencia gana:
//
//  1. sesión activa, no expirada y consistente con la credencial → su modo
//  2. flag demo → Demo
//  3. credencial completa con secret → ServicePrincipal
//  4. credencial completa sin secret → Brokered si el broker responde,
//     si no Federated
//  5. nada → Unconfigured
//
// El orden garantiza que un reload nunca degrada una sesión fuerte ya
// establecida, pero deja que configuración nueva tome efecto si no hay
// sesión.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	res := &Resolution{Mode: types.AuthModeUnconfigured}

	cred, err := r.creds.Load(ctx)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	res.Credential = cred

	demo, err := r.sessions.DemoEnabled(ctx)
	if err != nil {
		return nil, err
	}

	// Regla 1: sesión activa consistente.
	sess, err := r.sessions.Active(ctx)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if sess != nil {
		if sess.Expired(r.now()) || !r.consistent(sess, cred, demo) {
			res.StaleSession = sess
		} else {
			p, err := r.factory.For(sess.Mode, cred)
			if err != nil && !errors.Is(err, types.ErrInvalidConfiguration) {
				return nil, err
			}
			res.Mode = sess.Mode
			res.Provider = p
			res.Session = sess
			return res, nil
		}
	}

	// Regla 2: demo explícito.
	if demo {
		res.Mode = types.AuthModeDemo
		res.Provider, _ = r.factory.For(types.AuthModeDemo, nil)
		return res, nil
	}

	if cred == nil || !cred.Complete() {
		return res, nil // Regla 5
	}

	// Regla 3: secret presente → ServicePrincipal, elegible para
	// autenticación inmediata no interactiva.
	if cred.HasSecret() {
		p, err := r.factory.For(types.AuthModeServicePrincipal, cred)
		if err != nil {
			return nil, err
		}
		res.Mode = types.AuthModeServicePrincipal
		res.Provider = p
		return res, nil
	}

	// Regla 4: sin secret → Brokered si hay broker alcanzable, si no
	// Federated (requiere sign-on delegado).
	mode := types.AuthModeFederated
	if r.broker.Reachable(ctx) {
		mode = types.AuthModeBrokered
	}
	// Sin IdP cableado el modo federado igual se reporta; el provider
	// queda nil y autenticar fallará con el error de configuración.
	p, err := r.factory.For(mode, cred)
	if err != nil && !errors.Is(err, types.ErrInvalidConfiguration) {
		return nil, err
	}
	res.Mode = mode
	res.Provider = p
	return res, nil
}

// consistent chequea la coherencia interna sesión ↔︎ stores: una sesión
// ServicePrincipal exige que el secret siga presente; una Demo exige el
// flag demo; los modos de credencial exigen credencial completa.
func (r *Resolver) consistent(sess *types.SessionRecord, cred *types.TenantCredential, demo bool) bool {
	switch sess.Mode {
	case types.AuthModeDemo:
		return demo
	case types.AuthModeServicePrincipal:
		return cred != nil && cred.Complete() && cred.HasSecret()
	case types.AuthModeFederated, types.AuthModeBrokered:
		return cred != nil && cred.Complete()
	}
	return false
}
