// Package router resuelve qué cliente de directorio corresponde al modo
// de autenticación activo. Demo sirve datos sintéticos locales; el resto
// va contra el servicio real con el bearer que el modo sepa producir.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/doorman/internal/directory"
	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/observability/logger"
	"github.com/dropDatabas3/doorman/internal/orchestrator"
	"github.com/dropDatabas3/doorman/internal/provider"
)

// ServiceRouter cachea el cliente vigente y lo reconstruye con cada
// transición commiteada. Escucha el canal de eventos del orquestador, no
// adivina el modo por su cuenta.
type ServiceRouter struct {
	orch    *orchestrator.Orchestrator
	fed     *provider.Federated // nil si no hay IdP
	baseURL string
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	mode   types.AuthMode
	client directory.Client
}

// New crea el router y lo suscribe al orquestador.
func New(orch *orchestrator.Orchestrator, fed *provider.Federated, directoryURL string, timeout time.Duration) *ServiceRouter {
	r := &ServiceRouter{
		orch:    orch,
		fed:     fed,
		baseURL: directoryURL,
		timeout: timeout,
		log:     logger.Named("router"),
		mode:    types.AuthModeUnconfigured,
	}
	orch.OnStateChanged(r.onStateChanged)
	return r
}

// onStateChanged corre sincrónicamente dentro del commit: para cuando la
// operación asienta, el cliente cacheado ya es el del modo nuevo.
func (r *ServiceRouter) onStateChanged(ev orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mode = ev.Mode
	switch ev.Mode {
	case types.AuthModeUnconfigured:
		r.client = nil
	case types.AuthModeDemo:
		r.client = directory.NewDemo()
	default:
		r.client = directory.NewREST(r.baseURL, r.timeout, r.tokenSource(ev.Mode))
	}
	r.log.Debug("directory client rebuilt", zap.String("mode", string(ev.Mode)))
}

// tokenSource arma el productor de bearer del modo. Federated usa el
// access token que guarda su provider; los modos de broker mandan el
// handle opaco tal cual, el backend lo valida contra el broker.
func (r *ServiceRouter) tokenSource(mode types.AuthMode) directory.TokenSource {
	return func(ctx context.Context) (string, error) {
		sess := r.orch.CurrentSession()
		if sess == nil || sess.Mode != mode {
			return "", types.ErrSessionExpired
		}
		if mode == types.AuthModeFederated {
			if r.fed == nil {
				return "", types.ErrSessionExpired
			}
			tok, ok := r.fed.Bearer(sess.Handle)
			if !ok {
				return "", types.ErrSessionExpired
			}
			return tok, nil
		}
		return sess.Handle, nil
	}
}

// Client retorna el cliente del modo activo. Espera a que cualquier
// transición en vuelo asiente antes de responder, así nunca entrega un
// cliente del modo saliente en medio de un switch.
func (r *ServiceRouter) Client(ctx context.Context) (directory.Client, error) {
	if err := r.orch.Settled(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, fmt.Errorf("%w: sin sesión activa", types.ErrInvalidConfiguration)
	}
	return r.client, nil
}

// Mode retorna el modo que el router tiene cacheado.
func (r *ServiceRouter) Mode() types.AuthMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Do ejecuta la llamada con el cliente vigente y, ante SessionExpired,
// intenta UNA renovación silenciosa antes de reintentar. Si la renovación
// también falla, el error sube y la UI pide re-autenticación.
func (r *ServiceRouter) Do(ctx context.Context, fn func(directory.Client) error) error {
	c, err := r.Client(ctx)
	if err != nil {
		return err
	}
	err = fn(c)
	if err == nil || !errors.Is(err, types.ErrSessionExpired) {
		return err
	}

	if _, rerr := r.orch.HandleExpired(ctx); rerr != nil {
		return rerr
	}
	c, err = r.Client(ctx)
	if err != nil {
		return err
	}
	return fn(c)
}
