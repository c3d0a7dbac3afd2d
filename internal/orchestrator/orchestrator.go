// Package orchestrator implementa la máquina de estados que maneja los
// modos de autenticación del portal: configure → authenticate →
// commit-o-rollback, con a lo sumo una operación en vuelo.
//
// El orquestador no tiene estado persistente propio: es un coordinador
// puro sobre CredentialStore y SessionRegistry (de los que es el único
// escritor) y el TokenProvider vigente.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/credstore"
	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/metrics"
	"github.com/dropDatabas3/doorman/internal/observability/logger"
	"github.com/dropDatabas3/doorman/internal/provider"
	"github.com/dropDatabas3/doorman/internal/resolver"
	"github.com/dropDatabas3/doorman/internal/sessionreg"
)

// State es el estado de la máquina.
type State string

const (
	StateUnconfigured   State = "Unconfigured"
	StateConfiguring    State = "Configuring"
	StateAuthenticating State = "Authenticating"
	StateActive         State = "Active"
	StateSigningOut     State = "SigningOut"
)

// Options ajusta los timeouts y el sesgo de commit.
type Options struct {
	// ActivationTimeout acota el paso de validación post-exchange.
	ActivationTimeout time.Duration
	// CommitOnTimeout: ante validación vencida con exchange exitoso y
	// señal corroborante del broker, commitear igual en vez de abortar.
	CommitOnTimeout bool
	// PendingTTL es la vida útil del marker de login federado en curso.
	PendingTTL time.Duration
}

// Result es el desenlace de Configure/Authenticate. Exactamente uno de
// Session o RedirectURL está seteado cuando no hay error.
type Result struct {
	Mode types.AuthMode
	// Session es la sesión commiteada (flujos no interactivos).
	Session *types.SessionRecord
	// RedirectURL indica que hace falta el round-trip interactivo.
	RedirectURL string
}

// Orchestrator coordina los stores, el resolver y los providers.
type Orchestrator struct {
	creds    credstore.Store
	sessions sessionreg.Registry
	resolver *resolver.Resolver
	factory  *provider.Factory
	broker   *broker.Client
	opts     Options
	log      *zap.Logger

	notifier notifier
	renew    singleflight.Group

	// op es el guard de operación en vuelo: semáforo binario, tomado
	// mientras una transición corre. Nunca se espera: el segundo caller
	// recibe OperationInProgress.
	op chan struct{}

	// smu protege el estado observable. Los writers lo toman brevemente
	// para cada mutación; ya están serializados entre sí por op.
	smu     sync.Mutex
	state   State
	current *types.SessionRecord // última sesión COMMITEADA, nunca parcial
	settled chan struct{}        // se cierra cuando la op en vuelo termina
}

// New crea el orquestador. Llamar Resume() después para rehidratar estado.
func New(creds credstore.Store, sessions sessionreg.Registry, res *resolver.Resolver,
	f *provider.Factory, b *broker.Client, opts Options) *Orchestrator {
	if opts.ActivationTimeout == 0 {
		opts.ActivationTimeout = 8 * time.Second
	}
	if opts.PendingTTL == 0 {
		opts.PendingTTL = 10 * time.Minute
	}
	settled := make(chan struct{})
	close(settled)
	return &Orchestrator{
		creds:    creds,
		sessions: sessions,
		resolver: res,
		factory:  f,
		broker:   b,
		opts:     opts,
		log:      logger.Named("orchestrator"),
		op:       make(chan struct{}, 1),
		state:    StateUnconfigured,
		settled:  settled,
	}
}

// OnStateChanged registra un listener del canal de notificaciones.
func (o *Orchestrator) OnStateChanged(l Listener) { o.notifier.subscribe(l) }

// ─── Guard de operación en vuelo ───

// begin toma el guard o falla con OperationInProgress. Nunca bloquea: dos
// transiciones concurrentes no se serializan en silencio, se rechazan.
func (o *Orchestrator) begin() error {
	select {
	case o.op <- struct{}{}:
		o.smu.Lock()
		o.settled = make(chan struct{})
		o.smu.Unlock()
		return nil
	default:
		return types.ErrOperationInProgress
	}
}

func (o *Orchestrator) end() {
	o.smu.Lock()
	close(o.settled)
	o.smu.Unlock()
	<-o.op
}

// Settled bloquea hasta que la operación en vuelo (si hay) termine. Lo usa
// el router para no resolver un cliente en medio de un commit.
func (o *Orchestrator) Settled(ctx context.Context) error {
	o.smu.Lock()
	ch := o.settled
	o.smu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentSession retorna la última sesión commiteada, nunca un valor de
// una transición todavía en vuelo.
func (o *Orchestrator) CurrentSession() *types.SessionRecord {
	o.smu.Lock()
	defer o.smu.Unlock()
	if o.current == nil {
		return nil
	}
	cp := *o.current
	return &cp
}

// CurrentState retorna el estado de la máquina.
func (o *Orchestrator) CurrentState() State {
	o.smu.Lock()
	defer o.smu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.smu.Lock()
	o.state = s
	o.smu.Unlock()
}

func (o *Orchestrator) setCommitted(rec *types.SessionRecord, s State) {
	o.smu.Lock()
	o.current = rec
	o.state = s
	o.smu.Unlock()
}

// ─── Commit helpers ───

// commitActive es el único camino de entrada a Active: primero el write
// durable al registry, después el evento. Exactamente un evento por
// transición commiteada.
func (o *Orchestrator) commitActive(ctx context.Context, rec types.SessionRecord) error {
	if err := o.sessions.Commit(ctx, rec); err != nil {
		return err
	}
	o.setCommitted(&rec, StateActive)
	metrics.TransitionsCommitted.WithLabelValues(string(rec.Mode)).Inc()
	metrics.SetActiveMode(string(rec.Mode))
	o.log.Info("session committed",
		zap.String("mode", string(rec.Mode)),
		zap.String("principal", rec.Identity.PrincipalName),
		zap.Bool("synthetic", rec.Identity.IsSynthetic))
	o.notifier.emit(Event{State: StateActive, Mode: rec.Mode, Session: &rec, At: time.Now()})
	return nil
}

// commitUnconfigured es el único camino de entrada a Unconfigured.
func (o *Orchestrator) commitUnconfigured(ctx context.Context) error {
	if err := o.sessions.Invalidate(ctx); err != nil {
		return err
	}
	o.setCommitted(nil, StateUnconfigured)
	metrics.SetActiveMode(string(types.AuthModeUnconfigured))
	o.log.Info("session cleared")
	o.notifier.emit(Event{State: StateUnconfigured, Mode: types.AuthModeUnconfigured, At: time.Now()})
	return nil
}

func (o *Orchestrator) failTransition(reason error) {
	var label string
	switch {
	case errors.Is(reason, types.ErrCredentialExchangeFailed):
		label = "credential_exchange_failed"
	case errors.Is(reason, types.ErrSessionActivationFailed):
		label = "session_activation_failed"
	case errors.Is(reason, types.ErrInteractiveSignInCancelled):
		label = "interactive_cancelled"
	case errors.Is(reason, types.ErrInvalidConfiguration):
		label = "invalid_configuration"
	default:
		label = "other"
	}
	metrics.TransitionsFailed.WithLabelValues(label).Inc()
}

// ─── Operaciones ───

// Configure valida y persiste la credencial, y si el modo resuelto admite
// autenticación no interactiva (ServicePrincipal, Brokered) sigue de largo
// hacia Authenticating dentro de la misma operación.
func (o *Orchestrator) Configure(ctx context.Context, cred types.TenantCredential) (*Result, error) {
	// Validación local: nunca toca red ni estado persistido.
	if !cred.Complete() {
		return nil, fmt.Errorf("%w: tenantId y applicationId son requeridos", types.ErrInvalidConfiguration)
	}

	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	prev := o.CurrentState()
	o.setState(StateConfiguring)

	if err := o.creds.Save(ctx, cred); err != nil {
		o.setState(prev)
		return nil, err
	}

	res, err := o.resolver.Resolve(ctx)
	if err != nil {
		o.setState(prev)
		return nil, err
	}

	switch res.Mode {
	case types.AuthModeServicePrincipal, types.AuthModeBrokered:
		ni, ok := res.Provider.(provider.NonInteractive)
		if !ok {
			o.setState(prev)
			return nil, fmt.Errorf("%w: modo %q", types.ErrInvalidConfiguration, res.Mode)
		}
		return o.exchangeAndActivateLocked(ctx, ni)
	default:
		// Federated queda esperando el login interactivo; no
		// auto-autenticamos sin interacción.
		o.setState(prev)
		return &Result{Mode: res.Mode}, nil
	}
}

// Authenticate dispara la secuencia de adquisición del modo dado.
func (o *Orchestrator) Authenticate(ctx context.Context, mode types.AuthMode) (*Result, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	// Un login federado pendiente cuenta como operación lógica en vuelo.
	if p, err := o.sessions.Pending(ctx); err == nil {
		if time.Since(p.StartedAt) < o.opts.PendingTTL {
			return nil, types.ErrOperationInProgress
		}
		_ = o.sessions.ClearPending(ctx) // marker abandonado
	}

	cred, err := o.creds.Load(ctx)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	p, err := o.factory.For(mode, cred)
	if err != nil {
		return nil, err
	}

	// Una sesión Demo solo es consistente con el flag prendido.
	if mode == types.AuthModeDemo {
		if err := o.sessions.SetDemo(ctx, true); err != nil {
			return nil, err
		}
	}

	switch prov := p.(type) {
	case provider.Interactive:
		return o.beginInteractiveLocked(ctx, prov)
	case provider.NonInteractive:
		return o.exchangeAndActivateLocked(ctx, prov)
	default:
		return nil, fmt.Errorf("%w: modo %q", types.ErrInvalidConfiguration, mode)
	}
}

// exchangeAndActivateLocked es el doble paso de los modos no interactivos:
// (a) exchange de credencial por handle, (b) validación/activación. Los dos
// tienen que andar antes del commit; si (a) anda y (b) falla, el handle
// parcial se descarta y el registry queda EXACTAMENTE como estaba.
func (o *Orchestrator) exchangeAndActivateLocked(ctx context.Context, prov provider.NonInteractive) (*Result, error) {
	prev := o.CurrentState()
	o.setState(StateAuthenticating)

	fail := func(err error) (*Result, error) {
		// Vuelta al estado previo: si esto era un switch de modo, la
		// sesión Active anterior sigue commiteada e intacta.
		o.setState(prev)
		o.failTransition(err)
		return nil, err
	}

	tok, err := prov.Exchange(ctx)
	if err != nil {
		return fail(err)
	}

	actCtx, cancel := context.WithTimeout(ctx, o.opts.ActivationTimeout)
	err = prov.Activate(actCtx, tok)
	cancel()

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(actCtx.Err(), context.DeadlineExceeded)
		if timedOut {
			metrics.ActivationTimeouts.Inc()
			// El exchange ya anduvo; si además el broker responde el
			// health probe, el vencimiento fue lentitud y no rechazo.
			if o.opts.CommitOnTimeout && o.broker.Reachable(ctx) {
				o.log.Warn("activation timed out, committing on corroborated exchange",
					zap.String("mode", string(prov.Mode())))
				tok.Activated = true
			} else {
				prov.Discard(ctx, tok)
				return fail(fmt.Errorf("%w: validación vencida", types.ErrSessionActivationFailed))
			}
		} else {
			prov.Discard(ctx, tok)
			if !errors.Is(err, types.ErrSessionActivationFailed) {
				err = fmt.Errorf("%w: %v", types.ErrSessionActivationFailed, err)
			}
			return fail(err)
		}
	}

	rec := sessionFromToken(prov.Mode(), tok)
	if err := o.commitActive(ctx, rec); err != nil {
		prov.Discard(ctx, tok)
		return fail(err)
	}
	return &Result{Mode: rec.Mode, Session: &rec}, nil
}

// beginInteractiveLocked persiste el marker y devuelve la URL de redirect.
// La operación lógica sigue viva a través del marker; el guard local se
// libera porque el proceso no puede quedarse tomado cruzando al IdP.
func (o *Orchestrator) beginInteractiveLocked(ctx context.Context, prov provider.Interactive) (*Result, error) {
	prev := o.CurrentState()
	o.setState(StateAuthenticating)

	authURL, pending, err := prov.Begin(ctx)
	if err != nil {
		o.setState(prev)
		o.failTransition(err)
		return nil, err
	}
	if err := o.sessions.SetPending(ctx, pending); err != nil {
		o.setState(prev)
		return nil, err
	}
	return &Result{Mode: prov.Mode(), RedirectURL: authURL}, nil
}

// CompleteFederated es el punto de entrada del callback: re-engancha la
// operación en vuelo vía el token de correlación persistido y termina el
// doble paso (canje de code + verificación) antes del commit.
func (o *Orchestrator) CompleteFederated(ctx context.Context, correlation, code string) (*Result, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	pending, err := o.sessions.Pending(ctx)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: no hay login en curso", types.ErrInteractiveSignInCancelled)
		}
		return nil, err
	}
	if pending.Correlation != correlation {
		return nil, fmt.Errorf("%w: correlación desconocida", types.ErrInteractiveSignInCancelled)
	}
	if time.Since(pending.StartedAt) >= o.opts.PendingTTL {
		_ = o.sessions.ClearPending(ctx)
		return nil, fmt.Errorf("%w: login vencido", types.ErrInteractiveSignInCancelled)
	}

	fed := o.factory.Federated()
	if fed == nil {
		return nil, fmt.Errorf("%w: idp no configurado", types.ErrInvalidConfiguration)
	}

	prev := o.CurrentState()
	o.setState(StateAuthenticating)
	tok, err := fed.Complete(ctx, *pending, code)
	if err != nil {
		o.setState(prev)
		_ = o.sessions.ClearPending(ctx)
		o.failTransition(err)
		return nil, err
	}

	if err := o.sessions.ClearPending(ctx); err != nil {
		o.log.Warn("clear pending failed", zap.Error(err))
	}

	rec := sessionFromToken(types.AuthModeFederated, tok)
	if err := o.commitActive(ctx, rec); err != nil {
		o.setState(prev)
		return nil, err
	}
	return &Result{Mode: rec.Mode, Session: &rec}, nil
}

// CancelFederated descarta un login interactivo abandonado. Sin evento:
// ninguna transición se commiteó.
func (o *Orchestrator) CancelFederated(ctx context.Context, correlation string) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	pending, err := o.sessions.Pending(ctx)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	if correlation != "" && pending.Correlation != correlation {
		return nil
	}
	// Vuelta al estado previo al login: si esto era un switch de modo, la
	// sesión Active anterior sigue commiteada y vigente.
	o.smu.Lock()
	if o.current != nil {
		o.state = StateActive
	} else {
		o.state = StateUnconfigured
	}
	o.smu.Unlock()
	o.failTransition(types.ErrInteractiveSignInCancelled)
	return o.sessions.ClearPending(ctx)
}

// SignOut invalida el provider del modo vigente, limpia el registry y
// vuelve a Unconfigured. La credencial queda: limpiarla es un Clear
// explícito del caller. Sobre Unconfigured es no-op sin error ni evento.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	cur := o.CurrentSession()
	if cur == nil {
		// Idempotente: nada que deshacer, nada que notificar.
		return nil
	}

	o.setState(StateSigningOut)

	cred, err := o.creds.Load(ctx)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		o.log.Warn("credential load during sign-out", zap.Error(err))
	}
	if p, perr := o.factory.For(cur.Mode, cred); perr == nil {
		// Revoke best effort: un broker caído no bloquea el sign-out local.
		if serr := p.SignOut(ctx, cur); serr != nil {
			o.log.Warn("provider revoke failed", zap.Error(serr))
		}
	}

	return o.commitUnconfigured(ctx)
}

// ClearCredential borra la credencial persistida. Separado de SignOut a
// propósito: cerrar sesión no implica olvidar la configuración.
func (o *Orchestrator) ClearCredential(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()
	return o.creds.Clear(ctx)
}

// EnableDemo prende el flag y fabrica la sesión sintética, todo local. No
// muta la credencial guardada: el flag demo le gana en el resolver.
func (o *Orchestrator) EnableDemo(ctx context.Context) (*Result, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	if err := o.sessions.SetDemo(ctx, true); err != nil {
		return nil, err
	}

	res, err := o.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	ni, ok := res.Provider.(provider.NonInteractive)
	if !ok || res.Mode != types.AuthModeDemo {
		return nil, fmt.Errorf("%w: demo no resuelto", types.ErrInvalidConfiguration)
	}
	return o.exchangeAndActivateLocked(ctx, ni)
}

// DisableDemo apaga el flag y cierra la sesión demo si está activa.
func (o *Orchestrator) DisableDemo(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	if err := o.sessions.SetDemo(ctx, false); err != nil {
		return err
	}
	cur := o.CurrentSession()
	if cur != nil && cur.Mode == types.AuthModeDemo {
		return o.commitUnconfigured(ctx)
	}
	return nil
}

// Resume rehidrata el estado al arrancar: restaura la sesión consistente
// si hay, limpia la que quedó inconsistente, y si el modo resuelto admite
// autenticación no interactiva la dispara solo.
func (o *Orchestrator) Resume(ctx context.Context) (*Result, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	res, err := o.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	if res.StaleSession != nil {
		o.log.Info("discarding stale session",
			zap.String("mode", string(res.StaleSession.Mode)))
		if err := o.sessions.Invalidate(ctx); err != nil {
			return nil, err
		}
	}

	if res.Session != nil {
		o.setCommitted(res.Session, StateActive)
		metrics.SetActiveMode(string(res.Session.Mode))
		o.log.Info("session restored",
			zap.String("mode", string(res.Session.Mode)),
			zap.String("principal", res.Session.Identity.PrincipalName))
		// La entrada a Active notifica también acá: los listeners (el
		// router entre ellos) recién conocen la sesión por este evento.
		o.notifier.emit(Event{State: StateActive, Mode: res.Session.Mode, Session: res.Session, At: time.Now()})
		return &Result{Mode: res.Mode, Session: res.Session}, nil
	}

	switch res.Mode {
	case types.AuthModeServicePrincipal, types.AuthModeDemo:
		// Elegibles para autenticación inmediata sin interacción.
		ni, ok := res.Provider.(provider.NonInteractive)
		if !ok {
			return nil, fmt.Errorf("%w: modo %q", types.ErrInvalidConfiguration, res.Mode)
		}
		return o.exchangeAndActivateLocked(ctx, ni)
	default:
		// Federated/Brokered sin sesión esperan un login explícito.
		o.setState(StateUnconfigured)
		return &Result{Mode: res.Mode}, nil
	}
}

// HandleExpired se invoca cuando una llamada protegida al directorio vino
// rechazada. Intenta renovación silenciosa (colapsando llamadas
// concurrentes) y si no puede, fuerza Unconfigured y notifica para que la
// UI pida re-autenticación.
func (o *Orchestrator) HandleExpired(ctx context.Context) (*types.SessionRecord, error) {
	v, err, _ := o.renew.Do("renew", func() (any, error) {
		if err := o.begin(); err != nil {
			// Ya hay una transición en curso; que el caller reintente
			// después de que asiente.
			return nil, err
		}
		defer o.end()

		cur := o.CurrentSession()
		if cur == nil {
			return nil, types.ErrSessionExpired
		}

		cred, err := o.creds.Load(ctx)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		p, err := o.factory.For(cur.Mode, cred)
		if err != nil {
			return nil, err
		}

		tok, rerr := p.Renew(ctx, cur)
		if rerr != nil {
			o.log.Info("silent renewal failed, forcing re-authentication",
				zap.String("mode", string(cur.Mode)), zap.Error(rerr))
			if cerr := o.commitUnconfigured(ctx); cerr != nil {
				return nil, cerr
			}
			return nil, types.ErrSessionExpired
		}

		rec := sessionFromToken(p.Mode(), tok)
		if err := o.commitActive(ctx, rec); err != nil {
			return nil, err
		}
		return &rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SessionRecord), nil
}

func sessionFromToken(mode types.AuthMode, tok *provider.Token) types.SessionRecord {
	return types.SessionRecord{
		Mode:      mode,
		Handle:    tok.Handle,
		Identity:  tok.Identity,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: tok.ExpiresAt,
	}
}
