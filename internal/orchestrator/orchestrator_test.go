package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/cache"
	"github.com/dropDatabas3/doorman/internal/credstore"
	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/provider"
	"github.com/dropDatabas3/doorman/internal/resolver"
	"github.com/dropDatabas3/doorman/internal/sessionreg"
)

// fakeBroker simula el session broker: emite handles, los valida y deja
// inspeccionar qué pasó.
type fakeBroker struct {
	mu        sync.Mutex
	exchanges int
	revoked   []string
	// comportamiento configurable por test
	rejectValidate bool
	validateDelay  time.Duration
	healthy        bool
}

func (f *fakeBroker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ok := f.healthy
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.exchanges++
		n := f.exchanges
		f.mu.Unlock()
		var req broker.ExchangeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(broker.ExchangeResponse{
			Handle: "h-" + req.ApplicationID + "-" + strconv.Itoa(n),
			Identity: types.IdentitySummary{
				DisplayName:   "Broker Principal",
				PrincipalName: req.ApplicationID + "@" + req.TenantID,
			},
		})
	})
	mux.HandleFunc("POST /v1/sessions/{handle}/validate", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		reject := f.rejectValidate
		delay := f.validateDelay
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if reject {
			_ = json.NewEncoder(w).Encode(broker.ValidateResponse{Valid: false})
			return
		}
		_ = json.NewEncoder(w).Encode(broker.ValidateResponse{Valid: true})
	})
	mux.HandleFunc("DELETE /v1/sessions/{handle}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.revoked = append(f.revoked, r.PathValue("handle"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

type fixture struct {
	orch     *Orchestrator
	creds    credstore.Store
	sessions sessionreg.Registry
	fb       *fakeBroker
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	fb := &fakeBroker{healthy: true}
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	// probeTTL cero: cada Reachable pega al fake, sin cache entre tests
	bc := broker.New(srv.URL, 2*time.Second, cache.NewMemory(time.Minute), 1*time.Millisecond)

	creds := credstore.NewMemory()
	sessions := sessionreg.NewMemory()
	factory := provider.NewFactory(bc, nil)
	res := resolver.New(creds, sessions, bc, factory)

	if opts.ActivationTimeout == 0 {
		opts.ActivationTimeout = time.Second
	}
	orch := New(creds, sessions, res, factory, bc, opts)

	log := &eventLog{}
	orch.OnStateChanged(log.record)

	return &fixture{orch: orch, creds: creds, sessions: sessions, fb: fb, events: log}
}

func spCred() types.TenantCredential {
	return types.TenantCredential{
		TenantID:      "contoso",
		ApplicationID: "hr-portal",
		SharedSecret:  "s3cret",
	}
}

func TestConfigure_InvalidCredentialRejectedLocally(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.orch.Configure(ctx, types.TenantCredential{TenantID: "solo-tenant"})
	if !errors.Is(err, types.ErrInvalidConfiguration) {
		t.Fatalf("want ErrInvalidConfiguration, got %v", err)
	}
	// Nada persistido, nada notificado.
	if _, err := f.creds.Load(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("credential should not be saved, got %v", err)
	}
	if got := f.events.all(); len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}

func TestConfigure_WithSecretAutoAuthenticates(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.orch.Configure(ctx, spCred())
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if res.Mode != types.AuthModeServicePrincipal {
		t.Fatalf("mode = %s", res.Mode)
	}
	if res.Session == nil {
		t.Fatal("expected committed session")
	}

	// El registry tiene exactamente la sesión commiteada.
	active, err := f.sessions.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.Handle != res.Session.Handle {
		t.Fatalf("registry handle %q != result %q", active.Handle, res.Session.Handle)
	}

	evs := f.events.all()
	if len(evs) != 1 || evs[0].State != StateActive || evs[0].Mode != types.AuthModeServicePrincipal {
		t.Fatalf("expected single Active event, got %+v", evs)
	}
	if f.orch.CurrentState() != StateActive {
		t.Fatalf("state = %s", f.orch.CurrentState())
	}
}

func TestAuthenticate_RollbackOnActivationFailure(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	// Primero una sesión buena.
	if _, err := f.orch.Configure(ctx, spCred()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	before, _ := f.sessions.Active(ctx)

	// Ahora el broker rechaza la validación: exchange ok, activación no.
	f.fb.mu.Lock()
	f.fb.rejectValidate = true
	f.fb.mu.Unlock()

	_, err := f.orch.Authenticate(ctx, types.AuthModeServicePrincipal)
	if !errors.Is(err, types.ErrSessionActivationFailed) {
		t.Fatalf("want ErrSessionActivationFailed, got %v", err)
	}

	// La sesión previa sobrevive intacta: cambio de modo fallido no la toca.
	after, err := f.sessions.Active(ctx)
	if err != nil {
		t.Fatalf("active after rollback: %v", err)
	}
	if after.Handle != before.Handle {
		t.Fatalf("previous session lost: %q -> %q", before.Handle, after.Handle)
	}
	if f.orch.CurrentState() != StateActive {
		t.Fatalf("state after rollback = %s", f.orch.CurrentState())
	}

	// El handle a medio crear fue descartado contra el broker.
	f.fb.mu.Lock()
	revoked := len(f.fb.revoked)
	f.fb.mu.Unlock()
	if revoked == 0 {
		t.Fatal("partial handle was not revoked")
	}

	// Un solo evento: el del commit original. El fracaso no notifica.
	if evs := f.events.all(); len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
}

func TestSignOut_OnUnconfiguredIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.orch.SignOut(ctx); err != nil {
		t.Fatalf("sign-out should be idempotent, got %v", err)
	}
	if got := f.events.all(); len(got) != 0 {
		t.Fatalf("no-op sign-out emitted %d events", len(got))
	}
}

func TestSignOut_ClearsSessionKeepsCredential(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.orch.Configure(ctx, spCred()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := f.orch.SignOut(ctx); err != nil {
		t.Fatalf("sign-out: %v", err)
	}

	if _, err := f.sessions.Active(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
	// La credencial queda: configure + sign-out no la borra.
	cred, err := f.creds.Load(ctx)
	if err != nil {
		t.Fatalf("credential should survive sign-out: %v", err)
	}
	if cred.TenantID != "contoso" {
		t.Fatalf("credential mutated: %+v", cred)
	}

	evs := f.events.all()
	if len(evs) != 2 || evs[1].State != StateUnconfigured {
		t.Fatalf("expected Active then Unconfigured, got %+v", evs)
	}
}

func TestEnableDemo_SyntheticSessionWithoutTouchingCredential(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	// Credencial guardada directo al store, sin pasar por Configure.
	if err := f.creds.Save(ctx, spCred()); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := f.orch.EnableDemo(ctx)
	if err != nil {
		t.Fatalf("enable demo: %v", err)
	}
	if res.Mode != types.AuthModeDemo {
		t.Fatalf("mode = %s", res.Mode)
	}
	if !res.Session.Identity.IsSynthetic {
		t.Fatal("demo identity must be synthetic")
	}

	// La credencial quedó byte a byte como estaba.
	cred, err := f.creds.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cred != spCred() {
		t.Fatalf("credential mutated by demo: %+v", cred)
	}

	// Y el broker nunca se enteró.
	f.fb.mu.Lock()
	exchanges := f.fb.exchanges
	f.fb.mu.Unlock()
	if exchanges != 0 {
		t.Fatalf("demo hit the network: %d exchanges", exchanges)
	}
}

func TestDisableDemo_SignsOutDemoSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.orch.EnableDemo(ctx); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := f.orch.DisableDemo(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if f.orch.CurrentSession() != nil {
		t.Fatal("demo session should be gone")
	}
	if on, _ := f.sessions.DemoEnabled(ctx); on {
		t.Fatal("demo flag still set")
	}
}

func TestAuthenticate_ConcurrentSecondOperationRejected(t *testing.T) {
	f := newFixture(t, Options{ActivationTimeout: 2 * time.Second})
	ctx := context.Background()

	if err := f.creds.Save(ctx, spCred()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Validación lenta para mantener la primera operación en vuelo.
	f.fb.mu.Lock()
	f.fb.validateDelay = 300 * time.Millisecond
	f.fb.mu.Unlock()

	var rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Authenticate(ctx, types.AuthModeServicePrincipal)
			if errors.Is(err, types.ErrOperationInProgress) {
				rejected.Add(1)
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if rejected.Load() != 1 {
		t.Fatalf("want exactly 1 rejection, got %d", rejected.Load())
	}
	// Exactamente un commit, exactamente un evento.
	if evs := f.events.all(); len(evs) != 1 {
		t.Fatalf("want 1 event, got %d", len(evs))
	}
}

func TestResume_RestoresConsistentSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.creds.Save(ctx, spCred()); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := types.SessionRecord{
		Mode:   types.AuthModeServicePrincipal,
		Handle: "h-persisted",
		Identity: types.IdentitySummary{
			PrincipalName: "hr-portal@contoso",
			AuthMode:      types.AuthModeServicePrincipal,
		},
		IssuedAt: time.Now().UTC(),
	}
	if err := f.sessions.Commit(ctx, rec); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, err := f.orch.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.Session == nil || res.Session.Handle != "h-persisted" {
		t.Fatalf("expected persisted session back, got %+v", res)
	}
	// La restauración entra a Active y notifica una sola vez: sin el
	// evento los listeners arrancarían desincronizados de la sesión.
	evs := f.events.all()
	if len(evs) != 1 || evs[0].State != StateActive || evs[0].Session == nil ||
		evs[0].Session.Handle != "h-persisted" {
		t.Fatalf("expected single Active event with the restored session, got %+v", evs)
	}
	if f.orch.CurrentState() != StateActive {
		t.Fatalf("state = %s", f.orch.CurrentState())
	}
}

func TestConfigure_SecretlessThenSignOutLeavesStoresUntouched(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	// Broker caído: la credencial sin secret resuelve a Federated, que
	// espera el login interactivo. Configure no autentica nada.
	f.fb.mu.Lock()
	f.fb.healthy = false
	f.fb.mu.Unlock()

	cred := spCred()
	cred.SharedSecret = ""
	res, err := f.orch.Configure(ctx, cred)
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if res.Mode != types.AuthModeFederated || res.Session != nil {
		t.Fatalf("expected Federated without session, got %+v", res)
	}

	if err := f.orch.SignOut(ctx); err != nil {
		t.Fatalf("sign-out: %v", err)
	}

	// Sin authenticate en el medio, el sign-out no toca nada: la
	// credencial queda como se guardó y el registry sigue vacío.
	got, err := f.creds.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != cred {
		t.Fatalf("credential mutated: %+v", got)
	}
	if _, err := f.sessions.Active(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("registry should stay empty, got %v", err)
	}
	if evs := f.events.all(); len(evs) != 0 {
		t.Fatalf("expected no events, got %d", len(evs))
	}
	if f.orch.CurrentState() != StateUnconfigured {
		t.Fatalf("state = %s", f.orch.CurrentState())
	}
}

func TestCancelFederated_ModeSwitchKeepsActiveState(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	// Sesión ServicePrincipal activa, y encima un login federado en curso.
	if _, err := f.orch.Configure(ctx, spCred()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	pending := types.PendingAuth{
		Correlation: "corr-switch",
		Mode:        types.AuthModeFederated,
		StartedAt:   time.Now().UTC(),
	}
	if err := f.sessions.SetPending(ctx, pending); err != nil {
		t.Fatalf("set pending: %v", err)
	}

	if err := f.orch.CancelFederated(ctx, "corr-switch"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Cancelar el switch devuelve al estado previo: la sesión SP sigue
	// activa y el estado lo refleja.
	if f.orch.CurrentState() != StateActive {
		t.Fatalf("state after cancelled switch = %s", f.orch.CurrentState())
	}
	cur := f.orch.CurrentSession()
	if cur == nil || cur.Mode != types.AuthModeServicePrincipal {
		t.Fatalf("previous session lost: %+v", cur)
	}
	if _, err := f.sessions.Pending(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("pending marker should be cleared, got %v", err)
	}
}

func TestCancelFederated_WithoutSessionReturnsUnconfigured(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	pending := types.PendingAuth{
		Correlation: "corr-first",
		Mode:        types.AuthModeFederated,
		StartedAt:   time.Now().UTC(),
	}
	if err := f.sessions.SetPending(ctx, pending); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	if err := f.orch.CancelFederated(ctx, "corr-first"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.orch.CurrentState() != StateUnconfigured {
		t.Fatalf("state = %s", f.orch.CurrentState())
	}
}

func TestResume_DropsSessionInconsistentWithCredential(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	// Sesión ServicePrincipal persistida pero el secret ya no está.
	cred := spCred()
	cred.SharedSecret = ""
	if err := f.creds.Save(ctx, cred); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := types.SessionRecord{
		Mode:     types.AuthModeServicePrincipal,
		Handle:   "h-stale",
		IssuedAt: time.Now().UTC(),
	}
	if err := f.sessions.Commit(ctx, rec); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, err := f.orch.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	// Sin secret y con broker sano la resolución cae a Brokered, que espera
	// un login explícito.
	if res.Session != nil {
		t.Fatalf("stale session should not come back: %+v", res.Session)
	}
	if _, err := f.sessions.Active(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("stale session should be invalidated, got %v", err)
	}
}

func TestActivationTimeout_CommitBias(t *testing.T) {
	// Con CommitOnTimeout y broker sano, la validación vencida no tira el
	// login: el exchange exitoso más el probe corroboran.
	f := newFixture(t, Options{
		ActivationTimeout: 50 * time.Millisecond,
		CommitOnTimeout:   true,
	})
	ctx := context.Background()

	f.fb.mu.Lock()
	f.fb.validateDelay = 300 * time.Millisecond
	f.fb.mu.Unlock()

	if err := f.creds.Save(ctx, spCred()); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := f.orch.Authenticate(ctx, types.AuthModeServicePrincipal)
	if err != nil {
		t.Fatalf("expected commit on timeout, got %v", err)
	}
	if res.Session == nil {
		t.Fatal("expected committed session")
	}
}

func TestActivationTimeout_AbortsWithoutBias(t *testing.T) {
	f := newFixture(t, Options{
		ActivationTimeout: 50 * time.Millisecond,
		CommitOnTimeout:   false,
	})
	ctx := context.Background()

	f.fb.mu.Lock()
	f.fb.validateDelay = 300 * time.Millisecond
	f.fb.mu.Unlock()

	if err := f.creds.Save(ctx, spCred()); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := f.orch.Authenticate(ctx, types.AuthModeServicePrincipal)
	if !errors.Is(err, types.ErrSessionActivationFailed) {
		t.Fatalf("want ErrSessionActivationFailed, got %v", err)
	}
	if _, err := f.sessions.Active(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("no session should be committed, got %v", err)
	}
}

func TestHandleExpired_ServicePrincipalRenewsSilently(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.orch.Configure(ctx, spCred()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	first := f.orch.CurrentSession()

	rec, err := f.orch.HandleExpired(ctx)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if rec.Handle == first.Handle {
		t.Fatal("renewal should mint a fresh handle")
	}
	if f.orch.CurrentState() != StateActive {
		t.Fatalf("state = %s", f.orch.CurrentState())
	}
}

func TestHandleExpired_ForcesUnconfiguredWhenRenewalFails(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.orch.Configure(ctx, spCred()); err != nil {
		t.Fatalf("configure: %v", err)
	}

	// Secret desaparece del store: la renovación no puede re-canjear.
	if err := f.creds.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	_, err := f.orch.HandleExpired(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	// Sea cual sea la causa puntual, el resultado observable es el mismo:
	// sin ErrInvalidConfiguration silencioso ni sesión zombie.
	if !errors.Is(err, types.ErrSessionExpired) && !errors.Is(err, types.ErrInvalidConfiguration) {
		t.Fatalf("unexpected error: %v", err)
	}
}
