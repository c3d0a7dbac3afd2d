package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/doorman/internal/broker"
	"github.com/dropDatabas3/doorman/internal/cache"
	"github.com/dropDatabas3/doorman/internal/credstore"
	"github.com/dropDatabas3/doorman/internal/directory"
	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/orchestrator"
	"github.com/dropDatabas3/doorman/internal/provider"
	"github.com/dropDatabas3/doorman/internal/resolver"
	"github.com/dropDatabas3/doorman/internal/sessionreg"
)

func newStack(t *testing.T) (*ServiceRouter, *orchestrator.Orchestrator, credstore.Store, sessionreg.Registry) {
	t.Helper()

	// Fake broker: emite y valida todo.
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
			_ = json.NewEncoder(w).Encode(broker.ExchangeResponse{
				Handle:   "h-test",
				Identity: types.IdentitySummary{PrincipalName: "app@tenant"},
			})
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(broker.ValidateResponse{Valid: true})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(brokerSrv.Close)

	bc := broker.New(brokerSrv.URL, time.Second, cache.NewMemory(time.Minute), time.Millisecond)
	creds := credstore.NewMemory()
	sessions := sessionreg.NewMemory()
	factory := provider.NewFactory(bc, nil)
	res := resolver.New(creds, sessions, bc, factory)
	orch := orchestrator.New(creds, sessions, res, factory, bc, orchestrator.Options{})

	sr := New(orch, factory.Federated(), "http://directory.invalid", time.Second)
	return sr, orch, creds, sessions
}

func TestClient_UnconfiguredHasNoClient(t *testing.T) {
	sr, _, _, _ := newStack(t)

	_, err := sr.Client(context.Background())
	if !errors.Is(err, types.ErrInvalidConfiguration) {
		t.Fatalf("want ErrInvalidConfiguration, got %v", err)
	}
}

func TestClient_DemoModeServesSyntheticData(t *testing.T) {
	sr, orch, _, _ := newStack(t)
	ctx := context.Background()

	if _, err := orch.EnableDemo(ctx); err != nil {
		t.Fatalf("enable demo: %v", err)
	}

	c, err := sr.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	users, err := c.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) == 0 {
		t.Fatal("demo dataset should not be empty")
	}
	if sr.Mode() != types.AuthModeDemo {
		t.Fatalf("mode = %s", sr.Mode())
	}
}

func TestClient_RebuiltOnSignOut(t *testing.T) {
	sr, orch, _, _ := newStack(t)
	ctx := context.Background()

	if _, err := orch.EnableDemo(ctx); err != nil {
		t.Fatalf("enable demo: %v", err)
	}
	if _, err := sr.Client(ctx); err != nil {
		t.Fatalf("client while demo: %v", err)
	}

	if err := orch.SignOut(ctx); err != nil {
		t.Fatalf("sign-out: %v", err)
	}
	if _, err := sr.Client(ctx); !errors.Is(err, types.ErrInvalidConfiguration) {
		t.Fatalf("client should be dropped after sign-out, got %v", err)
	}
}

func TestClient_SwitchesWithMode(t *testing.T) {
	sr, orch, _, _ := newStack(t)
	ctx := context.Background()

	// Demo primero, después ServicePrincipal: el cliente cacheado cambia.
	if _, err := orch.EnableDemo(ctx); err != nil {
		t.Fatalf("demo: %v", err)
	}
	demoClient, _ := sr.Client(ctx)

	if err := orch.DisableDemo(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := orch.Configure(ctx, types.TenantCredential{
		TenantID: "contoso", ApplicationID: "app", SharedSecret: "s",
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	spClient, err := sr.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if spClient == demoClient {
		t.Fatal("client not rebuilt on mode switch")
	}
	if sr.Mode() != types.AuthModeServicePrincipal {
		t.Fatalf("mode = %s", sr.Mode())
	}
}

// La sesión persistida de una corrida anterior tiene que servir tras el
// rearranque: Resume restaura y el router queda con cliente sin re-login.
func TestClient_AvailableAfterResume(t *testing.T) {
	sr, orch, creds, sessions := newStack(t)
	ctx := context.Background()

	if err := creds.Save(ctx, types.TenantCredential{
		TenantID: "contoso", ApplicationID: "app", SharedSecret: "s",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := types.SessionRecord{
		Mode:   types.AuthModeServicePrincipal,
		Handle: "h-persisted",
		Identity: types.IdentitySummary{
			PrincipalName: "app@contoso",
			AuthMode:      types.AuthModeServicePrincipal,
		},
		IssuedAt: time.Now().UTC(),
	}
	if err := sessions.Commit(ctx, rec); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Mismo orden que el main: el router se construye antes del Resume.
	if _, err := orch.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if _, err := sr.Client(ctx); err != nil {
		t.Fatalf("client after resume: %v", err)
	}
	if sr.Mode() != types.AuthModeServicePrincipal {
		t.Fatalf("mode = %s", sr.Mode())
	}
}

// Sanidad del token source: el cliente demo no necesita bearer, pero el
// REST del modo broker manda el handle tal cual.
func TestTokenSource_BrokerModeUsesHandle(t *testing.T) {
	sr, orch, _, _ := newStack(t)
	ctx := context.Background()

	var gotAuth string
	dirSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]directory.User{})
	}))
	t.Cleanup(dirSrv.Close)
	sr.baseURL = dirSrv.URL

	if _, err := orch.Configure(ctx, types.TenantCredential{
		TenantID: "contoso", ApplicationID: "app", SharedSecret: "s",
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	c, err := sr.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := c.ListUsers(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotAuth != "Bearer h-test" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}
