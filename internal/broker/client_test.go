package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/doorman/internal/cache"
	"github.com/dropDatabas3/doorman/internal/domain/types"
)

func TestExchange_EmptyHandleRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ExchangeResponse{Handle: ""})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, cache.NewMemory(time.Minute), time.Minute)
	_, err := c.Exchange(context.Background(), ExchangeRequest{TenantID: "t", ApplicationID: "a"})
	if !errors.Is(err, types.ErrCredentialExchangeFailed) {
		t.Fatalf("want ErrCredentialExchangeFailed, got %v", err)
	}
}

func TestExchange_HTTPErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, cache.NewMemory(time.Minute), time.Minute)
	_, err := c.Exchange(context.Background(), ExchangeRequest{TenantID: "t", ApplicationID: "a"})
	if !errors.Is(err, types.ErrCredentialExchangeFailed) {
		t.Fatalf("want ErrCredentialExchangeFailed, got %v", err)
	}
}

func TestReachable_ProbeCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, cache.NewMemory(time.Minute), time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !c.Reachable(ctx) {
			t.Fatal("broker should be reachable")
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("probe should hit the broker once, got %d", hits.Load())
	}
}

func TestReachable_UnconfiguredIsFalse(t *testing.T) {
	c := New("", time.Second, cache.NewMemory(time.Minute), time.Minute)
	if c.Reachable(context.Background()) {
		t.Fatal("unconfigured broker must not be reachable")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/h-123/validate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ValidateResponse{
			Valid:    true,
			Identity: types.IdentitySummary{PrincipalName: "app@tenant"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, cache.NewMemory(time.Minute), time.Minute)
	resp, err := c.Validate(context.Background(), "h-123")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !resp.Valid || resp.Identity.PrincipalName != "app@tenant" {
		t.Fatalf("got %+v", resp)
	}
}
