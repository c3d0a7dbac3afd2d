package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/doorman/internal/cache"
	"github.com/dropDatabas3/doorman/internal/domain/types"
	"github.com/dropDatabas3/doorman/internal/idp"
)

// fakeIdP monta un identity provider completo: discovery, JWKS y token
// endpoint que firma id_tokens RS256 con el nonce que le pidan.
type fakeIdP struct {
	srv    *httptest.Server
	key    *rsa.PrivateKey
	nonce  string // nonce a incluir en el próximo id_token
	issuer string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	f := &fakeIdP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 f.issuer,
			"authorization_endpoint": f.issuer + "/authorize",
			"token_endpoint":         f.issuer + "/token",
			"jwks_uri":               f.issuer + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		pub := &f.key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		idt := f.signIDToken(t, f.nonce)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-" + r.FormValue("grant_type"),
			"id_token":      idt,
			"expires_in":    3600,
			"token_type":    "Bearer",
			"refresh_token": "rt-1",
		})
	})

	f.srv = httptest.NewServer(mux)
	f.issuer = f.srv.URL
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) signIDToken(t *testing.T, nonce string) string {
	t.Helper()
	claims := jwtv5.MapClaims{
		"iss":   f.issuer,
		"aud":   "portal-client",
		"sub":   "user-1",
		"email": "ana.torres@example.test",
		"name":  "Ana Torres",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	s, err := tok.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newFederatedUnderTest(t *testing.T) (*Federated, *fakeIdP) {
	t.Helper()
	f := newFakeIdP(t)
	oidc := idp.New(f.issuer, "portal-client", "http://localhost/callback",
		[]string{"openid", "email", "profile"}, cache.NewMemory(time.Minute))
	return NewFederated(oidc), f
}

func TestFederated_BeginProducesAuthURLAndMarker(t *testing.T) {
	p, _ := newFederatedUnderTest(t)

	authURL, pending, err := p.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if pending.Correlation == "" || pending.Nonce == "" {
		t.Fatalf("marker incomplete: %+v", pending)
	}
	if pending.Mode != types.AuthModeFederated {
		t.Fatalf("mode = %s", pending.Mode)
	}
	// El state de la URL ES el token de correlación.
	if want := "state=" + pending.Correlation; !strings.Contains(authURL, want) {
		t.Fatalf("auth URL missing correlation state: %s", authURL)
	}
	if want := "nonce=" + pending.Nonce; !strings.Contains(authURL, want) {
		t.Fatalf("auth URL missing nonce: %s", authURL)
	}
}

func TestFederated_CompleteVerifiesNonce(t *testing.T) {
	p, f := newFederatedUnderTest(t)
	ctx := context.Background()

	_, pending, err := p.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.nonce = pending.Nonce

	tok, err := p.Complete(ctx, pending, "code-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if tok.Identity.PrincipalName != "ana.torres@example.test" {
		t.Fatalf("identity = %+v", tok.Identity)
	}
	if tok.Identity.IsSynthetic {
		t.Fatal("federated identity must not be synthetic")
	}
	// El bearer queda disponible para el directorio.
	if bearer, ok := p.Bearer(tok.Handle); !ok || bearer == "" {
		t.Fatal("bearer material missing after complete")
	}
}

func TestFederated_CompleteRejectsWrongNonce(t *testing.T) {
	p, f := newFederatedUnderTest(t)
	ctx := context.Background()

	_, pending, err := p.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.nonce = "otro-nonce"

	_, err = p.Complete(ctx, pending, "code-1")
	if !errors.Is(err, types.ErrSessionActivationFailed) {
		t.Fatalf("want ErrSessionActivationFailed, got %v", err)
	}
}

func TestFederated_RenewWithRefreshToken(t *testing.T) {
	p, f := newFederatedUnderTest(t)
	ctx := context.Background()

	_, pending, _ := p.Begin(ctx)
	f.nonce = pending.Nonce
	tok, err := p.Complete(ctx, pending, "code-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Renew no valida nonce (grant silencioso).
	f.nonce = ""
	rec := &types.SessionRecord{Mode: types.AuthModeFederated, Handle: tok.Handle}
	renewed, err := p.Renew(ctx, rec)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.Handle == tok.Handle {
		t.Fatal("renewal should mint a new handle")
	}
	// El material viejo fue descartado.
	if _, ok := p.Bearer(tok.Handle); ok {
		t.Fatal("old bearer material should be gone")
	}
}

func TestFederated_RenewWithoutMaterialNeedsInteraction(t *testing.T) {
	p, _ := newFederatedUnderTest(t)

	rec := &types.SessionRecord{Mode: types.AuthModeFederated, Handle: "fed-desconocido"}
	_, err := p.Renew(context.Background(), rec)
	if !errors.Is(err, types.ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
}
