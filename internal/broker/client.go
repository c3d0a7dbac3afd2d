// Package broker es el cliente HTTP del session broker del backend: el
// componente que guarda credenciales cifradas server-side y emite handles
// de sesión opacos. Doorman solo orquesta; el cifrado es problema del broker.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/doorman/internal/cache"
	"github.com/dropDatabas3/doorman/internal/domain/types"
)

const probeCacheKey = "broker:healthy"

// Client habla con el broker. Todas las llamadas llevan context con el
// timeout acotado que exige cada punto de suspensión.
type Client struct {
	baseURL  string
	http     *http.Client
	probes   cache.Cache
	probeTTL time.Duration
}

// New crea un cliente. probes cachea el resultado del healthcheck que usa
// el resolver para preferir Brokered sobre Federated.
func New(baseURL string, timeout time.Duration, probes cache.Cache, probeTTL time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		probes:   probes,
		probeTTL: probeTTL,
	}
}

// Configured indica si hay un broker configurado.
func (c *Client) Configured() bool { return c.baseURL != "" }

// ExchangeRequest es el paso (a): credencial → handle.
type ExchangeRequest struct {
	TenantID      string `json:"tenantId"`
	ApplicationID string `json:"applicationId"`
	SharedSecret  string `json:"sharedSecret,omitempty"`
}

// ExchangeResponse trae el handle recién emitido, todavía sin activar.
type ExchangeResponse struct {
	Handle    string                `json:"handle"`
	Identity  types.IdentitySummary `json:"identity"`
	ExpiresAt *time.Time            `json:"expiresAt,omitempty"`
}

// ValidateResponse es el paso (b): activación/validación del handle.
type ValidateResponse struct {
	Valid    bool                  `json:"valid"`
	Identity types.IdentitySummary `json:"identity"`
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return fmt.Errorf("broker http %d: %s %s", resp.StatusCode, eb.Error, eb.ErrorDescription)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Exchange canjea la credencial por un handle. El handle resultante NO está
// activo hasta que Validate lo confirme.
func (c *Client) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	var out ExchangeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", req, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCredentialExchangeFailed, err)
	}
	if out.Handle == "" {
		return nil, fmt.Errorf("%w: broker devolvió handle vacío", types.ErrCredentialExchangeFailed)
	}
	return &out, nil
}

// Validate activa/confirma un handle emitido por Exchange.
func (c *Client) Validate(ctx context.Context, handle string) (*ValidateResponse, error) {
	var out ValidateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+handle+"/validate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh re-emite un handle próximo a expirar (renovación silenciosa).
func (c *Client) Refresh(ctx context.Context, handle string) (*ExchangeResponse, error) {
	var out ExchangeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+handle+"/refresh", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Revoke invalida el handle server-side. Best effort en signOut.
func (c *Client) Revoke(ctx context.Context, handle string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+handle, nil, nil)
}

// Reachable responde si el broker contesta el healthcheck. El resultado se
// cachea probeTTL para que el resolver no golpee el broker en cada resolve.
func (c *Client) Reachable(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	if v, ok := c.probes.Get(probeCacheKey); ok {
		return string(v) == "1"
	}

	healthy := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err == nil {
		if resp, err := c.http.Do(req); err == nil {
			healthy = resp.StatusCode/100 == 2
			resp.Body.Close()
		}
	}

	val := []byte("0")
	if healthy {
		val = []byte("1")
	}
	c.probes.Set(probeCacheKey, val, c.probeTTL)
	return healthy
}
