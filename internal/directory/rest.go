package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// restClient habla con el directorio real. El bearer sale del TokenSource
// en cada request; un 401/403 del backend se traduce a ErrSessionExpired
// para que la capa de arriba renueve o fuerce re-login.
type restClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewREST crea el cliente REST del directorio.
func NewREST(baseURL string, timeout time.Duration, tokens TokenSource) Client {
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

func (c *restClient) do(ctx context.Context, method, path string, in, out any) error {
	tok, err := c.tokens(ctx)
	if err != nil {
		return err
	}

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
	req.Header.Set("Authorization", "Bearer "+tok)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.ErrSessionExpired
	case resp.StatusCode == http.StatusNotFound:
		return types.ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("directory: %s %s -> %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *restClient) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/v1/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *restClient) GetUser(ctx context.Context, id string) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) CreateUser(ctx context.Context, u User) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodPost, "/v1/users", u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(id), nil, nil)
}

func (c *restClient) ListGroups(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := c.do(ctx, http.MethodGet, "/v1/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *restClient) GetGroup(ctx context.Context, id string) (*Group, error) {
	var out Group
	if err := c.do(ctx, http.MethodGet, "/v1/groups/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) ListDevices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.do(ctx, http.MethodGet, "/v1/devices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *restClient) GetDevice(ctx context.Context, id string) (*Device, error) {
	var out Device
	if err := c.do(ctx, http.MethodGet, "/v1/devices/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
