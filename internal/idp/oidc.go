// Package idp es el cliente relying-party contra el identity provider
// federado: discovery, URL de autorización, canje de code y verificación
// del id_token contra el JWKS publicado.
package idp

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/doorman/internal/cache"
)

const (
	discoveryCacheKey = "idp:discovery"
	jwksCacheKey      = "idp:jwks"
	discoveryTTL      = 24 * time.Hour
	jwksTTL           = time.Hour
)

type discoveryDoc struct {
	Issuer        string `json:"issuer"`
	AuthEndpoint  string `json:"authorization_endpoint"`
	TokenEndpoint string `json:"token_endpoint"`
	JWKSURI       string `json:"jwks_uri"`
}

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"` // base64url
	E   string `json:"e"` // base64url
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// OIDC es el cliente del IdP para un tenant/aplicación.
type OIDC struct {
	Issuer      string
	ClientID    string
	RedirectURL string
	Scopes      []string

	http  *http.Client
	cache cache.Cache
}

// New crea el cliente. Los documentos de discovery y el JWKS se cachean en c.
func New(issuer, clientID, redirectURL string, scopes []string, c cache.Cache) *OIDC {
	return &OIDC{
		Issuer:      strings.TrimRight(issuer, "/"),
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Scopes:      scopes,
		http:        &http.Client{Timeout: 10 * time.Second},
		cache:       c,
	}
}

func (o *OIDC) fetchJSON(ctx context.Context, uri, cacheKey string, ttl time.Duration, out any) error {
	if b, ok := o.cache.Get(cacheKey); ok {
		return json.Unmarshal(b, out)
	}
	req, _ := http.NewRequestWithContext(ctx, "GET", uri, nil)
	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("idp http %d: %s", resp.StatusCode, uri)
	}
	b, err := jsonBody(resp)
	if err != nil {
		return err
	}
	o.cache.Set(cacheKey, b, ttl)
	return json.Unmarshal(b, out)
}

func jsonBody(resp *http.Response) ([]byte, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (o *OIDC) discovery(ctx context.Context) (*discoveryDoc, error) {
	var dd discoveryDoc
	uri := o.Issuer + "/.well-known/openid-configuration"
	if err := o.fetchJSON(ctx, uri, discoveryCacheKey, discoveryTTL, &dd); err != nil {
		return nil, err
	}
	return &dd, nil
}

func (o *OIDC) rsaKeyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	disc, err := o.discovery(ctx)
	if err != nil {
		return nil, err
	}
	var keys jwks
	if err := o.fetchJSON(ctx, disc.JWKSURI, jwksCacheKey, jwksTTL, &keys); err != nil {
		return nil, err
	}
	for _, k := range keys.Keys {
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			nb, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			eb, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			n := new(big.Int).SetBytes(nb)
			e := 65537
			if len(eb) > 0 {
				e = 0
				for _, b := range eb {
					e = (e << 8) | int(b)
				}
			}
			return &rsa.PublicKey{N: n, E: e}, nil
		}
	}
	return nil, errors.New("kid not found")
}

// AuthURL construye la URL de autorización para el redirect interactivo.
// state lleva el token de correlación del PendingAuth.
func (o *OIDC) AuthURL(ctx context.Context, state, nonce string) (string, error) {
	disc, err := o.discovery(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(disc.AuthEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", o.ClientID)
	q.Set("redirect_uri", o.RedirectURL)
	q.Set("scope", strings.Join(o.Scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenResponse es la respuesta del token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	RefreshTok  string `json:"refresh_token,omitempty"`
}

func (o *OIDC) tokenCall(ctx context.Context, form url.Values) (*TokenResponse, error) {
	disc, err := o.discovery(ctx)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, "POST", disc.TokenEndpoint, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var b struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		return nil, fmt.Errorf("token http %d: %s %s", resp.StatusCode, b.Error, b.ErrorDescription)
	}
	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// ExchangeCode canjea el authorization code que vuelve en el callback.
func (o *OIDC) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", o.ClientID)
	form.Set("redirect_uri", o.RedirectURL)
	return o.tokenCall(ctx, form)
}

// RefreshToken renueva tokens silenciosamente con el refresh token.
func (o *OIDC) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", o.ClientID)
	return o.tokenCall(ctx, form)
}

// IDClaims son los claims verificados del id_token.
type IDClaims struct {
	Sub        string          `json:"sub"`
	Iss        string          `json:"iss"`
	Exp        int64           `json:"exp"`
	Email      string          `json:"email"`
	Name       string          `json:"name"`
	GivenName  string          `json:"given_name"`
	FamilyName string          `json:"family_name"`
	Nonce      string          `json:"nonce"`
	Raw        jwtv5.MapClaims `json:"-"`
}

// VerifyIDToken valida firma, iss, aud, nonce y exp. Retorna los claims.
func (o *OIDC) VerifyIDToken(ctx context.Context, idToken, expectedNonce string) (*IDClaims, error) {
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, errors.New("bad jwt format")
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hb, &header); err != nil {
		return nil, err
	}
	if header.Alg != "RS256" {
		return nil, fmt.Errorf("unexpected alg: %s", header.Alg)
	}

	key, err := o.rsaKeyForKid(ctx, header.Kid)
	if err != nil {
		return nil, err
	}
	tok, err := jwtv5.Parse(idToken, func(t *jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods([]string{"RS256"}))
	if err != nil || !tok.Valid {
		return nil, errors.New("invalid id_token")
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, errors.New("claims type")
	}

	iss, _ := claims["iss"].(string)
	if strings.TrimRight(iss, "/") != o.Issuer {
		return nil, fmt.Errorf("bad iss: %s", iss)
	}

	audOK := false
	switch a := claims["aud"].(type) {
	case string:
		audOK = a == o.ClientID
	case []any:
		for _, v := range a {
			if s, _ := v.(string); s == o.ClientID {
				audOK = true
				break
			}
		}
	}
	if !audOK {
		return nil, errors.New("bad aud")
	}

	if expectedNonce != "" {
		if got, _ := claims["nonce"].(string); got != expectedNonce {
			return nil, errors.New("bad nonce")
		}
	}

	if expf, ok := claims["exp"].(float64); ok {
		if time.Unix(int64(expf), 0).Before(time.Now().Add(-30 * time.Second)) {
			return nil, errors.New("token expired")
		}
	}

	out := &IDClaims{
		Raw:        claims,
		Iss:        iss,
		Sub:        strClaim(claims, "sub"),
		Email:      strClaim(claims, "email"),
		Name:       strClaim(claims, "name"),
		GivenName:  strClaim(claims, "given_name"),
		FamilyName: strClaim(claims, "family_name"),
		Nonce:      strClaim(claims, "nonce"),
	}
	if expf, ok := claims["exp"].(float64); ok {
		out.Exp = int64(expf)
	}
	return out, nil
}

func strClaim(m jwtv5.MapClaims, k string) string {
	s, _ := m[k].(string)
	return s
}
