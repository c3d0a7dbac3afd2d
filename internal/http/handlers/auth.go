// Package handlers expone la API HTTP del portal: ciclo de autenticación
// y proxy del directorio.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dropDatabas3/doorman/internal/domain/types"
	apierr "github.com/dropDatabas3/doorman/internal/http/errors"
	"github.com/dropDatabas3/doorman/internal/http/helpers"
	"github.com/dropDatabas3/doorman/internal/observability/logger"
	"github.com/dropDatabas3/doorman/internal/orchestrator"
)

// AuthHandler maneja configure/login/logout/demo y el callback federado.
type AuthHandler struct {
	orch *orchestrator.Orchestrator
	log  *zap.Logger
}

// NewAuth crea el handler de autenticación.
func NewAuth(orch *orchestrator.Orchestrator) *AuthHandler {
	return &AuthHandler{orch: orch, log: logger.Named("http.auth")}
}

// Register registra las rutas bajo /v1/auth.
func (h *AuthHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Get("/v1/auth/session", h.session)
		r.Post("/v1/auth/configure", h.configure)
		r.Delete("/v1/auth/configure", h.clearCredential)
		r.Post("/v1/auth/login", h.login)
		r.Get("/v1/auth/callback", h.callback)
		r.Post("/v1/auth/cancel", h.cancel)
		r.Post("/v1/auth/logout", h.logout)
		r.Post("/v1/auth/demo", h.demo)
	})
}

// sessionView es lo que la UI ve del estado de autenticación.
type sessionView struct {
	State    string                 `json:"state"`
	Mode     types.AuthMode         `json:"mode"`
	Identity *types.IdentitySummary `json:"identity,omitempty"`
	IssuedAt string                 `json:"issuedAt,omitempty"`
}

func (h *AuthHandler) session(w http.ResponseWriter, r *http.Request) {
	view := sessionView{
		State: string(h.orch.CurrentState()),
		Mode:  types.AuthModeUnconfigured,
	}
	if sess := h.orch.CurrentSession(); sess != nil {
		view.Mode = sess.Mode
		view.Identity = &sess.Identity
		view.IssuedAt = sess.IssuedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	helpers.WriteJSON(w, http.StatusOK, view)
}

type configureRequest struct {
	TenantID      string `json:"tenantId"`
	ApplicationID string `json:"applicationId"`
	SharedSecret  string `json:"sharedSecret,omitempty"`
}

type transitionResponse struct {
	Mode        types.AuthMode         `json:"mode"`
	Identity    *types.IdentitySummary `json:"identity,omitempty"`
	RedirectURL string                 `json:"redirectUrl,omitempty"`
}

func (h *AuthHandler) configure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	res, err := h.orch.Configure(r.Context(), types.TenantCredential{
		TenantID:      req.TenantID,
		ApplicationID: req.ApplicationID,
		SharedSecret:  req.SharedSecret,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toTransition(res))
}

func (h *AuthHandler) clearCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ClearCredential(r.Context()); err != nil {
		apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loginRequest struct {
	Mode types.AuthMode `json:"mode"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if !req.Mode.IsValid() || req.Mode == types.AuthModeUnconfigured {
		apierr.WriteError(w, apierr.ErrBadRequest.WithDetail("modo desconocido"))
		return
	}

	res, err := h.orch.Authenticate(r.Context(), req.Mode)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toTransition(res))
}

// callback cierra el round-trip federado. state lleva el token de
// correlación que el marker persistido conoce.
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	code := q.Get("code")

	if errParam := q.Get("error"); errParam != "" {
		// El IdP rechazó o el usuario canceló en la pantalla remota.
		h.log.Info("idp callback error", zap.String("error", errParam))
		if err := h.orch.CancelFederated(r.Context(), state); err != nil {
			apierr.WriteError(w, err)
			return
		}
		apierr.WriteError(w, types.ErrInteractiveSignInCancelled)
		return
	}
	if state == "" || code == "" {
		apierr.WriteError(w, apierr.ErrBadRequest.WithDetail("faltan state o code"))
		return
	}

	res, err := h.orch.CompleteFederated(r.Context(), state, code)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toTransition(res))
}

func (h *AuthHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Correlation string `json:"correlation,omitempty"`
	}
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := h.orch.CancelFederated(r.Context(), req.Correlation); err != nil {
		apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.SignOut(r.Context()); err != nil {
		apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type demoRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AuthHandler) demo(w http.ResponseWriter, r *http.Request) {
	var req demoRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	if !req.Enabled {
		if err := h.orch.DisableDemo(r.Context()); err != nil {
			apierr.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	res, err := h.orch.EnableDemo(r.Context())
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, toTransition(res))
}

func toTransition(res *orchestrator.Result) transitionResponse {
	out := transitionResponse{Mode: res.Mode, RedirectURL: res.RedirectURL}
	if res.Session != nil {
		out.Identity = &res.Session.Identity
	}
	return out
}
