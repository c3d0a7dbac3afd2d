package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/doorman/internal/directory"
	apierr "github.com/dropDatabas3/doorman/internal/http/errors"
	"github.com/dropDatabas3/doorman/internal/http/helpers"
	"github.com/dropDatabas3/doorman/internal/router"
)

// DirectoryHandler proxea el directorio a través del ServiceRouter: el
// cliente concreto depende del modo activo y el handler no lo sabe.
type DirectoryHandler struct {
	router *router.ServiceRouter
}

// NewDirectory crea el handler del directorio.
func NewDirectory(sr *router.ServiceRouter) *DirectoryHandler {
	return &DirectoryHandler{router: sr}
}

// Register registra las rutas bajo /v1/directory.
func (h *DirectoryHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Get("/v1/directory/users", h.listUsers)
		r.Post("/v1/directory/users", h.createUser)
		r.Get("/v1/directory/users/{id}", h.getUser)
		r.Delete("/v1/directory/users/{id}", h.deleteUser)
		r.Get("/v1/directory/groups", h.listGroups)
		r.Get("/v1/directory/groups/{id}", h.getGroup)
		r.Get("/v1/directory/devices", h.listDevices)
		r.Get("/v1/directory/devices/{id}", h.getDevice)
	})
}

func (h *DirectoryHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	var out []directory.User
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		var err error
		out, err = c.ListUsers(r.Context())
		return err
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

func (h *DirectoryHandler) getUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var out *directory.User
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		var err error
		out, err = c.GetUser(r.Context(), id)
		return err
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

func (h *DirectoryHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var in directory.User
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	var out *directory.User
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		var err error
		out, err = c.CreateUser(r.Context(), in)
		return err
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, out)
}

func (h *DirectoryHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		return c.DeleteUser(r.Context(), id)
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DirectoryHandler) listGroups(w http.ResponseWriter, r *http.Request) {
	var out []directory.Group
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		var err error
		out, err = c.ListGroups(r.Context())
		return err
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

func (h *DirectoryHandler) getGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var out *directory.Group
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		var err error
		out, err = c.GetGroup(r.Context(), id)
		return err
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

func (h *DirectoryHandler) listDevices(w http.ResponseWriter, r *http.Request) {
	var out []directory.Device
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		var err error
		out, err = c.ListDevices(r.Context())
		return err
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

func (h *DirectoryHandler) getDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var out *directory.Device
	err := h.router.Do(r.Context(), func(c directory.Client) error {
		var err error
		out, err = c.GetDevice(r.Context(), id)
		return err
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}
