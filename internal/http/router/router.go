// Package router es el agregador de rutas HTTP del servicio.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/doorman/internal/http/handlers"
	"github.com/dropDatabas3/doorman/internal/http/helpers"
	"github.com/dropDatabas3/doorman/internal/orchestrator"
	svcrouter "github.com/dropDatabas3/doorman/internal/router"
)

// Deps contiene todo lo que el router necesita para armar rutas.
type Deps struct {
	Orchestrator  *orchestrator.Orchestrator
	ServiceRouter *svcrouter.ServiceRouter
}

// New arma el router chi con middlewares base y todas las rutas.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		helpers.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"state":  string(deps.Orchestrator.CurrentState()),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	handlers.NewAuth(deps.Orchestrator).Register(r)
	handlers.NewDirectory(deps.ServiceRouter).Register(r)

	return r
}
