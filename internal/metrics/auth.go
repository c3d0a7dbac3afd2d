package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del ciclo de autenticación. Paquete standalone para
// evitar ciclos de import entre orchestrator y HTTP.

var (
	TransitionsCommitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doorman_auth_transitions_total",
		Help: "Transiciones de modo commiteadas, por modo destino",
	}, []string{"mode"})

	TransitionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doorman_auth_transition_failures_total",
		Help: "Transiciones fallidas, por categoría de error",
	}, []string{"reason"})

	ActivationTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "doorman_auth_activation_timeouts_total",
		Help: "Validaciones post-exchange que expiraron",
	})

	ActiveMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "doorman_auth_active_mode",
		Help: "Modo activo (1 en el modo vigente, 0 en el resto)",
	}, []string{"mode"})
)

// Register registra las métricas en el registry dado (default si nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		TransitionsCommitted, TransitionsFailed, ActivationTimeouts, ActiveMode,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// SetActiveMode pone la gauge en 1 solo para el modo vigente.
func SetActiveMode(mode string) {
	for _, m := range []string{"Unconfigured", "Federated", "ServicePrincipal", "Brokered", "Demo"} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		ActiveMode.WithLabelValues(m).Set(v)
	}
}
