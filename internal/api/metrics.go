package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	machinesRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shebang_machines_registered_total",
		Help: "Machine registration requests accepted.",
	})
	commandsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shebang_commands_scheduled_total",
		Help: "Commands scheduled for execution.",
	})
	commandsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shebang_commands_completed_total",
		Help: "Commands completed with a reported result.",
	})
	scriptsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shebang_scripts_rejected_total",
		Help: "Scripts rejected by the safety validator, by reason.",
	}, []string{"reason"})
)

// RegisterMetrics registers Prometheus handler in provided mux
func RegisterMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
