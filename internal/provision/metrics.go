package provision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/creamcroissant/resellerd/internal/panel"
)

var remoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "resellerd",
	Subsystem: "provision",
	Name:      "remote_calls_total",
	Help:      "Remote panel calls by backend kind, operation and outcome.",
}, []string{"kind", "op", "outcome"})

func observeRemoteCall(kind panel.Kind, op string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	remoteCalls.WithLabelValues(string(kind), op, outcome).Inc()
}
