package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// Calls counted by target and outcome ("ok" or "error")
	Requests *prometheus.CounterVec
	// Call latency by target
	RequestDuration *prometheus.HistogramVec
	// Requests turned away by the rate limiter
	Rejected *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Total number of RPC calls handled.",
		},
			[]string{"service", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_request_duration_seconds",
			Help:    "Duration of RPC calls in seconds.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
			[]string{"service", "method"},
		),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_rejected_total",
			Help: "Number of RPC calls rejected before reaching a handler.",
		},
			[]string{"reason"},
		),
	}
	reg.MustRegister(m.Requests, m.RequestDuration, m.Rejected)
	return m
}
