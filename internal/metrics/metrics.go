package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session outcomes used as the "outcome" label of SessionsTotal.
const (
	OutcomeRelayed            = "relayed"
	OutcomeNotHandshake       = "not_handshake"
	OutcomeUnknownHost        = "unknown_host"
	OutcomeProtocolError      = "protocol_error"
	OutcomeBackendUnreachable = "backend_unreachable"
	OutcomeForwardFailed      = "forward_failed"
)

var (
	SessionsTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "craftrouter_sessions_total", Help: "Proxy sessions by outcome"}, []string{"outcome"})
	ActiveRelays        = promauto.NewGauge(prometheus.GaugeOpts{Name: "craftrouter_active_relays", Help: "Sessions currently relaying bytes"})
	BytesRelayed        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "craftrouter_bytes_relayed_total", Help: "Bytes relayed by direction"}, []string{"direction"})
	RouteRegistrations  = promauto.NewCounter(prometheus.CounterOpts{Name: "craftrouter_route_registrations_total", Help: "Routes registered through the control endpoint"})
	RouteTableSize      = promauto.NewGauge(prometheus.GaugeOpts{Name: "craftrouter_routes", Help: "Hostnames currently in the route table"})
	SessionDurationSecs = promauto.NewHistogram(prometheus.HistogramOpts{Name: "craftrouter_relay_duration_seconds", Help: "Relay lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 20)})
)

// Handler serves the registered collectors in the Prometheus text format.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
