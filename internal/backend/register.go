package backend

import (
	"net/netip"

	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"go.uber.org/zap"
)

// DefaultBackendPort is the port a self-registering backend is assumed to
// listen on.
const DefaultBackendPort = 25565

// RouteRegisterer is what the control endpoint drives.
type RouteRegisterer interface {
	RegisterRoute(hostname string, requester netip.Addr)
}

// Registrar lets a backend claim a hostname for its own address.
//
// There is no authentication or ownership check: any caller that can reach
// the control endpoint may claim or take over any hostname.
type Registrar struct {
	Routes *RouteTable
	// Port is combined with the requester's IP. Zero means DefaultBackendPort.
	Port uint16
}

var _ RouteRegisterer = (*Registrar)(nil)

func (r *Registrar) RegisterRoute(hostname string, requester netip.Addr) {
	port := r.Port
	if port == 0 {
		port = DefaultBackendPort
	}
	origin := netip.AddrPortFrom(requester.Unmap(), port)
	r.Routes.Register(hostname, origin)
	metrics.RouteRegistrations.Inc()
	zap.S().Infow("Registered route", "hostname", hostname, "backend", origin.String())
}
