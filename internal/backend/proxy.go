package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"github.com/Suhaibinator/CraftRouter/internal/proxy_router"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrBackendUnreachable = errors.New("backend unreachable")

// Proxy routes each accepted connection to a backend chosen by the hostname
// in its handshake.
type Proxy struct {
	sniffer proxy_router.HandshakeSniffer
	routes  *RouteTable
	dialer  Dialer
}

func NewProxy(sniffer proxy_router.HandshakeSniffer, routes *RouteTable, dialer Dialer) *Proxy {
	return &Proxy{
		sniffer: sniffer,
		routes:  routes,
		dialer:  dialer,
	}
}

// HandleConnection serves conn and logs the error, if any. It is meant to be
// run in its own goroutine per accepted connection.
func (p *Proxy) HandleConnection(ctx context.Context, conn net.Conn) {
	if err := p.Serve(ctx, conn); err != nil {
		zap.S().Warnf("Error while proxying connection from %s: %v", conn.RemoteAddr(), err)
	}
}

// Serve runs one session: read the handshake, look up the backend, dial it,
// replay the handshake and relay until either side closes. conn is always
// closed on return.
//
// A frame that is not a handshake, or a hostname with no route, ends the
// session without an error and without telling the client anything.
func (p *Proxy) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	log := zap.S().With("session", uuid.NewString(), "client", remoteAddr(conn))

	frame, err := p.sniffer.SniffHandshake(conn)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.OutcomeProtocolError).Inc()
		return fmt.Errorf("failed reading handshake: %w", err)
	}
	if !frame.IsHandshake() {
		log.Debugw("Dropping connection: not a handshake", "packetID", frame.PacketID)
		metrics.SessionsTotal.WithLabelValues(metrics.OutcomeNotHandshake).Inc()
		return nil
	}

	log = log.With("hostname", frame.Hostname)
	log.Infow("New connection", "protocol", frame.ProtocolVersion)

	origin, ok := p.routes.Lookup(frame.Hostname)
	if !ok {
		log.Debug("Dropping connection: no route for hostname")
		metrics.SessionsTotal.WithLabelValues(metrics.OutcomeUnknownHost).Inc()
		return nil
	}

	backendConn, err := p.dialer.DialContext(ctx, "tcp", origin.String())
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.OutcomeBackendUnreachable).Inc()
		return fmt.Errorf("%w: %s for %q: %v", ErrBackendUnreachable, origin, frame.Hostname, err)
	}
	defer backendConn.Close()

	if _, err := frame.WriteTo(backendConn); err != nil {
		metrics.SessionsTotal.WithLabelValues(metrics.OutcomeForwardFailed).Inc()
		return fmt.Errorf("failed forwarding handshake to %s: %w", origin, err)
	}

	metrics.SessionsTotal.WithLabelValues(metrics.OutcomeRelayed).Inc()
	metrics.ActiveRelays.Inc()
	start := time.Now()
	stats := relay(conn, backendConn)
	metrics.ActiveRelays.Dec()
	metrics.SessionDurationSecs.Observe(time.Since(start).Seconds())

	log.Debugw("Relay finished",
		"backend", origin.String(),
		"toBackend", stats.toBackend,
		"toClient", stats.toClient,
		"relayErr", stats.err,
		"closeErr", stats.closeErr,
	)
	return nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
