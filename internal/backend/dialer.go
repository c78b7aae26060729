package backend

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer opens backend connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialer returns a TCP dialer with the given timeout. When ALL_PROXY (or
// all_proxy) names a SOCKS5 proxy, backend connections go through it.
func NewDialer(timeout time.Duration) Dialer {
	direct := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if cd, ok := proxy.FromEnvironmentUsing(direct).(proxy.ContextDialer); ok {
		return cd
	}
	return direct
}
