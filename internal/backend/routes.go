package backend

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/Suhaibinator/CraftRouter/internal/metrics"
)

// RouteTable maps hostnames to backend addresses. It is safe for concurrent
// use; every Register and Lookup observes a whole entry or none of it.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[string]netip.AddrPort
}

func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[string]netip.AddrPort)}
}

// NewRouteTableFromConfig builds a table from snapshot entries of the form
// hostname -> "ip:port".
func NewRouteTableFromConfig(routes map[string]string) (*RouteTable, error) {
	t := NewRouteTable()
	for hostname, raw := range routes {
		addr, err := netip.ParseAddrPort(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid backend address %q for %s: %w", raw, hostname, err)
		}
		t.routes[hostname] = addr
	}
	metrics.RouteTableSize.Set(float64(len(t.routes)))
	return t, nil
}

// Register points hostname at addr, replacing any previous entry.
func (t *RouteTable) Register(hostname string, addr netip.AddrPort) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[hostname] = addr
	metrics.RouteTableSize.Set(float64(len(t.routes)))
}

func (t *RouteTable) Lookup(hostname string) (netip.AddrPort, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.routes[hostname]
	return addr, ok
}

func (t *RouteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Snapshot copies the table into the form it is persisted in.
func (t *RouteTable) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.routes))
	for hostname, addr := range t.routes {
		out[hostname] = addr.String()
	}
	return out
}
