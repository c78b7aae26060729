package backend

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRouteTableRegisterLookup(t *testing.T) {
	routes := NewRouteTable()

	_, ok := routes.Lookup("play.example.com")
	require.False(t, ok)

	a := netip.MustParseAddrPort("10.0.0.5:25565")
	routes.Register("play.example.com", a)
	got, ok := routes.Lookup("play.example.com")
	require.True(t, ok)
	require.Equal(t, a, got)

	// last write wins
	b := netip.MustParseAddrPort("10.0.0.6:25566")
	routes.Register("play.example.com", b)
	got, ok = routes.Lookup("play.example.com")
	require.True(t, ok)
	require.Equal(t, b, got)
	require.Equal(t, 1, routes.Len())

	// exact string match only
	_, ok = routes.Lookup("PLAY.example.com")
	require.False(t, ok)
}

func TestRouteTableConcurrentRegistrations(t *testing.T) {
	routes := NewRouteTable()
	a := netip.MustParseAddrPort("10.0.0.5:25565")
	routes.Register("play.example.com", a)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				host := fmt.Sprintf("host-%d-%d.example.com", w, i)
				routes.Register(host, netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 1, byte(w), byte(i)}), 25565))
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				got, ok := routes.Lookup("play.example.com")
				if !ok || got != a {
					t.Errorf("lookup of play.example.com = %v, %v", got, ok)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, ok := routes.Lookup("play.example.com")
	require.True(t, ok)
	require.Equal(t, a, got)
	require.Equal(t, 1+8*500, routes.Len())
	require.Equal(t, float64(routes.Len()), testutil.ToFloat64(metrics.RouteTableSize))
}

func TestRouteTableFromConfigAndSnapshot(t *testing.T) {
	in := map[string]string{
		"play.example.com":  "10.0.0.5:25565",
		"lobby.example.com": "[2001:db8::1]:25566",
	}
	routes, err := NewRouteTableFromConfig(in)
	require.NoError(t, err)

	got, ok := routes.Lookup("lobby.example.com")
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddrPort("[2001:db8::1]:25566"), got)
	require.Equal(t, in, routes.Snapshot())

	_, err = NewRouteTableFromConfig(map[string]string{"bad.example.com": "not-an-address"})
	require.Error(t, err)
}

func TestRouteTableSnapshotIsACopy(t *testing.T) {
	routes := NewRouteTable()
	routes.Register("play.example.com", netip.MustParseAddrPort("10.0.0.5:25565"))

	snap := routes.Snapshot()
	snap["play.example.com"] = "1.2.3.4:1"
	delete(snap, "play.example.com")

	_, ok := routes.Lookup("play.example.com")
	require.True(t, ok)
}
