package control

import (
	"net"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/Suhaibinator/CraftRouter/internal/backend"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter returns the control endpoint. It knows exactly one route,
// GET /register/{hostname}, which registers the caller's own address as the
// backend for hostname.
//
// The caller is identified by the TCP peer address only; X-Forwarded-For and
// similar headers are ignored.
func NewRouter(registerer backend.RouteRegisterer) http.Handler {
	r := chi.NewRouter()
	r.Get("/register/{hostname}", func(w http.ResponseWriter, req *http.Request) {
		// chi matches on RawPath when the request has one, leaving the
		// segment escaped
		hostname := chi.URLParam(req, "hostname")
		if req.URL.RawPath != "" {
			unescaped, err := url.PathUnescape(hostname)
			if err != nil {
				http.Error(w, "invalid hostname", http.StatusBadRequest)
				return
			}
			hostname = unescaped
		}

		requester, err := sourceIP(req.RemoteAddr)
		if err != nil {
			zap.S().Errorf("Cannot register %q: bad remote address %q: %v", hostname, req.RemoteAddr, err)
			http.Error(w, "cannot determine source address", http.StatusInternalServerError)
			return
		}

		registerer.RegisterRoute(hostname, requester)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func sourceIP(remoteAddr string) (netip.Addr, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, err
	}
	// drop any IPv6 zone so the address can be dialed as a plain ip:port
	return addr.WithZone(""), nil
}
