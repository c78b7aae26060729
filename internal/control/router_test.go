package control

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/Suhaibinator/CraftRouter/internal/backend"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	hostname  string
	requester netip.Addr
}

type recordingRegisterer struct {
	calls []recordedCall
}

func (r *recordingRegisterer) RegisterRoute(hostname string, requester netip.Addr) {
	r.calls = append(r.calls, recordedCall{hostname: hostname, requester: requester})
}

func TestRegisterUsesSourceAddress(t *testing.T) {
	reg := &recordingRegisterer{}
	h := NewRouter(reg)

	req := httptest.NewRequest(http.MethodGet, "/register/play.example.com", nil)
	req.RemoteAddr = "192.0.2.10:53211"
	req.Header.Set("X-Forwarded-For", "203.0.113.99")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
	require.Equal(t, []recordedCall{{
		hostname:  "play.example.com",
		requester: netip.MustParseAddr("192.0.2.10"),
	}}, reg.calls)
}

func TestRegisterIPv6Source(t *testing.T) {
	reg := &recordingRegisterer{}
	h := NewRouter(reg)

	req := httptest.NewRequest(http.MethodGet, "/register/lobby.example.com", nil)
	req.RemoteAddr = "[2001:db8::5]:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, reg.calls, 1)
	require.Equal(t, netip.MustParseAddr("2001:db8::5"), reg.calls[0].requester)
}

func TestRegisterBadRemoteAddr(t *testing.T) {
	reg := &recordingRegisterer{}
	h := NewRouter(reg)

	req := httptest.NewRequest(http.MethodGet, "/register/play.example.com", nil)
	req.RemoteAddr = "not-an-address"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, reg.calls)
}

func TestOnlyRegisterRouteExists(t *testing.T) {
	reg := &recordingRegisterer{}
	h := NewRouter(reg)

	cases := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/", http.StatusNotFound},
		{http.MethodGet, "/routes", http.StatusNotFound},
		{http.MethodPost, "/register/play.example.com", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, tc.code, rec.Code, "%s %s", tc.method, tc.path)
	}
	require.Empty(t, reg.calls)
}

func TestRegisterUpdatesRouteTable(t *testing.T) {
	routes := backend.NewRouteTable()
	h := NewRouter(&backend.Registrar{Routes: routes})

	req := httptest.NewRequest(http.MethodGet, "/register/play.example.com", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got, ok := routes.Lookup("play.example.com")
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddrPort("198.51.100.7:25565"), got)
}

func TestRegisterUnescapesHostname(t *testing.T) {
	cases := map[string]string{
		"/register/a%2Fb":              "a/b",
		"/register/play%2Eexample.com": "play.example.com",
		"/register/lobby%20one":        "lobby one",
	}
	for path, want := range cases {
		reg := &recordingRegisterer{}
		h := NewRouter(reg)

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.10:53211"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Len(t, reg.calls, 1, path)
		require.Equal(t, want, reg.calls[0].hostname, path)
	}
}
