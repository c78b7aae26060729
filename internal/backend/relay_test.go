package backend

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	other := <-accepted
	require.NotNil(t, other)
	t.Cleanup(func() {
		dialed.Close()
		other.Close()
	})
	return dialed, other
}

func runRelay(client, origin net.Conn) <-chan relayStats {
	done := make(chan relayStats, 1)
	go func() { done <- relay(client, origin) }()
	return done
}

func waitRelay(t *testing.T, done <-chan relayStats) relayStats {
	t.Helper()
	select {
	case stats := <-done:
		return stats
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
		return relayStats{}
	}
}

func TestRelayCopiesBothDirections(t *testing.T) {
	client, clientSide := tcpPair(t)
	originSide, origin := tcpPair(t)

	done := runRelay(clientSide, originSide)

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(origin, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	_, err = origin.Write([]byte("pong!"))
	require.NoError(t, err)
	buf = make([]byte, 5)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "pong!", string(buf))

	require.NoError(t, origin.Close())
	stats := waitRelay(t, done)
	require.Equal(t, int64(4), stats.toBackend)
	require.Equal(t, int64(5), stats.toClient)
	require.NoError(t, stats.err)
}

func TestRelayBackendCloseClosesClient(t *testing.T) {
	client, clientSide := tcpPair(t)
	originSide, origin := tcpPair(t)

	done := runRelay(clientSide, originSide)

	// only half-close the backend's write side: the relay must still tear
	// down the client connection
	require.NoError(t, origin.(*net.TCPConn).CloseWrite())
	waitRelay(t, done)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := client.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestRelayClientCloseClosesBackend(t *testing.T) {
	client, clientSide := tcpPair(t)
	originSide, origin := tcpPair(t)

	done := runRelay(clientSide, originSide)

	require.NoError(t, client.Close())
	waitRelay(t, done)

	require.NoError(t, origin.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := origin.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestRelayOverPipes(t *testing.T) {
	// net.Pipe has neither CloseWrite nor SetNoDelay.
	client, clientSide := net.Pipe()
	originSide, origin := net.Pipe()
	defer client.Close()
	defer origin.Close()

	done := runRelay(clientSide, originSide)

	go func() { _, _ = client.Write([]byte("hello")) }()
	buf := make([]byte, 5)
	_, err := io.ReadFull(origin, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	require.NoError(t, client.Close())
	stats := waitRelay(t, done)
	require.Equal(t, int64(5), stats.toBackend)
}
