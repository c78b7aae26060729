package backend

import (
	"errors"
	"io"
	"net"

	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"go.uber.org/multierr"
)

const (
	relayBufferSize = 16 * 1024

	directionToBackend = "client_to_backend"
	directionToClient  = "backend_to_client"
)

type copyResult struct {
	direction string
	written   int64
	err       error
}

// relayStats is what a finished relay reports back to the session.
type relayStats struct {
	toBackend int64
	toClient  int64
	// err is the I/O error that ended the relay, nil on a clean end of stream.
	err error
	// closeErr collects errors from tearing down both connections.
	closeErr error
}

// relay copies bytes in both directions until one side is done. Whichever
// direction finishes first closes both connections, which unblocks the other
// direction; relay returns once both have stopped.
func relay(client, origin net.Conn) relayStats {
	setNoDelay(client)
	setNoDelay(origin)

	results := make(chan copyResult, 2)
	go pipe(origin, client, directionToBackend, results)
	go pipe(client, origin, directionToClient, results)

	first := <-results
	stats := relayStats{err: first.err, closeErr: closeBoth(client, origin)}
	second := <-results

	for _, res := range []copyResult{first, second} {
		if res.direction == directionToBackend {
			stats.toBackend = res.written
		} else {
			stats.toClient = res.written
		}
	}
	return stats
}

// pipe copies src into dst through a fixed-size buffer until src is drained
// or either side fails.
func pipe(dst io.Writer, src io.Reader, direction string, results chan<- copyResult) {
	buf := make([]byte, relayBufferSize)
	var written int64
	var err error
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				err = werr
				break
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				err = rerr
			}
			break
		}
	}
	metrics.BytesRelayed.WithLabelValues(direction).Add(float64(written))
	results <- copyResult{direction: direction, written: written, err: err}
}

func setNoDelay(conn net.Conn) {
	if nd, ok := conn.(interface{ SetNoDelay(bool) error }); ok {
		_ = nd.SetNoDelay(true)
	}
}

// closeBoth shuts down the write side of each connection and then closes it.
// Half-close errors are expected once the peer is gone and are not reported.
func closeBoth(conns ...net.Conn) error {
	var err error
	for _, c := range conns {
		if cw, ok := c.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		err = multierr.Append(err, c.Close())
	}
	return err
}
