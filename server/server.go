package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Suhaibinator/CraftRouter/internal/backend"
	"github.com/Suhaibinator/CraftRouter/internal/config"
	"github.com/Suhaibinator/CraftRouter/internal/control"
	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"github.com/Suhaibinator/CraftRouter/internal/proxy_router"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	shutdownTimeout = 5 * time.Second

	// An accept loop gives up after this many consecutive failures, backing
	// off between them.
	maxAcceptRetries = 8
	maxAcceptBackoff = time.Second
)

// parseLogLevel tries to parse the user-provided level string into a zapcore.Level.
func parseLogLevel(levelStr string) zapcore.Level {
	if levelStr == "" {
		return zapcore.InfoLevel
	}

	lvl, err := zapcore.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		log.Printf("Unknown log level %q; defaulting to INFO\n", levelStr)
		return zapcore.InfoLevel
	}
	return lvl
}

// Server owns the protocol listener, the control listener and the optional
// metrics listener, all sharing one route table.
type Server struct {
	cfg    *config.Config
	store  config.Store
	routes *backend.RouteTable
	proxy  *backend.Proxy

	controlSrv *http.Server
	metricsSrv *http.Server

	proxyLn   net.Listener
	controlLn net.Listener
	metricsLn net.Listener
}

// New builds a server from a loaded snapshot. store receives the updated
// snapshot when Serve shuts down.
func New(cfg *config.Config, store config.Store) (*Server, error) {
	routes, err := backend.NewRouteTableFromConfig(cfg.Routes)
	if err != nil {
		return nil, err
	}

	sniffer := proxy_router.HandshakeSniffer{
		MaxFrameSize: cfg.Handshake.MaxFrameSize,
		Timeout:      cfg.Handshake.Timeout.Duration,
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		routes: routes,
		proxy:  backend.NewProxy(sniffer, routes, backend.NewDialer(cfg.DialTimeout.Duration)),
		controlSrv: &http.Server{
			Handler:           control.NewRouter(&backend.Registrar{Routes: routes}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.MetricsAddr != "" {
		s.metricsSrv = &http.Server{
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s, nil
}

// Listen binds every listener. Nothing is bound if any of them fails.
func (s *Server) Listen() error {
	var err error
	s.proxyLn, err = net.Listen("tcp", s.cfg.MinecraftProxy)
	if err != nil {
		return fmt.Errorf("failed to create proxy listener on %s: %w", s.cfg.MinecraftProxy, err)
	}

	s.controlLn, err = net.Listen("tcp", s.cfg.HttpApiServer)
	if err != nil {
		s.proxyLn.Close()
		return fmt.Errorf("failed to create http api listener on %s: %w", s.cfg.HttpApiServer, err)
	}

	if s.metricsSrv != nil {
		s.metricsLn, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			s.proxyLn.Close()
			s.controlLn.Close()
			return fmt.Errorf("failed to create metrics listener on %s: %w", s.cfg.MetricsAddr, err)
		}
	}
	return nil
}

func (s *Server) ProxyAddr() net.Addr   { return s.proxyLn.Addr() }
func (s *Server) ControlAddr() net.Addr { return s.controlLn.Addr() }

// MetricsAddr returns nil when the metrics listener is disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

func (s *Server) Routes() *backend.RouteTable { return s.routes }

// Serve accepts connections until ctx is cancelled, then stops the listeners
// and saves the snapshot. Sessions already relaying are left running; they end
// with the process.
//
// If a listener fails before ctx is cancelled, Serve returns that error and
// does not save.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 3)

	zap.S().Infof("Minecraft proxy started on %s", s.proxyLn.Addr())
	go func() {
		if err := s.acceptLoop(ctx); err != nil {
			errCh <- fmt.Errorf("error while accepting proxy connections: %w", err)
		}
	}()

	zap.S().Infof("HTTP api server started on %s", s.controlLn.Addr())
	go func() {
		if err := s.controlSrv.Serve(s.controlLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("error while serving http api: %w", err)
		}
	}()

	if s.metricsSrv != nil {
		zap.S().Infof("Metrics server started on %s", s.metricsLn.Addr())
		go func() {
			if err := s.metricsSrv.Serve(s.metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("error while serving metrics: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	stopErr := s.stop()
	if serveErr != nil {
		return multierr.Append(serveErr, stopErr)
	}

	zap.S().Info("Gracefully shutting down")
	return multierr.Append(stopErr, s.save(context.WithoutCancel(ctx)))
}

// acceptLoop hands each accepted connection to the proxy. It returns nil once
// the listener is closed, or the last error after maxAcceptRetries failures
// in a row.
func (s *Server) acceptLoop(ctx context.Context) error {
	var failures int
	backoff := 5 * time.Millisecond
	for {
		conn, err := s.proxyLn.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			if failures >= maxAcceptRetries {
				return err
			}
			zap.S().Errorf("Accept error (retrying in %s): %v", backoff, err)
			time.Sleep(backoff)
			backoff = min(2*backoff, maxAcceptBackoff)
			continue
		}
		failures = 0
		backoff = 5 * time.Millisecond
		go s.proxy.HandleConnection(ctx, conn)
	}
}

func (s *Server) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.proxyLn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	err = multierr.Append(err, s.controlSrv.Shutdown(ctx))
	if s.metricsSrv != nil {
		err = multierr.Append(err, s.metricsSrv.Shutdown(ctx))
	}
	return err
}

func (s *Server) save(ctx context.Context) error {
	snapshot := *s.cfg
	snapshot.Routes = s.routes.Snapshot()
	if err := s.store.Save(ctx, &snapshot); err != nil {
		return fmt.Errorf("error while saving snapshot: %w", err)
	}
	zap.S().Infof("Saved %d routes", len(snapshot.Routes))
	return nil
}

// Run loads the snapshot from store, serves until ctx is cancelled and saves
// the snapshot back. A snapshot that exists but cannot be read, or one that
// cannot be written at shutdown, is returned as an error.
func Run(ctx context.Context, store config.Store) error {
	if ctx == nil {
		ctx = context.Background()
	}

	zapCfg := zap.NewProductionConfig()
	logger, err := zapCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := store.Load(ctx)
	if err != nil {
		return err
	}
	lvl := parseLogLevel(cfg.LogLevel)
	zapCfg.Level.SetLevel(lvl)
	zap.S().Infof("Log level set to %s", lvl)

	srv, err := New(cfg, store)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// RunWithSnapshotFile runs the server with its snapshot kept in a file.
func RunWithSnapshotFile(ctx context.Context, path string) error {
	return Run(ctx, config.FileStore{Path: path})
}
