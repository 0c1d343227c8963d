// Package server composes the relay's five fixed components (spool,
// time index, Upstream Copier, Acceptor, and Delivery Engine) into one
// runnable service, and owns its startup and shutdown.
//
// The listener binds before the upstream dial, so clients can connect
// immediately even though they won't receive data until upstream frames
// start landing in the spool.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asayers/jetrelay/internal/acceptor"
	"github.com/asayers/jetrelay/internal/control"
	"github.com/asayers/jetrelay/internal/delivery"
	"github.com/asayers/jetrelay/internal/kernel"
	"github.com/asayers/jetrelay/internal/spool"
	"github.com/asayers/jetrelay/internal/timeindex"
	"github.com/asayers/jetrelay/internal/upstream"
)

// ErrAlreadyRunning is returned by Run if called more than once on the
// same Server.
var ErrAlreadyRunning = errors.New("server: already running")

// Server owns every subsystem and coordinates their lifecycles.
type Server struct {
	log     *slog.Logger
	cfg     control.Config
	metrics *control.Metrics
	probes  *control.Probes

	spool  *spool.Spool
	index  *timeindex.Index
	engine *delivery.Engine
	accept *acceptor.Acceptor
	copier *upstream.Copier

	shutdown chan struct{}
	running  bool
}

// New wires every subsystem together but does not start any of them.
func New(log *slog.Logger, cfg control.Config, reg prometheus.Registerer) (*Server, error) {
	sp, err := spool.Open(cfg.RuntimeDirectory)
	if err != nil {
		return nil, fmt.Errorf("server: opening spool: %w", err)
	}

	idx := timeindex.New()
	metrics := control.NewMetrics(reg)
	probes := control.NewProbes()

	q, err := kernel.NewQueue()
	if err != nil {
		sp.Close()
		return nil, fmt.Errorf("server: setting up kernel queue: %w", err)
	}

	engine, err := delivery.NewEngine(log.With("component", "engine"), q, sp, cfg.EngineQueueDepth)
	if err != nil {
		sp.Close()
		q.Close()
		return nil, fmt.Errorf("server: constructing delivery engine: %w", err)
	}

	accept, err := acceptor.New(log.With("component", "acceptor"), ":"+cfg.Port, sp, idx, engine)
	if err != nil {
		sp.Close()
		q.Close()
		return nil, fmt.Errorf("server: binding acceptor: %w", err)
	}

	engine.SetMetrics(metrics)

	copier := upstream.NewCopier(log.With("component", "upstream"), sp, idx)
	copier.SetMetrics(metrics)

	probes.Register("spool_length", func() any { return sp.Len() })
	probes.Register("time_index_size", func() any { return idx.Len() })

	return &Server{
		log:      log,
		cfg:      cfg,
		metrics:  metrics,
		probes:   probes,
		spool:    sp,
		index:    idx,
		engine:   engine,
		accept:   accept,
		copier:   copier,
		shutdown: make(chan struct{}),
	}, nil
}

// Run starts every subsystem and blocks until Shutdown is called or a
// subsystem fails fatally.
func (s *Server) Run() error {
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true

	acceptErrCh := make(chan error, 1)
	go func() { acceptErrCh <- s.accept.Serve() }()

	engineErrCh := make(chan error, 1)
	go func() { engineErrCh <- s.engine.Run(s.shutdown) }()

	copierErrCh := make(chan error, 1)
	go func() { copierErrCh <- s.runCopier() }()

	go s.reportMetrics()

	var fatal error
	select {
	case err := <-acceptErrCh:
		if !errors.Is(err, acceptor.ErrListenerClosed) {
			s.log.Error("acceptor failed", "error", err)
			fatal = err
		}
	case err := <-engineErrCh:
		if err != nil {
			s.log.Error("delivery engine failed", "error", err)
			fatal = err
		}
	case err := <-copierErrCh:
		if !s.shuttingDown() {
			s.log.Error("upstream copier failed", "error", err)
			fatal = err
		}
	case <-s.shutdown:
	}

	closeErr := s.Close()
	if fatal != nil {
		return fatal
	}
	return closeErr
}

// runCopier dials the upstream once and copies frames until the connection
// ends. There is no redundant upstream to fail over to: any copier error
// is fatal to the relay and the operator restarts the process.
func (s *Server) runCopier() error {
	conn, err := upstream.Dial(s.cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("server: dialing upstream: %w", err)
	}
	defer conn.Close()
	go func() {
		<-s.shutdown
		conn.Close()
	}()
	return s.copier.Run(conn)
}

func (s *Server) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// reportMetrics periodically snapshots spool length into its Prometheus
// gauge until shutdown.
func (s *Server) reportMetrics() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.metrics.SpoolLength.Set(float64(s.spool.Len()))
		}
	}
}

// Shutdown signals every subsystem to stop. Safe to call more than once.
func (s *Server) Shutdown() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// Close signals shutdown, closes the listener and closes the spool. The
// delivery engine's kernel queue is not closed here. Called automatically
// at the end of Run, but exposed for callers that construct a Server
// without calling Run (e.g. in tests).
func (s *Server) Close() error {
	s.Shutdown()
	s.accept.Close()
	return s.spool.Close()
}

// Probes exposes the server's debug probe registry.
func (s *Server) Probes() *control.Probes {
	return s.probes
}
