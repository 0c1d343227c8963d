// Package acceptor runs the TCP accept loop: one handshake worker per
// incoming connection, initial replay-offset resolution, and non-blocking
// handoff of each upgraded client to the Delivery Engine.
package acceptor

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	"github.com/asayers/jetrelay/internal/delivery"
	"github.com/asayers/jetrelay/internal/handshake"
	"github.com/asayers/jetrelay/internal/spool"
	"github.com/asayers/jetrelay/internal/timeindex"
)

// ErrListenerClosed is returned by Serve once its listener has been closed.
var ErrListenerClosed = errors.New("acceptor: listener closed")

// Acceptor owns the listening socket and spawns one handshake goroutine
// per accepted connection.
type Acceptor struct {
	log      *slog.Logger
	listener net.Listener
	spool    *spool.Spool
	index    *timeindex.Index
	engine   *delivery.Engine

	nextClientID atomic.Uint32
}

// New binds addr and returns an Acceptor ready to Serve.
func New(log *slog.Logger, addr string, sp *spool.Spool, idx *timeindex.Index, engine *delivery.Engine) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("acceptor: listen %s: %w", addr, err)
	}
	return &Acceptor{
		log:      log,
		listener: ln,
		spool:    sp,
		index:    idx,
		engine:   engine,
	}, nil
}

// Addr returns the bound listen address, useful when addr was ":0".
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

// Serve accepts connections until the listener is closed, spawning a
// handshake goroutine for each. It always returns a non-nil error.
func (a *Acceptor) Serve() error {
	a.log.Info("listening for client connections", "addr", a.listener.Addr())
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return ErrListenerClosed
			}
			return fmt.Errorf("acceptor: accept: %w", err)
		}
		go a.handleConnection(conn)
	}
}

// handleConnection performs the handshake, resolves the client's initial
// offset, and hands it to the Delivery Engine. Any error here only drops
// this one connection.
func (a *Acceptor) handleConnection(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		a.log.Error("accepted non-TCP connection")
		return
	}
	tcpConn.SetNoDelay(true)

	peer := conn.RemoteAddr()
	log := a.log.With("peer", peer)

	br := bufio.NewReader(conn)
	req, err := handshake.Read(br)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		conn.Close()
		return
	}
	if err := handshake.WriteUpgradeResponse(conn, req); err != nil {
		log.Warn("failed to write handshake response", "error", err)
		conn.Close()
		return
	}

	cfg, err := handshake.ParseClientConfig(a.log, req.RawPath)
	if err != nil {
		log.Warn("invalid subscribe query parameters", "error", err)
		conn.Close()
		return
	}
	if len(cfg.WantedCollections) > 0 || len(cfg.WantedDIDs) > 0 || cfg.MaxMessageSizeBytes != 0 {
		log.Warn("per-client filtering is not implemented; ignoring filter parameters")
	}
	if cfg.Compress {
		log.Warn("compression is not implemented; ignoring compress parameter")
	}
	if cfg.RequireHello {
		log.Warn("interactive hello mode is not implemented; ignoring requireHello parameter")
	}

	offset := a.resolveOffset(cfg)
	log.Info("handshake complete", "offset", offset)

	id := a.nextClientID.Add(1)
	client, err := delivery.NewClient(id, tcpConn, offset)
	if err != nil {
		log.Error("failed to construct client", "error", err)
		conn.Close()
		return
	}

	if !a.engine.Register(client) {
		log.Warn("delivery engine queue full; dropping client")
		client.Close()
		return
	}
}

// resolveOffset maps a client's requested cursor to a starting spool
// offset: the current spool length when no cursor was given, the index's
// first offset at or after the cursor timestamp when one was, or the
// current spool length if the cursor is past every known timestamp.
func (a *Acceptor) resolveOffset(cfg handshake.ClientConfig) uint64 {
	if !cfg.HasCursor {
		return a.spool.Len()
	}
	if off, ok := a.index.FirstOffsetAtOrAfter(cfg.Cursor); ok {
		return off
	}
	return a.spool.Len()
}
