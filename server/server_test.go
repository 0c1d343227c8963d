package server_test

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/asayers/jetrelay/internal/control"
	"github.com/asayers/jetrelay/internal/handshake"
	"github.com/asayers/jetrelay/server"
)

// fakeUpstream runs a minimal websocket server that completes the upgrade
// handshake and then holds the connection open without sending frames, so
// a Server's copier can connect and idle during lifecycle tests.
func fakeUpstream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				req, err := handshake.Read(bufio.NewReader(c))
				if err != nil {
					c.Close()
					return
				}
				handshake.WriteUpgradeResponse(c, req)
			}(conn)
		}
	}()
	return "ws://" + ln.Addr().String() + "/subscribe"
}

func testConfig(t *testing.T) control.Config {
	return control.Config{
		Port:             "0",
		RuntimeDirectory: t.TempDir(),
		UpstreamURL:      fakeUpstream(t),
		EngineQueueDepth: 8,
	}
}

func TestServerStartsAndShutsDownCleanly(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	srv, err := server.New(log, testConfig(t), reg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()

	// Give every subsystem a moment to start before tearing down.
	time.Sleep(20 * time.Millisecond)
	srv.Shutdown()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestServerRejectsDoubleRun(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	srv, err := server.New(log, testConfig(t), reg)
	require.NoError(t, err)

	go func() { srv.Run() }()
	time.Sleep(10 * time.Millisecond)
	defer srv.Shutdown()

	err = srv.Run()
	require.ErrorIs(t, err, server.ErrAlreadyRunning)
}

func TestServerRunFailsWhenUpstreamUnreachable(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	cfg := testConfig(t)
	cfg.UpstreamURL = "ws://127.0.0.1:1/subscribe" // nothing listens here

	srv, err := server.New(log, cfg, reg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()

	select {
	case err := <-runErr:
		require.Error(t, err, "an unreachable upstream is fatal")
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not surface the dial failure")
	}
}
