// Command jetrelay runs the fan-out relay: it dials the upstream Jetstream
// websocket, persists frames to a local spool, and serves downstream
// subscribers over /subscribe.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asayers/jetrelay/internal/control"
	"github.com/asayers/jetrelay/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "jetrelay: no .env file found, reading environment directly")
	}

	cfg, err := control.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "jetrelay:", err)
		os.Exit(1)
	}

	filter, err := control.ParseFilter(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jetrelay: parsing log filter:", err)
		os.Exit(1)
	}
	log := control.NewLogger(filter)

	reg := prometheus.NewRegistry()
	srv, err := server.New(log.With("component", "server"), cfg, reg)
	if err != nil {
		log.Error("failed to construct server", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(srv.Probes().DumpState())
	})
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}
	go func() {
		log.Info("serving metrics", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Info("received shutdown signal", "signal", sig)
		srv.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(ctx)
	}()

	if err := srv.Run(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
