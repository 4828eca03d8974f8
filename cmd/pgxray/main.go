// Command pgxray runs the transparent PostgreSQL proxy: it binds a listen
// address, forwards every byte to the upstream server unaltered, and
// publishes query/latency/error observations to a raw-mode line stream (or
// a future TUI) while mirroring the same counters on /metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mevdschee/pgxray/config"
	"github.com/mevdschee/pgxray/fingerprint"
	"github.com/mevdschee/pgxray/metrics"
	"github.com/mevdschee/pgxray/proxy"
	"github.com/mevdschee/pgxray/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	listenAddr := flag.String("listen", ":5433", "address to accept client connections on")
	upstreamAddr := flag.String("upstream", "127.0.0.1:5432", "upstream PostgreSQL address")
	mode := flag.String("mode", "raw", "display mode: raw or tui")
	threshold := flag.Uint64("threshold", 100, "slow-query threshold in milliseconds")
	metricsAddr := flag.String("metrics", ":9090", "metrics endpoint address")
	flag.Parse()

	if *listenAddr == "" || *upstreamAddr == "" {
		fmt.Fprintln(os.Stderr, "pgxray: --listen and --upstream are required")
		return 2
	}

	cfg := config.Default()
	cfg.ListenAddr = *listenAddr
	cfg.UpstreamAddr = *upstreamAddr
	cfg.Mode = *mode
	cfg.SlowThreshold = *threshold

	metrics.Init()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("[Metrics] listening on http://localhost%s/metrics", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Printf("[Metrics] server error: %v", err)
		}
	}()

	bus := telemetry.NewBus(cfg.BusCapacity)
	fpCache, err := fingerprint.NewCache(4)
	if err != nil {
		log.Printf("[Main] fingerprint cache init failed: %v", err)
		return 1
	}
	defer fpCache.Close()

	agg := telemetry.NewAggregator(bus, cfg.RingSize, cfg.FingerprintTableSize, fpCache, cfg.SlowThreshold)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aggDone := make(chan error, 1)
	go func() { aggDone <- agg.Run(ctx) }()

	if cfg.Mode != "raw" {
		log.Printf("[Main] mode %q has no renderer in this build; falling back to raw", cfg.Mode)
	}
	go runRawWriter(ctx, agg, os.Stdout)

	ln := proxy.New(cfg.ListenAddr, cfg.UpstreamAddr, bus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveDone := make(chan error, 1)
	go func() { serveDone <- ln.ListenAndServe(ctx) }()

	select {
	case err := <-serveDone:
		if err != nil {
			log.Printf("[Main] listener bind failed: %v", err)
			cancel()
			return 1
		}
	case <-sigCh:
		log.Println("[Main] shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := ln.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Main] shutdown: %v", err)
		}
	}

	<-aggDone
	return 0
}
