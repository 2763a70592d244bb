// Command orchestrator runs the HTTP-facing submission and query API
// (spec.md §4.1).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/log"
	"github.com/opensubs-io/subsync/orchestrator"
	"github.com/opensubs-io/subsync/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx); err != nil {
		log.LogError("", "orchestrator exited with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	b, err := broker.Dial(cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	defer b.Close()

	s, err := store.NewRedisStore(cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}

	svc := orchestrator.New(cfg, b, s)
	router := orchestrator.NewRouter(cfg, svc)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serveHTTP(gctx, srv)
	})

	log.LogNoJobID("orchestrator starting", "addr", cfg.HTTPAddr, "version", config.Version)
	return group.Wait()
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down within
// config.DefaultShutdownGrace before returning (§5 "worker stops accepting
// new messages, waits up to a grace period for in-flight work").
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
