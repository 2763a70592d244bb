// Command scanner runs the three ingestion triggers (spec.md §4.5): a
// filesystem watcher, an HTTP webhook listener, and a WebSocket client,
// plus the periodic fallback resync.
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
	"github.com/opensubs-io/subsync/scanner"
	"github.com/opensubs-io/subsync/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx); err != nil {
		log.LogError("", "scanner exited with error", err)
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
	sc := scanner.New(cfg, b, svc)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", scanner.NewWebhookRouter(sc))
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return scanner.NewWatcher(sc).Run(gctx)
	})
	group.Go(func() error {
		return scanner.NewWebSocketClient(sc).Run(gctx)
	})
	group.Go(func() error {
		return scanner.NewResync(sc).Run(gctx)
	})
	group.Go(func() error {
		return serveHTTP(gctx, httpSrv)
	})

	log.LogNoJobID("scanner starting", "version", config.Version, "watch_dirs", cfg.ScannerWatchDirs)
	return group.Wait()
}

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
