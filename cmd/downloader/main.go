// Command downloader runs the Downloader worker (spec.md §4.2).
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
	"github.com/opensubs-io/subsync/catalog"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/downloader"
	"github.com/opensubs-io/subsync/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx); err != nil {
		log.LogError("", "downloader exited with error", err)
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

	subtitleCatalog, err := catalog.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("building subtitle catalog: %w", err)
	}

	worker := downloader.New(cfg, b, subtitleCatalog)

	metricsSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: promhttp.Handler()}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(gctx)
	})
	group.Go(func() error {
		return serveHTTP(gctx, metricsSrv)
	})

	log.LogNoJobID("downloader starting", "version", config.Version)
	return group.Wait()
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down within
// config.DefaultShutdownGrace before returning (§5's grace-period rule).
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
