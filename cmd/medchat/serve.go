package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/medchat/internal/agent"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/config"
	"github.com/suPer8Hu/medchat/internal/httpapi"
	"github.com/suPer8Hu/medchat/internal/metrics"
)

func serveCmd(logLevel *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analytics ledger and chat API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*logLevel)
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; overrides HTTP_ADDR")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	m := metrics.New()

	ledger := analytics.NewLedger(cfg.LedgerPath, analytics.WithLogger(logger), analytics.WithMetrics(m))

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	emitter, closeEmitter, err := newEmitter(cfg, ledger, logger, m)
	if err != nil {
		return err
	}
	defer closeEmitter()

	ctrl := chat.NewController(store,
		agent.NewHTTPRegistry(cfg.AgentBaseURL, cfg.DispatchTimeout),
		emitter,
		chat.WithDispatchTimeout(cfg.DispatchTimeout),
		chat.WithControllerLogger(logger),
		chat.WithControllerMetrics(m),
	)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Ledger:  ledger,
			Chat:    ctrl,
			Metrics: m,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			"addr", cfg.HTTPAddr,
			"ledger", cfg.LedgerPath,
			"session_backend", cfg.SessionBackend,
			"analytics_transport", cfg.AnalyticsTransport,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	ctrl.Wait()
	if err := store.Flush(shutdownCtx); err != nil {
		logger.Error("final session flush failed", "err", err)
	}
	return nil
}
