package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/config"
	"github.com/suPer8Hu/medchat/internal/db"
	"github.com/suPer8Hu/medchat/internal/metrics"
	"github.com/suPer8Hu/medchat/internal/store/rabbitmq"
)

func noop() {}

// newPersister picks the session cache backend. The returned close func is
// always non-nil.
func newPersister(ctx context.Context, cfg config.Config) (chat.Persister, func(), error) {
	switch cfg.SessionBackend {
	case "", "memory":
		return nil, noop, nil

	case "sqlite", "mysql":
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return nil, noop, err
		}
		repo, err := chat.NewRepo(gdb)
		if err != nil {
			_ = db.Close(gdb)
			return nil, noop, err
		}
		return repo, func() { _ = db.Close(gdb) }, nil

	case "redis":
		cache := chat.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := cache.Ping(pctx); err != nil {
			_ = cache.Close()
			return nil, noop, fmt.Errorf("redis ping: %w", err)
		}
		return cache, func() { _ = cache.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unsupported SESSION_BACKEND=%q", cfg.SessionBackend)
}

// newStore builds the session store and restores it from its backend.
func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*chat.Store, func(), error) {
	p, closeFn, err := newPersister(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}
	var opts []chat.StoreOption
	if p != nil {
		opts = append(opts, chat.WithPersister(p))
	}
	store := chat.NewStore(opts...)
	if err := store.Load(ctx); err != nil {
		// a broken cache should not keep the user out
		logger.Warn("failed to restore sessions, starting empty", "backend", cfg.SessionBackend, "err", err)
	}
	return store, closeFn, nil
}

// newEmitter picks where chat analytics go. ledger may be nil when this
// process does not host one.
func newEmitter(cfg config.Config, ledger *analytics.Ledger, logger *slog.Logger, m *metrics.Metrics) (analytics.Emitter, func(), error) {
	switch cfg.AnalyticsTransport {
	case "", "local":
		if ledger == nil {
			ledger = analytics.NewLedger(cfg.LedgerPath, analytics.WithLogger(logger), analytics.WithMetrics(m))
		}
		return userIDEmitter{next: ledger, userID: cfg.UserID}, noop, nil

	case "http":
		c := analytics.NewCollector(cfg.AnalyticsURL, logger, m)
		c.UserID = cfg.UserID
		return c, noop, nil

	case "rabbit":
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.WithLogger(logger), rabbitmq.WithMetrics(m))
		if err != nil {
			return nil, noop, fmt.Errorf("rabbit publisher: %w", err)
		}
		p.UserID = cfg.UserID
		return p, func() { _ = p.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unsupported ANALYTICS_TRANSPORT=%q", cfg.AnalyticsTransport)
}

// userIDEmitter stamps the configured user on events bound for an
// in-process ledger.
type userIDEmitter struct {
	next   analytics.Emitter
	userID string
}

func (e userIDEmitter) Emit(ctx context.Context, req analytics.TrackRequest) bool {
	if req.UserID == "" {
		req.UserID = e.userID
	}
	return e.next.Emit(ctx, req)
}
