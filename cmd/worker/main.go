package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/config"
	"github.com/suPer8Hu/medchat/internal/logging"
	"github.com/suPer8Hu/medchat/internal/store/rabbitmq"
)

const (
	maxRetries = 3
	retryDelay = 2 * time.Second
)

type action int

const (
	ack action = iota
	retry
	drop // nack without requeue; the main queue dead-letters it
)

// process appends one queued event to the ledger and decides what happens
// to the delivery.
func process(ctx context.Context, ledger *analytics.Ledger, body []byte) (action, error) {
	req, err := rabbitmq.DecodeEvent(body)
	if err != nil {
		return drop, err
	}
	if _, err := ledger.Track(ctx, req); err != nil {
		var verr *analytics.ValidationError
		if errors.As(err, &verr) {
			return drop, err
		}
		return retry, err
	}
	return ack, nil
}

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).With("component", "worker")

	ledger := analytics.NewLedger(cfg.LedgerPath, analytics.WithLogger(logger))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency, "ledger", cfg.LedgerPath)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)
	var pubMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				handle(ctx, logger.With("worker", workerID), ch, &pubMu, cfg.RabbitQueue, ledger, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(deliveries)
				wg.Wait()
				return
			}
			deliveries <- d
		}
	}
}

func handle(ctx context.Context, logger *slog.Logger, ch *amqp.Channel, pubMu *sync.Mutex, queue string, ledger *analytics.Ledger, d amqp.Delivery) {
	start := time.Now()
	act, err := process(ctx, ledger, d.Body)

	switch act {
	case ack:
		if err := d.Ack(false); err != nil {
			logger.Error("ack failed", "err", err)
		}
		if cost := time.Since(start); cost > 500*time.Millisecond {
			logger.Warn("slow append", "cost", cost, "event_type", d.Type)
		}

	case drop:
		logger.Warn("dropping bad message", "err", err, "body_bytes", len(d.Body))
		_ = d.Nack(false, false)

	case retry:
		n := rabbitmq.RetryCount(d)
		if n >= maxRetries {
			logger.Error("giving up on message", "retries", n, "err", err)
			_ = d.Nack(false, false)
			return
		}
		logger.Warn("append failed, scheduling retry", "retries", n, "err", err)
		if perr := rabbitmq.Republish(ctx, ch, pubMu, queue, d, retryDelay*time.Duration(n+1)); perr != nil {
			logger.Error("republish failed", "err", perr)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
	}
}
