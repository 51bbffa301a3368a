package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/metrics"
)

const (
	publishTimeout = 5 * time.Second

	// RetryHeader counts how many times a delivery went through the retry queue.
	RetryHeader = "x-medchat-retries"
)

// Publisher enqueues analytics events for the ledger worker.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex

	UserID  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type PublisherOption func(*Publisher)

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger.With("component", "rabbitmq")
		}
	}
}

func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

func NewPublisher(url, queue string, opts ...PublisherOption) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	p := &Publisher{
		conn:   conn,
		ch:     ch,
		queue:  queue,
		logger: slog.Default().With("component", "rabbitmq"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// EncodeEvent builds the message published for req.
func EncodeEvent(req analytics.TrackRequest, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(req.EventType),
		Body:         body,
		Timestamp:    now,
	}, nil
}

// DecodeEvent parses a delivery body. Validation is left to the ledger.
func DecodeEvent(body []byte) (analytics.TrackRequest, error) {
	var req analytics.TrackRequest
	err := json.Unmarshal(body, &req)
	return req, err
}

func (p *Publisher) PublishEvent(ctx context.Context, req analytics.TrackRequest) error {
	msg, err := EncodeEvent(req, time.Now())
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		msg,
	)
}

// Emit makes the publisher an analytics.Emitter. Invalid requests are
// dropped here rather than dead-lettered by the worker.
func (p *Publisher) Emit(ctx context.Context, req analytics.TrackRequest) bool {
	if req.UserID == "" {
		req.UserID = p.UserID
	}
	if err := req.Validate(); err != nil {
		p.logger.Warn("dropping invalid analytics event", "err", err)
		p.metrics.Emitted(string(req.EventType), false)
		return false
	}
	err := p.PublishEvent(ctx, req)
	p.metrics.Emitted(string(req.EventType), err == nil)
	if err != nil {
		p.logger.Error("failed to publish analytics event", "event_type", req.EventType, "err", err)
		return false
	}
	return true
}

// Republish sends a failed delivery to the retry queue with a TTL. Once the
// TTL expires it is dead-lettered back into the main queue. mu, if set,
// guards ch.
func Republish(ctx context.Context, ch *amqp.Channel, mu *sync.Mutex, queue string, d amqp.Delivery, delay time.Duration) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = RetryCount(d) + 1

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	return ch.PublishWithContext(cctx, "", RetryQueue(queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Type:         d.Type,
		Headers:      headers,
		Body:         d.Body,
		Timestamp:    d.Timestamp,
		Expiration:   expiration(delay),
	})
}

// RetryCount reads the retry header of d, treating anything unexpected as 0.
func RetryCount(d amqp.Delivery) int32 {
	switch v := d.Headers[RetryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func expiration(delay time.Duration) string {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
