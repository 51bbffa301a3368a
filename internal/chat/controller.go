package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/medchat/internal/agent"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/metrics"
)

type TurnState string

const (
	StateIdle             TurnState = "idle"
	StateAwaitingResponse TurnState = "awaiting_response"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInFlight    = errors.New("a turn is already in flight for this session")
)

const (
	defaultDispatchTimeout = 120 * time.Second
	emitTimeout            = 10 * time.Second
)

type TurnResult struct {
	SessionID string  `json:"session_id"`
	User      Message `json:"user_message"`
	Assistant Message `json:"reply"`
	Failed    bool    `json:"failed"`
}

// Controller runs chat turns against a Store. Analytics are emitted in the
// background; dispatcher failures always end as an assistant apology.
type Controller struct {
	store   *Store
	agents  agent.Resolver
	emitter analytics.Emitter

	dispatchTimeout time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	emits sync.WaitGroup
}

type ControllerOption func(*Controller)

func WithDispatchTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.dispatchTimeout = d
		}
	}
}

func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger.With("component", "chat")
		}
	}
}

func WithControllerMetrics(m *metrics.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

func NewController(store *Store, agents agent.Resolver, emitter analytics.Emitter, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:           store,
		agents:          agents,
		emitter:         emitter,
		dispatchTimeout: defaultDispatchTimeout,
		logger:          slog.Default().With("component", "chat"),
		inflight:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Store() *Store { return c.store }

// Open resolves the session a view of kind should show (see Store.Resolve)
// and bootstraps it with a welcome message if it is empty.
func (c *Controller) Open(kind agent.Kind, requestedID string) string {
	id, created := c.store.Resolve(kind, requestedID)
	if created {
		c.logger.Info("created session", "session_id", id, "kind", kind)
	}
	c.Bootstrap(id)
	return id
}

// NewSession creates an empty session of kind, makes it active and persists
// the cache.
func (c *Controller) NewSession(kind agent.Kind) string {
	id := c.store.CreateSession(kind)
	c.store.SetActive(id)
	c.flush()
	return id
}

// ClearSession empties the session's history and cancels any in-flight turn.
// The canceled turn's reply is dropped rather than appended to the new,
// empty history.
func (c *Controller) ClearSession(sessionID string) bool {
	ok := c.store.ClearSession(sessionID)
	c.Cancel(sessionID)
	if !ok {
		return false
	}
	c.flush()
	return true
}

func (c *Controller) DeleteSession(sessionID string) bool {
	ok := c.store.DeleteSession(sessionID)
	c.Cancel(sessionID)
	if !ok {
		return false
	}
	c.flush()
	return true
}

// Bootstrap appends the kind's welcome message and emits a session event,
// but only while the session has no messages.
func (c *Controller) Bootstrap(sessionID string) bool {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return false
	}
	if _, ok := c.store.AddMessageIfEmpty(sessionID, Message{
		Role:    RoleAssistant,
		Content: WelcomeMessage(sess.Type),
	}); !ok {
		return false
	}
	c.emit(analytics.TrackRequest{
		EventType: analytics.EventSession,
		AgentType: analytics.AgentType(sess.Type),
		SessionID: sessionID,
	})
	c.flush()
	return true
}

// SubmitTurn runs one user turn. Precondition failures are returned before
// anything is mutated; once the user message is appended the turn always
// completes with an assistant message and a nil error.
func (c *Controller) SubmitTurn(ctx context.Context, sessionID string, kind agent.Kind, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if kind == "" {
		kind = sess.Type
	}

	dctx, release, err := c.begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	userMsg, gen, ok := c.store.AddMessageGen(sessionID, Message{Role: RoleUser, Content: text})
	if !ok {
		return nil, ErrSessionNotFound
	}

	c.emit(analytics.TrackRequest{
		EventType: analytics.EventMessage,
		AgentType: analytics.AgentType(kind),
		SessionID: sessionID,
	})

	reply, err := c.dispatch(dctx, kind, sessionID, text)
	if err != nil {
		c.logger.Warn("dispatch failed", "session_id", sessionID, "kind", kind, "err", err)
	}

	plan := planReply(kind, reply, err)
	assistantMsg, appended := c.store.AddMessageIfGen(sessionID, gen, plan.message)
	if !appended {
		// the history this reply answers is gone
		c.logger.Info("session cleared or deleted during turn", "session_id", sessionID)
		assistantMsg = plan.message
	}

	if appended && plan.bookingOffered {
		c.emit(analytics.TrackRequest{
			EventType: analytics.EventBooking,
			AgentType: analytics.AgentSymptom,
			SessionID: sessionID,
			Metadata:  map[string]any{"bookingOffered": true},
		})
	}

	outcome := "ok"
	if plan.failed {
		outcome = "failed"
	}
	c.metrics.TurnCompleted(string(kind), outcome)
	c.flush()

	return &TurnResult{
		SessionID: sessionID,
		User:      userMsg,
		Assistant: assistantMsg,
		Failed:    plan.failed,
	}, nil
}

func (c *Controller) dispatch(ctx context.Context, kind agent.Kind, sessionID, text string) (*agent.Reply, error) {
	d, err := c.agents.Get(ctx, kind)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	reply, err := d.Dispatch(ctx, agent.Request{Message: text, SessionID: sessionID})
	c.metrics.ObserveDispatch(string(kind), time.Since(start))
	return reply, err
}

// begin marks sessionID as awaiting a response. The returned release must be
// called exactly once; it clears the state and cancels the dispatch context.
func (c *Controller) begin(ctx context.Context, sessionID string) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[sessionID]; busy {
		return nil, nil, ErrTurnInFlight
	}
	dctx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	c.inflight[sessionID] = cancel
	release := func() {
		c.mu.Lock()
		delete(c.inflight, sessionID)
		c.mu.Unlock()
		cancel()
	}
	return dctx, release, nil
}

// Cancel aborts the in-flight dispatch for sessionID, if any. The turn then
// completes with the apology message.
func (c *Controller) Cancel(sessionID string) bool {
	c.mu.Lock()
	cancel, ok := c.inflight[sessionID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (c *Controller) State(sessionID string) TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[sessionID]; busy {
		return StateAwaitingResponse
	}
	return StateIdle
}

func (c *Controller) emit(req analytics.TrackRequest) {
	if c.emitter == nil {
		return
	}
	c.emits.Add(1)
	analytics.EmitAsync(c.emitter, req, emitTimeout, func(ok bool) {
		defer c.emits.Done()
		if !ok {
			c.logger.Debug("analytics emit dropped", "event_type", req.EventType, "session_id", req.SessionID)
		}
	})
}

func (c *Controller) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Error("failed to persist sessions", "err", err)
	}
}

// Wait blocks until every background analytics emit has finished.
func (c *Controller) Wait() {
	c.emits.Wait()
}
