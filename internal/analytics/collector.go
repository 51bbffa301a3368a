package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/suPer8Hu/medchat/internal/metrics"
)

// Collector forwards events to a remote ledger over HTTP. It never returns
// errors to its caller; failures are logged.
type Collector struct {
	Endpoint string
	Client   *http.Client
	UserID   string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

type trackResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Data    *Summary `json:"data,omitempty"`
}

func NewCollector(endpoint string, logger *slog.Logger, m *metrics.Metrics) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "collector"),
		metrics:  m,
	}
}

func (c *Collector) Emit(ctx context.Context, req TrackRequest) bool {
	if req.UserID == "" {
		req.UserID = c.UserID
	}
	ok := c.post(ctx, req)
	c.metrics.Emitted(string(req.EventType), ok)
	return ok
}

func (c *Collector) post(ctx context.Context, req TrackRequest) bool {
	b, err := json.Marshal(req)
	if err != nil {
		c.logger.Error("failed to track analytics", "err", err)
		return false
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
	if err != nil {
		c.logger.Error("failed to track analytics", "err", err)
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		c.logger.Error("failed to track analytics", "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("error tracking analytics", "status", resp.StatusCode)
		return false
	}
	return true
}

// FetchSummary returns the remote summary, or ZeroSummary on any failure.
func (c *Collector) FetchSummary(ctx context.Context) Summary {
	s, err := c.fetchSummary(ctx)
	if err != nil {
		c.logger.Error("failed to fetch analytics summary", "err", err)
		return ZeroSummary()
	}
	return s
}

func (c *Collector) fetchSummary(ctx context.Context) (Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return Summary{}, err
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Summary{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Summary{}, fmt.Errorf("error fetching analytics: %d", resp.StatusCode)
	}

	var decoded trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Summary{}, err
	}
	if decoded.Status != "success" || decoded.Data == nil {
		return Summary{}, fmt.Errorf("unexpected response status %q", decoded.Status)
	}
	if decoded.Data.MessagesByAgent == nil {
		decoded.Data.MessagesByAgent = map[AgentType]int{}
	}
	return *decoded.Data, nil
}

// EmitAsync runs e.Emit on its own goroutine, detached from the caller's
// context, bounded by timeout. done (may be nil) is called afterwards.
func EmitAsync(e Emitter, req TrackRequest, timeout time.Duration, done func(ok bool)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ok := e.Emit(ctx, req)
		if done != nil {
			done(ok)
		}
	}()
}
