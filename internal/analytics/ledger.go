package analytics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/suPer8Hu/medchat/internal/metrics"
)

// Ledger is the append-only analytics file. Appends are serialized and each
// record lands with a single write; summaries hold a shared lock for the whole
// scan so they never see a partial record. The in-process mutex is paired
// with an advisory lock on a sibling ".lock" file so separate processes
// writing the same ledger also serialize.
type Ledger struct {
	path    string
	mu      sync.RWMutex
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const lockRetryDelay = 10 * time.Millisecond

type LedgerOption func(*Ledger)

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger.With("component", "ledger")
		}
	}
}

func WithMetrics(m *metrics.Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(path string, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		path:   path,
		now:    time.Now,
		logger: slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Path() string { return l.path }

// Track validates and stamps req, then appends it.
func (l *Ledger) Track(ctx context.Context, req TrackRequest) (Event, error) {
	ev, err := NewEvent(req, l.now())
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			l.metrics.LedgerRejected()
		}
		return Event{}, err
	}
	if err := l.Append(ctx, ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Append writes one record. The directory, file and header are created on
// demand before every append.
func (l *Ledger) Append(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.EventType == "" || ev.AgentType == "" {
		l.metrics.LedgerRejected()
		return (TrackRequest{EventType: ev.EventType, AgentType: ev.AgentType}).Validate()
	}

	line, err := encodeRecords(ev.record())
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	unlock, err := l.lockFile(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := l.openForAppend()
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	l.metrics.LedgerAppended(string(ev.EventType))
	l.logger.Debug("appended event",
		"event_type", ev.EventType,
		"agent_type", ev.AgentType,
		"session_id", ev.SessionID,
	)
	return nil
}

// lockFile takes the cross-process lock, exclusive for writers and shared for
// readers. A fresh Flock per call keeps concurrent readers independent.
func (l *Ledger) lockFile(ctx context.Context, exclusive bool) (func(), error) {
	fl := flock.New(l.path + ".lock")
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock ledger: %s is busy", fl.Path())
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			l.logger.Warn("failed to release ledger lock", "path", fl.Path(), "err", err)
		}
	}, nil
}

// openForAppend must be called with both locks held.
func (l *Ledger) openForAppend() (*os.File, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat ledger: %w", err)
	}
	if st.Size() == 0 {
		header, err := encodeRecords(Header)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if _, err := f.Write(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
		l.logger.Info("initialized analytics file", "path", l.path)
	}
	return f, nil
}

// Summarize aggregates the whole ledger in one pass. A missing file yields
// the zero summary.
func (l *Ledger) Summarize(ctx context.Context) (Summary, error) {
	s := EmptySummary()
	anomalies, err := l.scan(ctx, s.add)
	if err != nil {
		return EmptySummary(), err
	}
	s.Anomalies = anomalies
	return s, nil
}

// Count returns the number of well-formed records.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	n := 0
	_, err := l.scan(ctx, func(Event) { n++ })
	return n, err
}

// Events returns every well-formed record in append order.
func (l *Ledger) Events(ctx context.Context) ([]Event, error) {
	var out []Event
	_, err := l.scan(ctx, func(ev Event) { out = append(out, ev) })
	return out, err
}

func (l *Ledger) scan(ctx context.Context, fn func(Event)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	unlock, err := l.lockFile(ctx, false)
	if err != nil {
		return 0, err
	}
	defer unlock()

	anomalies, err := decodeEvents(f, fn, func(e *EncodingError) {
		l.logger.Warn("skipping malformed ledger record", "line", e.Line, "err", e.Err)
	})
	if err != nil {
		return anomalies, fmt.Errorf("read ledger: %w", err)
	}
	l.metrics.LedgerAnomalies(anomalies)
	return anomalies, nil
}

// Emit appends directly, for processes that host the ledger themselves.
func (l *Ledger) Emit(ctx context.Context, req TrackRequest) bool {
	if _, err := l.Track(ctx, req); err != nil {
		l.logger.Error("failed to track analytics", "event_type", req.EventType, "err", err)
		return false
	}
	return true
}
