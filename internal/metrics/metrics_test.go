package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.LedgerAppended("message")
	m.LedgerRejected()
	m.LedgerAnomalies(3)
	m.TurnCompleted("clinical", "ok")
	m.ObserveDispatch("clinical", time.Second)
	m.Emitted("message", true)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.LedgerAppended("message")
	m.LedgerAppended("message")
	m.LedgerAppended("booking")
	m.LedgerAnomalies(2)
	m.TurnCompleted("drug", "failed")
	m.Emitted("session", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerAppends.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerAppends.WithLabelValues("booking")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerAnomalies))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("drug", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emits.WithLabelValues("session", "failed")))
}

func TestMetrics_LedgerAnomaliesTracksLastScan(t *testing.T) {
	m := New()

	// repeated scans of an unchanged file report the same count
	for i := 0; i < 5; i++ {
		m.LedgerAnomalies(3)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ledgerAnomalies))

	m.LedgerAnomalies(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ledgerAnomalies))
}
