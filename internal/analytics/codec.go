package analytics

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Header is the ledger's first line, written once when the file is created.
var Header = []string{"timestamp", "eventType", "agentType", "userId", "sessionId", "metadata"}

// EncodingError marks a ledger record that could not be decoded.
type EncodingError struct {
	Line int
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("ledger record at line %d: %v", e.Line, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

var errFieldCount = errors.New("wrong number of fields")

func (e Event) record() []string {
	return []string{
		e.Timestamp,
		string(e.EventType),
		string(e.AgentType),
		e.UserID,
		e.SessionID,
		e.Metadata,
	}
}

func eventFromRecord(rec []string) (Event, error) {
	if len(rec) != len(Header) {
		return Event{}, errFieldCount
	}
	ev := Event{
		Timestamp: rec[0],
		EventType: EventType(rec[1]),
		AgentType: AgentType(rec[2]),
		UserID:    rec[3],
		SessionID: rec[4],
		Metadata:  rec[5],
	}
	if ev.EventType == "" || ev.AgentType == "" {
		return Event{}, errors.New("missing eventType or agentType")
	}
	return ev, nil
}

// encodeRecords renders records with the same CSV dialect the reader expects,
// so delimiters, quotes and newlines inside fields survive a round trip.
func encodeRecords(recs ...[]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeEvents streams events from r to fn. Malformed records are reported to
// onAnomaly (which may be nil), skipped and counted; only I/O failures abort
// the scan.
func decodeEvents(r io.Reader, fn func(Event), onAnomaly func(*EncodingError)) (anomalies int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	skip := func(line int, err error) {
		anomalies++
		if onAnomaly != nil {
			onAnomaly(&EncodingError{Line: line, Err: err})
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return anomalies, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skip(pe.StartLine, pe.Err)
				continue
			}
			return anomalies, err
		}
		line, _ := cr.FieldPos(0)
		// a header can repeat when two writers raced to initialize the file
		if slices.Equal(rec, Header) {
			continue
		}
		ev, err := eventFromRecord(rec)
		if err != nil {
			skip(line, err)
			continue
		}
		fn(ev)
	}
}
