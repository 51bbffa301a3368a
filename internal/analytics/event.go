package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventMessage       EventType = "message"
	EventSession       EventType = "session"
	EventBooking       EventType = "booking"
	EventImageAnalysis EventType = "image_analysis"
)

type AgentType string

const (
	AgentClinical   AgentType = "clinical"
	AgentLiterature AgentType = "literature"
	AgentSymptom    AgentType = "symptom"
	AgentDrug       AgentType = "drug"
	AgentImage      AgentType = "image"
	AgentGeneral    AgentType = "general"
)

var AgentTypes = []AgentType{AgentClinical, AgentLiterature, AgentSymptom, AgentDrug, AgentImage, AgentGeneral}

const DefaultUserID = "anonymous"

// timestampLayout matches JavaScript's Date.toISOString output.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one ledger record. Metadata is opaque serialized text.
type Event struct {
	Timestamp string    `json:"timestamp"`
	EventType EventType `json:"eventType"`
	AgentType AgentType `json:"agentType"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Metadata  string    `json:"metadata"`
}

// TrackRequest is the append endpoint body.
type TrackRequest struct {
	EventType EventType `json:"eventType"`
	AgentType AgentType `json:"agentType"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Metadata  any       `json:"metadata,omitempty"`
}

// Emitter posts a track request somewhere and reports whether it landed.
// Implementations never return errors to the caller.
type Emitter interface {
	Emit(ctx context.Context, req TrackRequest) bool
}

type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "Missing required fields: " + strings.Join(e.Missing, " and ")
}

func (r TrackRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(string(r.EventType)) == "" {
		missing = append(missing, "eventType")
	}
	if strings.TrimSpace(string(r.AgentType)) == "" {
		missing = append(missing, "agentType")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// NewEvent stamps and normalizes a request into a ledger record.
func NewEvent(req TrackRequest, now time.Time) (Event, error) {
	if err := req.Validate(); err != nil {
		return Event{}, err
	}

	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	var meta string
	switch v := req.Metadata.(type) {
	case nil:
	case string:
		if v != "" {
			b, _ := json.Marshal(v)
			meta = string(b)
		}
	case json.RawMessage:
		meta = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Event{}, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	return Event{
		Timestamp: now.UTC().Format(timestampLayout),
		EventType: req.EventType,
		AgentType: req.AgentType,
		UserID:    userID,
		SessionID: req.SessionID,
		Metadata:  meta,
	}, nil
}
