package agent

import (
	"context"
	"encoding/json"
	"errors"
)

type Kind string

const (
	KindClinical   Kind = "clinical"
	KindLiterature Kind = "literature"
	KindSymptom    Kind = "symptom"
	KindDrug       Kind = "drug"
)

var Kinds = []Kind{KindClinical, KindLiterature, KindSymptom, KindDrug}

func (k Kind) Valid() bool {
	switch k {
	case KindClinical, KindLiterature, KindSymptom, KindDrug:
		return true
	}
	return false
}

// ErrTransport wraps every failure talking to an agent: network, timeout,
// non-2xx status or an undecodable body.
var ErrTransport = errors.New("agent transport error")

type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Reply is the dispatcher's answer. Specialists are passed through untouched.
type Reply struct {
	Response    string            `json:"response,omitempty"`
	Message     string            `json:"message,omitempty"`
	Agent       string            `json:"agent,omitempty"`
	ShowBooking bool              `json:"show_booking,omitempty"`
	Specialists []json.RawMessage `json:"specialists,omitempty"`
}

// BookingOffered reports whether the reply carries both show_booking and a
// specialists list.
func (r *Reply) BookingOffered() bool {
	return r != nil && r.ShowBooking && r.Specialists != nil
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*Reply, error)
}

// Resolver hands out the dispatcher for an agent kind.
type Resolver interface {
	Get(ctx context.Context, kind Kind) (Dispatcher, error)
}
