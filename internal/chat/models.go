package chat

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/suPer8Hu/medchat/internal/agent"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Metadata struct {
	Agent       string            `json:"agent,omitempty"`
	ShowBooking bool              `json:"showBooking,omitempty"`
	Specialists []json.RawMessage `json:"specialists,omitempty"`
	ImageRef    string            `json:"imageRef,omitempty"`
}

// Message is immutable once appended to a session.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

type Session struct {
	ID        string     `json:"id"`
	Type      agent.Kind `json:"type"`
	Messages  []Message  `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Specialists = slices.Clone(m.Specialists)
	for i, sp := range out.Specialists {
		out.Specialists[i] = slices.Clone(sp)
	}
	return &out
}

func (m Message) clone() Message {
	m.Metadata = m.Metadata.clone()
	return m
}

// clone deep-copies s so callers never share memory with the store.
func (s *Session) clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.clone()
	}
	return out
}
