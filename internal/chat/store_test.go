package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/medchat/internal/agent"
)

func TestStore_AddMessagePreservesOrder(t *testing.T) {
	s := NewStore()
	id := s.CreateSession(agent.KindClinical)

	for i := 0; i < 50; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, ok := s.AddMessage(id, Message{Role: role, Content: fmt.Sprintf("m%d", i)}); !ok {
			t.Fatalf("add message %d failed", i)
		}
	}

	sess, ok := s.Get(id)
	if !ok {
		t.Fatalf("session missing")
	}
	if len(sess.Messages) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(sess.Messages))
	}
	seen := map[string]bool{}
	for i, m := range sess.Messages {
		if m.Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d out of order: %q", i, m.Content)
		}
		if m.ID == "" || seen[m.ID] {
			t.Fatalf("message %d has empty or duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if m.CreatedAt.IsZero() {
			t.Fatalf("message %d has no timestamp", i)
		}
	}
}

func TestStore_AddMessageUnknownSessionIsNoop(t *testing.T) {
	s := NewStore()
	if _, ok := s.AddMessage("nope", Message{Role: RoleUser, Content: "hi"}); ok {
		t.Fatalf("expected add to unknown session to report false")
	}
	if len(s.List()) != 0 {
		t.Fatalf("expected no sessions to be created")
	}
}

func TestStore_CreateSessionIDsAreUnique(t *testing.T) {
	s := NewStore()
	const n = 500
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids <- s.CreateSession(agent.Kinds[i%len(agent.Kinds)])
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if len(s.List()) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(s.List()))
	}
}

func TestStore_ResolveIsStable(t *testing.T) {
	s := NewStore()

	first, created := s.Resolve(agent.KindSymptom, "")
	if !created {
		t.Fatalf("expected first resolve to create")
	}
	second, created := s.Resolve(agent.KindSymptom, "")
	if created || second != first {
		t.Fatalf("expected same session, got %s (created=%v) vs %s", second, created, first)
	}
	third, created := s.Resolve(agent.KindSymptom, "does-not-exist")
	if created || third != first {
		t.Fatalf("unknown requested id should fall back to first session of kind")
	}
	if len(s.List()) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(s.List()))
	}
	if s.ActiveID() != first {
		t.Fatalf("resolved session should be active")
	}
}

func TestStore_ResolvePrefersRequestedThenOldest(t *testing.T) {
	s := NewStore()
	older := s.CreateSession(agent.KindDrug)
	newer := s.CreateSession(agent.KindDrug)
	other := s.CreateSession(agent.KindClinical)

	if id, _ := s.Resolve(agent.KindDrug, newer); id != newer {
		t.Fatalf("existing requested id should win, got %s", id)
	}
	if id, _ := s.Resolve(agent.KindDrug, ""); id != older {
		t.Fatalf("expected oldest drug session %s, got %s", older, id)
	}
	// requested id of a different kind still exists, so it is selected
	if id, _ := s.Resolve(agent.KindDrug, other); id != other {
		t.Fatalf("expected requested session %s, got %s", other, id)
	}
	if id, created := s.Resolve(agent.KindLiterature, ""); !created || id == older || id == newer || id == other {
		t.Fatalf("expected a new literature session")
	}
}

func TestStore_ClearAndDelete(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore(WithStoreClock(func() time.Time { return clock }))
	id := s.CreateSession(agent.KindLiterature)
	s.SetActive(id)
	s.AddMessage(id, Message{Role: RoleUser, Content: "hello"})

	if !s.ClearSession(id) {
		t.Fatalf("clear failed")
	}
	sess, _ := s.Get(id)
	if len(sess.Messages) != 0 || sess.Type != agent.KindLiterature || !sess.CreatedAt.Equal(clock) || sess.ID != id {
		t.Fatalf("clear must only drop messages: %+v", sess)
	}

	if !s.DeleteSession(id) {
		t.Fatalf("delete failed")
	}
	if s.Exists(id) || s.ActiveID() != "" {
		t.Fatalf("session should be gone and no longer active")
	}
	if s.DeleteSession(id) || s.ClearSession(id) {
		t.Fatalf("second delete/clear should report false")
	}
}

func TestStore_SetActiveIgnoresUnknown(t *testing.T) {
	s := NewStore()
	id := s.CreateSession(agent.KindClinical)
	s.SetActive(id)
	s.SetActive("ghost")
	if s.ActiveID() != id {
		t.Fatalf("unknown id must not change the active session")
	}
	if _, ok := s.Active(); !ok {
		t.Fatalf("expected active session")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	id := s.CreateSession(agent.KindClinical)
	s.AddMessage(id, Message{Role: RoleUser, Content: "a"})

	sess, _ := s.Get(id)
	sess.Messages[0].Content = "mutated"
	sess.Messages = append(sess.Messages, Message{Content: "extra"})

	again, _ := s.Get(id)
	if len(again.Messages) != 1 || again.Messages[0].Content != "a" {
		t.Fatalf("store state leaked through copy: %+v", again.Messages)
	}
}

func TestStore_MetadataIsNotShared(t *testing.T) {
	s := NewStore()
	id := s.CreateSession(agent.KindSymptom)
	in := Message{
		Role:    RoleAssistant,
		Content: "see a neurologist",
		Metadata: &Metadata{
			Agent:       "symptom",
			ShowBooking: true,
			Specialists: []json.RawMessage{json.RawMessage(`{"name":"Dr. Rivera"}`)},
		},
	}
	added, _ := s.AddMessage(id, in)

	// the caller's message and the returned copy both stay detached
	in.Metadata.ShowBooking = false
	in.Metadata.Specialists[0][2] = 'X'
	added.Metadata.Agent = "drug"
	added.Metadata.Specialists = nil

	sess, _ := s.Get(id)
	sess.Messages[0].Metadata.Agent = "clinical"
	sess.Messages[0].Metadata.Specialists[0][2] = 'Y'

	again, _ := s.Get(id)
	md := again.Messages[0].Metadata
	if md.Agent != "symptom" || !md.ShowBooking {
		t.Fatalf("metadata leaked: %+v", md)
	}
	if len(md.Specialists) != 1 || string(md.Specialists[0]) != `{"name":"Dr. Rivera"}` {
		t.Fatalf("specialists leaked: %s", md.Specialists)
	}

	list := s.List()
	list[0].Messages[0].Metadata.ShowBooking = false
	if again, _ := s.Get(id); !again.Messages[0].Metadata.ShowBooking {
		t.Fatalf("List shares metadata with the store")
	}
}

func TestStore_AddMessageIfGenDropsAfterClear(t *testing.T) {
	s := NewStore()
	id := s.CreateSession(agent.KindDrug)

	_, gen, ok := s.AddMessageGen(id, Message{Role: RoleUser, Content: "q1"})
	if !ok {
		t.Fatalf("AddMessageGen failed")
	}
	if _, ok := s.AddMessageIfGen(id, gen, Message{Role: RoleAssistant, Content: "a1"}); !ok {
		t.Fatalf("same generation should append")
	}

	_, gen, _ = s.AddMessageGen(id, Message{Role: RoleUser, Content: "q2"})
	s.ClearSession(id)
	if _, ok := s.AddMessageIfGen(id, gen, Message{Role: RoleAssistant, Content: "a2"}); ok {
		t.Fatalf("reply from before the clear must be dropped")
	}
	if sess, _ := s.Get(id); len(sess.Messages) != 0 {
		t.Fatalf("cleared session gained messages: %+v", sess.Messages)
	}

	_, gen, _ = s.AddMessageGen(id, Message{Role: RoleUser, Content: "q3"})
	s.Restore(s.Snapshot())
	if _, ok := s.AddMessageIfGen(id, gen, Message{Role: RoleAssistant, Content: "a3"}); ok {
		t.Fatalf("reply from before a restore must be dropped")
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := NewStore()
	a := s.CreateSession(agent.KindClinical)
	b := s.CreateSession(agent.KindDrug)
	s.AddMessage(b, Message{Role: RoleAssistant, Content: "hi", Metadata: &Metadata{Agent: "drug"}})
	s.SetActive(b)

	snap := s.Snapshot()

	restored := NewStore()
	restored.Restore(snap)
	list := restored.List()
	if len(list) != 2 || list[0].ID != a || list[1].ID != b {
		t.Fatalf("restore lost order: %+v", list)
	}
	if list[1].Messages[0].Metadata.Agent != "drug" {
		t.Fatalf("restore lost metadata")
	}

	s.Reset()
	if len(s.List()) != 0 || s.ActiveID() != "" {
		t.Fatalf("reset should empty the store")
	}
}
