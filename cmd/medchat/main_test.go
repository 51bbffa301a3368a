package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/medchat/internal/agent"
	"github.com/suPer8Hu/medchat/internal/analytics"
	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/config"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, r agent.Request) (*agent.Reply, error) {
	return &agent.Reply{Response: "echo: " + r.Message, Agent: "drug"}, nil
}

func newTestRepl(in string) (*repl, *bytes.Buffer) {
	reg := agent.NewRegistry()
	reg.Register(agent.KindDrug, func(ctx context.Context, kind agent.Kind) (agent.Dispatcher, error) {
		return echoDispatcher{}, nil
	})
	out := &bytes.Buffer{}
	return &repl{
		ctrl: chat.NewController(chat.NewStore(), reg, nil),
		kind: agent.KindDrug,
		in:   strings.NewReader(in),
		out:  out,
	}, out
}

func TestRepl_TurnAndCommands(t *testing.T) {
	r, out := newTestRepl("aspirin\n\n/new\n/sessions\n/clear\n/bogus\n/quit\nnever sent\n")
	require.NoError(t, r.run(context.Background(), ""))

	text := out.String()
	assert.Contains(t, text, chat.WelcomeMessage(agent.KindDrug))
	assert.Contains(t, text, "drug> echo: aspirin")
	assert.Contains(t, text, "unknown command /bogus")
	assert.NotContains(t, text, "never sent")

	sessions := r.ctrl.Store().List()
	require.Len(t, sessions, 2)
	// the cleared session is the new one, welcomed again
	assert.Equal(t, r.active, sessions[1].ID)
	assert.Len(t, sessions[1].Messages, 1)
	assert.Len(t, sessions[0].Messages, 3)
}

type blockingDispatcher struct{ entered chan struct{} }

func (d blockingDispatcher) Dispatch(ctx context.Context, r agent.Request) (*agent.Reply, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func newBlockingRepl(in string, d agent.Dispatcher) (*repl, *bytes.Buffer) {
	reg := agent.NewRegistry()
	reg.Register(agent.KindDrug, func(ctx context.Context, kind agent.Kind) (agent.Dispatcher, error) {
		return d, nil
	})
	out := &bytes.Buffer{}
	return &repl{
		ctrl: chat.NewController(chat.NewStore(), reg, nil),
		kind: agent.KindDrug,
		in:   strings.NewReader(in),
		out:  out,
	}, out
}

func TestRepl_InterruptedTurnKeepsPrompt(t *testing.T) {
	r, out := newBlockingRepl("warfarin\n/sessions\n", blockingDispatcher{})
	turns := 0
	r.turnCtx = func(ctx context.Context) (context.Context, context.CancelFunc) {
		turns++
		tctx, cancel := context.WithCancel(ctx)
		cancel() // as if Ctrl-C arrived mid-turn
		return tctx, cancel
	}
	require.NoError(t, r.run(context.Background(), ""))

	text := out.String()
	assert.Equal(t, 1, turns)
	assert.Contains(t, text, "agent> "+chat.ApologyReply)
	assert.Contains(t, text, "(canceled)")
	// the loop kept reading after the canceled turn
	assert.Contains(t, text, "* "+r.active)

	sess, _ := r.ctrl.Store().Get(r.active)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, chat.ApologyReply, sess.Messages[2].Content)
}

func TestRepl_DeleteOpensAnother(t *testing.T) {
	r, _ := newTestRepl("/delete\n")
	require.NoError(t, r.run(context.Background(), ""))

	sessions := r.ctrl.Store().List()
	require.Len(t, sessions, 1)
	assert.Equal(t, r.active, sessions[0].ID)
}

func TestNewPersister_Backends(t *testing.T) {
	ctx := context.Background()

	p, closeFn, err := newPersister(ctx, config.Config{SessionBackend: "memory"})
	require.NoError(t, err)
	assert.Nil(t, p)
	closeFn()

	p, closeFn, err = newPersister(ctx, config.Config{
		SessionBackend: "sqlite",
		DBDSN:          "sqlite:" + filepath.Join(t.TempDir(), "sessions.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &chat.Repo{}, p)
	closeFn()

	_, _, err = newPersister(ctx, config.Config{SessionBackend: "etcd"})
	assert.Error(t, err)
}

func TestNewEmitter_LocalStampsUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.csv")
	ledger := analytics.NewLedger(path)

	em, closeFn, err := newEmitter(config.Config{AnalyticsTransport: "local", UserID: "dr-kim"}, ledger, nil, nil)
	require.NoError(t, err)
	defer closeFn()

	assert.True(t, em.Emit(context.Background(), analytics.TrackRequest{
		EventType: analytics.EventSession,
		AgentType: analytics.AgentDrug,
	}))
	events, err := ledger.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "dr-kim", events[0].UserID)

	_, _, err = newEmitter(config.Config{AnalyticsTransport: "carrier-pigeon"}, ledger, nil, nil)
	assert.Error(t, err)
}

func TestSummaryCommand_Local(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.csv")
	t.Setenv("LEDGER_PATH", path)

	ledger := analytics.NewLedger(path)
	for _, req := range []analytics.TrackRequest{
		{EventType: analytics.EventSession, AgentType: analytics.AgentClinical},
		{EventType: analytics.EventMessage, AgentType: analytics.AgentClinical},
		{EventType: analytics.EventImageAnalysis, AgentType: analytics.AgentImage},
	} {
		_, err := ledger.Track(context.Background(), req)
		require.NoError(t, err)
	}

	cmd := rootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"summary", "--local", "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	var sum analytics.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &sum))
	assert.Equal(t, 1, sum.TotalSessions)
	assert.Equal(t, 1, sum.ImageAnalyses)
	assert.Equal(t, 1, sum.MessagesByAgent[analytics.AgentClinical])
}

func TestChatCommand_RejectsUnknownType(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"chat", "--type", "dental"})
	assert.Error(t, cmd.Execute())
}
