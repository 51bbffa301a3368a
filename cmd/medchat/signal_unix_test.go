//go:build unix

package main

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/medchat/internal/chat"
)

func TestRepl_SIGINTCancelsOnlyTheTurn(t *testing.T) {
	entered := make(chan struct{}, 1)
	r, out := newBlockingRepl("warfarin\n/sessions\n", blockingDispatcher{entered: entered})

	go func() {
		<-entered
		// the turn's handler is registered until SubmitTurn returns
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGINT)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.run(ctx, ""))

	text := out.String()
	assert.Contains(t, text, "agent> "+chat.ApologyReply)
	assert.Contains(t, text, "(canceled)")
	assert.Contains(t, text, "* "+r.active)
	assert.NoError(t, ctx.Err())
}
