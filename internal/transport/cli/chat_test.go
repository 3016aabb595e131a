package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sandevgo/recall/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	userID, conversationID, message string
}

type fakeHandler struct {
	calls []call
	err   error
}

func (f *fakeHandler) HandleTurn(ctx context.Context, userID, conversationID, message string) (*core.TurnResult, error) {
	f.calls = append(f.calls, call{userID, conversationID, message})
	if conversationID == "" {
		conversationID = "generated"
	}
	trace := core.NewObservabilityTrace("req-1")
	trace.TokenUsage.Total = 42
	if f.err != nil {
		trace.State = "FAILED"
		return &core.TurnResult{ConversationID: conversationID, Trace: trace}, f.err
	}
	trace.State = "COMPLETE"
	return &core.TurnResult{
		ResponseText:   "echo " + message,
		ConversationID: conversationID,
		Trace:          trace,
	}, nil
}

func newChat(t *testing.T, h core.TurnHandler, in io.ReadCloser, out io.Writer, cfg ChatConfig) *Chat {
	t.Helper()
	c, err := NewChat(h, in, out, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

func runChat(t *testing.T, h core.TurnHandler, cfg ChatConfig, input string) (*Chat, string) {
	t.Helper()
	var out bytes.Buffer
	c := newChat(t, h, io.NopCloser(strings.NewReader(input)), &out, cfg)
	require.NoError(t, c.Start(context.Background()))
	return c, out.String()
}

func TestChat_Conversation(t *testing.T) {
	h := &fakeHandler{}
	c, out := runChat(t, h, ChatConfig{UserID: "alice"}, "hello\n\n  second  \nexit\nignored\n")

	require.Len(t, h.calls, 2)
	assert.Equal(t, call{"alice", "", "hello"}, h.calls[0])
	assert.Equal(t, call{"alice", "generated", "second"}, h.calls[1])
	assert.Equal(t, "generated", c.ConversationID())

	assert.Contains(t, out, "echo hello")
	assert.Contains(t, out, "tokens=42")
	assert.NotContains(t, out, `"request_id"`)
}

func TestChat_Commands(t *testing.T) {
	h := &fakeHandler{}
	_, out := runChat(t, h, ChatConfig{UserID: "u1", ConversationID: "c1"}, "/trace\nhi\n/new\nagain\n")

	require.Len(t, h.calls, 2)
	assert.Equal(t, "c1", h.calls[0].conversationID)
	assert.Empty(t, h.calls[1].conversationID)

	assert.Contains(t, out, "trace output: true")
	assert.Contains(t, out, `"request_id": "req-1"`)
	assert.Contains(t, out, "started a new conversation")
}

func TestChat_ErrorKeepsLoopAlive(t *testing.T) {
	h := &fakeHandler{err: errors.New("budget exhausted")}
	_, out := runChat(t, h, ChatConfig{UserID: "u1", ShowTrace: true}, "one\ntwo\n")

	assert.Len(t, h.calls, 2)
	assert.Contains(t, out, "error: budget exhausted")
	assert.Contains(t, out, `"state": "FAILED"`)
}

func TestChat_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()

	h := &fakeHandler{}
	c := newChat(t, h, r, &bytes.Buffer{}, ChatConfig{UserID: "u1"})
	assert.NoError(t, c.Start(ctx))
	assert.Empty(t, h.calls)
}

func TestChat_CancelUnblocksRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r, w := io.Pipe()
	defer w.Close()

	c := newChat(t, &fakeHandler{}, r, &bytes.Buffer{}, ChatConfig{UserID: "u1"})
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("chat kept reading after cancel")
	}
}
