package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent"
)

type fakeMessages struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []anthropic.MessageNewParams
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	raw := f.responses[0]
	f.responses = f.responses[1:]
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func drain(t *testing.T, msgs <-chan agent.Message, errs <-chan error) ([]agent.Message, error) {
	t.Helper()
	var got []agent.Message
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return got, <-errs
			}
			got = append(got, msg)
		case <-timeout:
			t.Fatal("timed out reading runtime stream")
		}
	}
}

const pausedResponse = `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
  "stop_reason": "pause_turn",
  "content": [
    {"type": "text", "text": "Looking for sources"},
    {"type": "server_tool_use", "id": "srvtoolu_1", "name": "web_search", "input": {"query": "ebike market size"}}
  ],
  "usage": {"input_tokens": 10, "output_tokens": 20}
}`

const finalResponse = `{
  "id": "msg_2", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
  "stop_reason": "end_turn",
  "content": [
    {"type": "text", "text": "# Ebike Market Report"},
    {"type": "text", "text": "## Summary"}
  ],
  "usage": {"input_tokens": 10, "output_tokens": 20}
}`

func TestQueryContinuesPausedTurns(t *testing.T) {
	fake := &fakeMessages{responses: []string{pausedResponse, finalResponse}}
	rt := newRuntime(Config{}, fake, nil)

	msgs, errs := rt.Query(context.Background(), "research ebikes", agent.Options{
		SystemPrompt: "be thorough",
		AllowedTools: []string{agent.ToolWebSearch, agent.ToolWebFetch},
		MaxTurns:     10,
	})
	got, err := drain(t, msgs, errs)
	require.NoError(t, err)

	require.Equal(t, []agent.Message{
		agent.ToolUse("web_search", map[string]any{"query": "ebike market size"}),
		agent.Text("Looking for sources"),
		agent.Text("# Ebike Market Report", "## Summary"),
		agent.Result("# Ebike Market Report\n## Summary"),
	}, got)

	require.Len(t, fake.calls, 2)
	require.Equal(t, anthropic.Model(defaultModel), fake.calls[0].Model)
	require.Len(t, fake.calls[0].System, 1)
	require.Equal(t, "be thorough", fake.calls[0].System[0].Text)
	require.Len(t, fake.calls[0].Tools, 1)
	require.NotNil(t, fake.calls[0].Tools[0].OfWebSearchTool20250305)
	require.Len(t, fake.calls[1].Messages, 2)
}

func TestQueryStopsAtTurnLimit(t *testing.T) {
	fake := &fakeMessages{responses: []string{pausedResponse, pausedResponse, finalResponse}}
	rt := newRuntime(Config{Model: "claude-opus-4-1"}, fake, nil)

	msgs, errs := rt.Query(context.Background(), "p", agent.Options{MaxTurns: 2, AllowedTools: []string{agent.ToolWebFetch}})
	got, err := drain(t, msgs, errs)
	require.NoError(t, err)
	require.Len(t, fake.calls, 2)
	require.Empty(t, fake.calls[0].Tools)
	require.Equal(t, anthropic.Model("claude-opus-4-1"), fake.calls[0].Model)
	require.Equal(t, agent.Result("Looking for sources"), got[len(got)-1])
}

func TestQueryReturnsAPIError(t *testing.T) {
	fake := &fakeMessages{err: errors.New("overloaded")}
	rt := newRuntime(Config{}, fake, nil)

	msgs, errs := rt.Query(context.Background(), "p", agent.Options{MaxTurns: 3})
	got, err := drain(t, msgs, errs)
	require.Empty(t, got)
	require.ErrorContains(t, err, "overloaded")
	require.ErrorContains(t, err, "turn 1")
}

func TestQueryHonorsCancellation(t *testing.T) {
	fake := &fakeMessages{responses: []string{finalResponse}}
	rt := newRuntime(Config{}, fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msgs, errs := rt.Query(ctx, "p", agent.Options{MaxTurns: 3})

	_, err := drain(t, msgs, errs)
	require.ErrorIs(t, err, context.Canceled)
}
