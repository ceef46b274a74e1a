package research

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent/agenttest"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
)

func longReport(title string) string {
	return "# " + title + "\n\n## Executive Summary\n\n" + strings.Repeat("Demand for the category keeps growing. ", 40)
}

type recorder struct {
	items []events.Progress
}

func (r *recorder) Emit(p events.Progress) { r.items = append(r.items, p) }

func (r *recorder) messages() []string {
	out := make([]string, len(r.items))
	for i, p := range r.items {
		out[i] = p.Message
	}
	return out
}

func TestRunEmitsProgressAndReturnsResult(t *testing.T) {
	report := longReport("Electric Bike Market Report")
	rt := &agenttest.Runtime{Messages: []agent.Message{
		agent.Text("Planning", "the research"),
		agent.ToolUse("WebSearch", map[string]any{"query": "ebike market size"}),
		agent.ToolUse("WebFetch", map[string]any{"url": "https://example.com/ebikes"}),
		agent.ToolUse("Bash", map[string]any{"command": "ls"}),
		agent.ToolUse("web_search", map[string]any{"query": "ebike competitors"}),
		agent.Result("\n" + report + "\n"),
	}}
	sink := &recorder{}

	got, err := NewRunner(rt, "", nil).Run(context.Background(), Request{Topic: "Electric bikes", MaxTurns: 30}, sink)
	require.NoError(t, err)
	require.Equal(t, strings.TrimSpace(report), got)

	msgs := sink.messages()
	require.Equal(t, "Agent initialized, starting research...", msgs[0])
	require.Equal(t, events.Progress{Message: "[1] Searching: ebike market size", Kind: events.KindSearch}, sink.items[1])
	require.Equal(t, events.Progress{Message: "[1] Reading: https://example.com/ebikes", Kind: events.KindFetch}, sink.items[2])
	require.Equal(t, events.Progress{Message: "[2] Searching: ebike competitors", Kind: events.KindSearch}, sink.items[3])
	require.Equal(t, "Research done — 2 searches, 1 pages fetched", msgs[4])
	require.True(t, strings.HasPrefix(msgs[5], "Collected 1 message(s), 21 chars in messages, "))
	require.Equal(t, "Largest messages: msg[0]=21ch", msgs[6])
	require.True(t, strings.HasPrefix(msgs[7], "Extracted report: "))
	require.True(t, strings.HasSuffix(msgs[7], " chars, generating PDF..."))
	require.Len(t, msgs, 8)

	for _, p := range sink.items[4:] {
		require.Equal(t, events.KindPhase, p.Kind)
	}
}

func TestRunPassesPromptAndOptions(t *testing.T) {
	rt := &agenttest.Runtime{Messages: []agent.Message{agent.Result(longReport("Coffee Market Report"))}}

	_, err := NewRunner(rt, "claude-opus", nil).Run(context.Background(), Request{
		Topic:        "Specialty coffee",
		Instructions: "Focus on Europe",
		MaxTurns:     25,
	}, nil)
	require.NoError(t, err)

	prompts := rt.Prompts()
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0], "**Topic:** Specialty coffee")
	require.Contains(t, prompts[0], "**Additional Instructions:** Focus on Europe")
	require.NotContains(t, prompts[0], "{topic}")
	require.NotContains(t, prompts[0], "{additional_instructions}")

	opts := rt.Options()[0]
	require.Equal(t, SystemPrompt(), opts.SystemPrompt)
	require.Equal(t, []string{agent.ToolWebSearch, agent.ToolWebFetch}, opts.AllowedTools)
	require.Equal(t, agent.PermissionAcceptEdits, opts.PermissionMode)
	require.Equal(t, 25, opts.MaxTurns)
	require.Equal(t, "claude-opus", opts.Model)
}

func TestBuildPromptWithoutInstructions(t *testing.T) {
	prompt := BuildPrompt("Solar panels", "   ")
	require.Contains(t, prompt, "Solar panels")
	require.NotContains(t, prompt, "Additional Instructions")
	require.NotContains(t, prompt, "{additional_instructions}")
}

func TestRunEmptyOutputIsRunFailure(t *testing.T) {
	rt := &agenttest.Runtime{Messages: []agent.Message{
		agent.ToolUse("WebSearch", map[string]any{"query": "a"}),
		agent.ToolUse("WebSearch", map[string]any{"query": "b"}),
		agent.ToolUse("WebFetch", map[string]any{"url": "https://example.com"}),
		agent.Text(),
		agent.Result(""),
	}}

	got, err := NewRunner(rt, "", nil).Run(context.Background(), Request{Topic: "t", MaxTurns: 10}, nil)
	require.Empty(t, got)

	var failure *RunFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, 2, failure.Searches)
	require.Equal(t, 1, failure.Fetches)
	require.Equal(t, "Agent returned no report content. Completed 2 searches and 1 fetches. Try increasing max turns or simplifying the topic.", err.Error())
	require.True(t, IsRunFailure(err))
}

func TestRunLastNonEmptyResultWins(t *testing.T) {
	second := longReport("Second Market Report")
	rt := &agenttest.Runtime{Messages: []agent.Message{
		agent.Result(longReport("First Market Report")),
		agent.Result(second),
		agent.Result(""),
	}}

	got, err := NewRunner(rt, "", nil).Run(context.Background(), Request{Topic: "t", MaxTurns: 10}, nil)
	require.NoError(t, err)
	require.Equal(t, strings.TrimSpace(second), got)
}

func TestRunFallsBackToMessages(t *testing.T) {
	report := longReport("Drone Delivery Market Analysis")
	rt := &agenttest.Runtime{Messages: []agent.Message{
		agent.Text("Let me search."),
		agent.Text(report),
		agent.Result("Done."),
	}}

	got, err := NewRunner(rt, "", nil).Run(context.Background(), Request{Topic: "drones", MaxTurns: 10}, nil)
	require.NoError(t, err)
	require.Equal(t, strings.TrimSpace(report), got)
}

func TestRunWrapsRuntimeError(t *testing.T) {
	boom := errors.New("rate limited")
	rt := &agenttest.Runtime{Err: boom}

	_, err := NewRunner(rt, "", nil).Run(context.Background(), Request{Topic: "t", MaxTurns: 10}, nil)
	require.ErrorIs(t, err, boom)
	require.False(t, IsRunFailure(err))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	rt := &agenttest.Runtime{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(rt, "", nil).Run(ctx, Request{Topic: "t", MaxTurns: 10}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, rt.Prompts())
}

func TestRunCancelledMidRun(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	rt := &agenttest.Runtime{
		Messages: []agent.Message{agent.ToolUse("WebSearch", map[string]any{"query": "q"})},
		Hold:     hold,
		Started:  make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := NewRunner(rt, "", nil).Run(ctx, Request{Topic: "t", MaxTurns: 10}, nil)
		done <- err
	}()

	<-rt.Started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestLargestMessagesOrdering(t *testing.T) {
	r := NewRunner(&agenttest.Runtime{}, "", nil)
	texts := []string{"aa", "aaaa", "a", "aaaa", "aaa", strings.Repeat("b", 1500), "aa"}

	require.Equal(t, "msg[5]=1,500ch, msg[1]=4ch, msg[3]=4ch, msg[4]=3ch, msg[0]=2ch", r.largest(texts))
}
