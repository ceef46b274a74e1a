// Package research drives one autonomous research run: it starts the agent
// runtime, turns its tool activity into progress events and recovers the
// final report from everything the agent said.
package research

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/metrics"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/report"
)

const largestMessagesShown = 5

//go:embed prompts/system_prompt.txt
var systemPrompt string

//go:embed prompts/task_template.txt
var taskTemplate string

var allowedTools = []string{agent.ToolWebSearch, agent.ToolWebFetch}

type Request struct {
	Topic        string
	Instructions string
	MaxTurns     int
}

// RunFailure means the agent finished without producing report content.
type RunFailure struct {
	Searches int
	Fetches  int
}

func (e *RunFailure) Error() string {
	return fmt.Sprintf(
		"Agent returned no report content. Completed %d searches and %d fetches. Try increasing max turns or simplifying the topic.",
		e.Searches, e.Fetches,
	)
}

type Runner struct {
	runtime agent.Runtime
	model   string
	logger  *zap.Logger
	printer *message.Printer
}

func NewRunner(runtime agent.Runtime, model string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		runtime: runtime,
		model:   model,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// BuildPrompt fills the task template for one topic.
func BuildPrompt(topic, instructions string) string {
	extra := ""
	if strings.TrimSpace(instructions) != "" {
		extra = "**Additional Instructions:** " + instructions
	}
	prompt := strings.ReplaceAll(taskTemplate, "{topic}", topic)
	return strings.ReplaceAll(prompt, "{additional_instructions}", extra)
}

func SystemPrompt() string {
	return systemPrompt
}

type transcript struct {
	searches int
	fetches  int
	texts    []string
	result   string
}

func (r *Runner) Run(ctx context.Context, req Request, sink events.Sink) (string, error) {
	if sink == nil {
		sink = events.SinkFunc(func(events.Progress) {})
	}
	logger := r.logger.With(zap.String("topic", req.Topic), zap.Int("max_turns", req.MaxTurns))

	if err := ctx.Err(); err != nil {
		return "", err
	}

	msgs, errs := r.runtime.Query(ctx, BuildPrompt(req.Topic, req.Instructions), agent.Options{
		SystemPrompt:   systemPrompt,
		AllowedTools:   allowedTools,
		PermissionMode: agent.PermissionAcceptEdits,
		MaxTurns:       req.MaxTurns,
		Model:          r.model,
	})
	sink.Emit(events.Progress{Message: "Agent initialized, starting research...", Kind: events.KindPhase})

	var tr transcript
	for msg := range msgs {
		r.observe(&tr, msg, sink)
	}
	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("agent run failed", zap.Error(err))
		return "", fmt.Errorf("agent run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sink.Emit(events.Progress{
		Message: fmt.Sprintf("Research done — %d searches, %d pages fetched", tr.searches, tr.fetches),
		Kind:    events.KindPhase,
	})
	sink.Emit(events.Progress{
		Message: r.printer.Sprintf("Collected %d message(s), %d chars in messages, %d chars in result",
			len(tr.texts), totalChars(tr.texts), utf8.RuneCountInString(tr.result)),
		Kind: events.KindPhase,
	})
	if len(tr.texts) > 0 {
		sink.Emit(events.Progress{Message: "Largest messages: " + r.largest(tr.texts), Kind: events.KindPhase})
	}

	text, strategy := report.ExtractWithStrategy(tr.result, tr.texts)
	metrics.RecordExtraction(strategy.String())
	if strings.TrimSpace(text) == "" {
		logger.Warn("no report content extracted",
			zap.Int("searches", tr.searches),
			zap.Int("fetches", tr.fetches),
			zap.Int("messages", len(tr.texts)),
		)
		return "", &RunFailure{Searches: tr.searches, Fetches: tr.fetches}
	}

	logger.Info("report extracted",
		zap.Stringer("strategy", strategy),
		zap.Int("chars", utf8.RuneCountInString(text)),
		zap.Int("searches", tr.searches),
		zap.Int("fetches", tr.fetches),
	)
	sink.Emit(events.Progress{
		Message: r.printer.Sprintf("Extracted report: %d chars, generating PDF...", utf8.RuneCountInString(text)),
		Kind:    events.KindPhase,
	})
	return text, nil
}

func (r *Runner) observe(tr *transcript, msg agent.Message, sink events.Sink) {
	switch msg.Kind {
	case agent.MessageText:
		if len(msg.Texts) > 0 {
			tr.texts = append(tr.texts, strings.Join(msg.Texts, "\n"))
		}
	case agent.MessageToolUse:
		switch msg.Category() {
		case agent.CategorySearch:
			tr.searches++
			metrics.RecordTool(agent.CategorySearch)
			sink.Emit(events.Progress{
				Message: fmt.Sprintf("[%d] Searching: %s", tr.searches, msg.InputString("query")),
				Kind:    events.KindSearch,
			})
		case agent.CategoryFetch:
			tr.fetches++
			metrics.RecordTool(agent.CategoryFetch)
			sink.Emit(events.Progress{
				Message: fmt.Sprintf("[%d] Reading: %s", tr.fetches, msg.InputString("url")),
				Kind:    events.KindFetch,
			})
		}
	case agent.MessageResult:
		if msg.Result != "" {
			tr.result = msg.Result
		}
	}
}

func (r *Runner) largest(texts []string) string {
	type sized struct {
		index int
		size  int
	}
	sizes := make([]sized, len(texts))
	for i, t := range texts {
		sizes[i] = sized{index: i, size: utf8.RuneCountInString(t)}
	}
	sort.SliceStable(sizes, func(i, j int) bool { return sizes[i].size > sizes[j].size })
	if len(sizes) > largestMessagesShown {
		sizes = sizes[:largestMessagesShown]
	}

	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = fmt.Sprintf("msg[%d]=%sch", s.index, r.printer.Sprintf("%d", s.size))
	}
	return strings.Join(parts, ", ")
}

func totalChars(texts []string) int {
	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	return total
}

// IsRunFailure reports whether err is an empty-extraction failure.
func IsRunFailure(err error) bool {
	var failure *RunFailure
	return errors.As(err, &failure)
}
