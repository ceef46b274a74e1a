// Package anthropic runs research directly against the Anthropic Messages
// API, using the server-side web search tool. Each API response counts as
// one turn; the loop continues while the API pauses a long-running turn.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent"
)

const (
	defaultModel         = "claude-sonnet-4-5"
	defaultMaxTokens     = 16000
	defaultMaxSearchUses = 20
	stopReasonPauseTurn  = "pause_turn"
)

type Config struct {
	APIKey        string
	Model         string
	MaxTokens     int64
	MaxSearchUses int64
}

type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type Runtime struct {
	cfg      Config
	messages messagesAPI
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Runtime {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return newRuntime(cfg, &client.Messages, logger)
}

func newRuntime(cfg Config, messages messagesAPI, logger *zap.Logger) *Runtime {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxSearchUses <= 0 {
		cfg.MaxSearchUses = defaultMaxSearchUses
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{cfg: cfg, messages: messages, logger: logger}
}

func (r *Runtime) Query(ctx context.Context, prompt string, opts agent.Options) (<-chan agent.Message, <-chan error) {
	out := make(chan agent.Message)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)
		if err := r.run(ctx, prompt, opts, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (r *Runtime) params(opts agent.Options, history []anthropic.MessageParam) anthropic.MessageNewParams {
	model := opts.Model
	if model == "" {
		model = r.cfg.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: r.cfg.MaxTokens,
		Messages:  history,
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if allows(opts.AllowedTools, agent.ToolWebSearch) {
		params.Tools = []anthropic.ToolUnionParam{{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
				MaxUses: anthropic.Int(r.cfg.MaxSearchUses),
			},
		}}
	}
	return params
}

func (r *Runtime) run(ctx context.Context, prompt string, opts agent.Options, out chan<- agent.Message) error {
	history := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 1
	}

	var finalText string
	for turn := 1; turn <= maxTurns; turn++ {
		resp, err := r.messages.New(ctx, r.params(opts, history))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("anthropic messages (turn %d): %w", turn, err)
		}

		messages, text := convert(resp.Content)
		for _, msg := range messages {
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		finalText = text

		r.logger.Debug("anthropic turn finished",
			zap.Int("turn", turn),
			zap.String("stop_reason", string(resp.StopReason)),
			zap.Int64("output_tokens", resp.Usage.OutputTokens),
		)
		if string(resp.StopReason) != stopReasonPauseTurn {
			break
		}
		history = append(history, resp.ToParam())
	}

	select {
	case out <- agent.Result(finalText):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type rawBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// convert maps one API response onto runtime messages: tool invocations in
// order, then a single text message for the response's text blocks. The
// joined text is also returned as the candidate terminal result.
func convert(blocks []anthropic.ContentBlockUnion) ([]agent.Message, string) {
	var messages []agent.Message
	var texts []string
	for _, block := range blocks {
		var raw rawBlock
		if err := json.Unmarshal([]byte(block.RawJSON()), &raw); err != nil {
			continue
		}
		switch raw.Type {
		case "text":
			texts = append(texts, raw.Text)
		case "server_tool_use", "tool_use":
			messages = append(messages, agent.ToolUse(raw.Name, raw.Input))
		}
	}
	if len(texts) == 0 {
		return messages, ""
	}
	messages = append(messages, agent.Text(texts...))
	return messages, strings.Join(texts, "\n")
}

func allows(tools []string, name string) bool {
	return len(tools) == 0 || slices.Contains(tools, name)
}
