// Package claudecli runs research through the claude command line tool in
// non-interactive mode and decodes its stream-json output.
package claudecli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent"
)

const (
	defaultBinary  = "claude"
	maxLineBytes   = 64 << 20
	stderrTailSize = 4 << 10
)

type Config struct {
	Binary string
	Model  string
	APIKey string
	Dir    string
}

type Runtime struct {
	cfg        Config
	logger     *zap.Logger
	newCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func New(cfg Config, logger *zap.Logger) *Runtime {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		newCommand: exec.CommandContext,
	}
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

func (r *Runtime) args(prompt string, opts agent.Options) []string {
	args := []string{
		"-p", prompt,
		"--verbose",
		"--output-format", "stream-json",
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	model := opts.Model
	if model == "" {
		model = r.cfg.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}

func (r *Runtime) run(ctx context.Context, prompt string, opts agent.Options, out chan<- agent.Message) error {
	cmd := r.newCommand(ctx, r.cfg.Binary, r.args(prompt, opts)...)
	cmd.Dir = r.cfg.Dir
	if r.cfg.APIKey != "" {
		env := cmd.Env
		if env == nil {
			env = os.Environ()
		}
		cmd.Env = append(env, "ANTHROPIC_API_KEY="+r.cfg.APIKey)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("claude stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.cfg.Binary, err)
	}
	r.logger.Debug("claude process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("max_turns", opts.MaxTurns),
		zap.Int("prompt_bytes", len(prompt)),
	)

	decodeErr := r.decode(ctx, stdout, out)
	if decodeErr != nil {
		// Unblock the child before waiting on it.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if decodeErr != nil {
		return decodeErr
	}
	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return fmt.Errorf("claude exited: %w", waitErr)
		}
		return fmt.Errorf("claude exited: %w: %s", waitErr, detail)
	}
	return nil
}

func (r *Runtime) decode(ctx context.Context, stdout io.Reader, out chan<- agent.Message) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		messages, err := parseLine([]byte(line))
		if err != nil {
			r.logger.Debug("skipping undecodable stream line", zap.Error(err))
			continue
		}
		for _, msg := range messages {
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read claude output: %w", err)
	}
	return nil
}

type streamLine struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

var errNotJSON = errors.New("line is not a JSON object")

// parseLine turns one stream-json line into runtime messages. An assistant
// line yields its tool invocations in order followed by one text message
// holding every text block of that line.
func parseLine(line []byte) ([]agent.Message, error) {
	if len(line) == 0 || line[0] != '{' {
		return nil, errNotJSON
	}
	var ev streamLine
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, err
	}

	switch ev.Type {
	case "assistant":
		var messages []agent.Message
		var texts []string
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				texts = append(texts, block.Text)
			case "tool_use", "server_tool_use":
				messages = append(messages, agent.ToolUse(block.Name, block.Input))
			}
		}
		if len(texts) > 0 {
			messages = append(messages, agent.Text(texts...))
		}
		return messages, nil
	case "result":
		return []agent.Message{agent.Result(ev.Result)}, nil
	default:
		return nil, nil
	}
}

type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = append([]byte(nil), b.data[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
