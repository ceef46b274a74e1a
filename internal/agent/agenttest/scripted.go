// Package agenttest provides a scripted agent runtime for tests.
package agenttest

import (
	"context"
	"sync"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent"
)

// Runtime replays Messages in order, then waits on Hold (if set), then ends
// the run with Err.
type Runtime struct {
	Messages []agent.Message
	Err      error
	Hold     <-chan struct{}

	// Started, when set, is closed once the first Query begins.
	Started chan struct{}

	mu      sync.Mutex
	prompts []string
	options []agent.Options
	once    sync.Once
}

func (r *Runtime) Query(ctx context.Context, prompt string, opts agent.Options) (<-chan agent.Message, <-chan error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.options = append(r.options, opts)
	r.mu.Unlock()

	out := make(chan agent.Message)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		if r.Started != nil {
			r.once.Do(func() { close(r.Started) })
		}

		for _, msg := range r.Messages {
			select {
			case out <- msg:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if r.Hold != nil {
			select {
			case <-r.Hold:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if r.Err != nil {
			errCh <- r.Err
		}
	}()

	return out, errCh
}

func (r *Runtime) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func (r *Runtime) Options() []agent.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.Options(nil), r.options...)
}
