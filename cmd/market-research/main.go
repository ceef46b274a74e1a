package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent/anthropic"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/agent/claudecli"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/api"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/logging"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/render"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig  = config.Load
	newLogger   = logging.New
	newRuntime  = buildRuntime
	newRenderer = func(cfg config.Config, logger *zap.Logger) render.Renderer {
		return render.NewPDFRenderer(cfg.ChromeBin, logger)
	}
	newServer = func(research api.ResearchService, reports store.ReportStore, broker api.Broker, cfg config.Config, logger *zap.Logger) server {
		return api.NewServer(research, reports, broker, cfg, logger)
	}
	notifyContext = signal.NotifyContext
)

// errReported marks a failure whose message was already printed.
var errReported = errors.New("failure already reported")

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(stderr, errorStyle.Render("Error:"), err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "market-research",
		Short:         "AI-powered market research agent. Generates professional PDF reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(researchCmd(), serveCmd())
	return root
}

func buildRuntime(cfg config.Config, logger *zap.Logger) (agent.Runtime, error) {
	switch cfg.AgentRuntime {
	case config.RuntimeAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AgentModel,
		}, logger), nil
	case config.RuntimeClaudeCLI, "":
		return claudecli.New(claudecli.Config{
			Binary: cfg.ClaudeBin,
			Model:  cfg.AgentModel,
			APIKey: cfg.AnthropicAPIKey,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown agent runtime %q", cfg.AgentRuntime)
	}
}

// loadValidConfig loads configuration and rejects it before any work starts
// when research could not run.
func loadValidConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
