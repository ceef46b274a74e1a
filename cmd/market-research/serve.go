package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store/filesystem"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store/memory"
)

type serveOptions struct {
	host string
	port int
}

func serveCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI for interactive research",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "Host to bind to (default HOST)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (default PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	stdout := cmd.OutOrStdout()

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runtime, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := notifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := events.NewBroker()
	reports := filesystem.New(cfg.OutputDir)
	manager := session.NewManager(
		research.NewRunner(runtime, cfg.AgentModel, logger),
		newRenderer(cfg, logger),
		memory.New(),
		reports,
		broker,
		logger,
		session.Options{
			DefaultMaxTurns:   cfg.DefaultMaxTurns,
			PollInterval:      cfg.PollInterval,
			HeartbeatInterval: cfg.HeartbeatInterval,
		},
	)

	fmt.Fprintln(stdout, headingStyle.Render("Starting Market Research Agent Web UI"))
	fmt.Fprintln(stdout, dimStyle.Render(fmt.Sprintf("Open http://localhost:%d in your browser", cfg.Port)))
	fmt.Fprintln(stdout)

	addr := cfg.Addr()
	logger.Info("market research server listening",
		zap.String("addr", addr),
		zap.String("runtime", cfg.AgentRuntime),
		zap.String("output_dir", cfg.OutputDir),
	)
	return newServer(manager, reports, manager.Broker(), cfg, logger).Start(ctx, addr)
}
