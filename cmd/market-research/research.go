package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/render"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store/filesystem"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	searchStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	fetchStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	phaseStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

const printerPoll = 100 * time.Millisecond

type researchOptions struct {
	prompt    string
	outputDir string
	maxTurns  int
	verbose   bool
	preview   bool
}

func researchCmd() *cobra.Command {
	opts := researchOptions{}
	cmd := &cobra.Command{
		Use:   "research TOPIC",
		Short: "Run market research on TOPIC and generate a PDF report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "Additional instructions for the research agent")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "Directory for the output PDF (default OUTPUT_DIR)")
	cmd.Flags().IntVarP(&opts.maxTurns, "max-turns", "t", 50, "Max agent iterations (more = deeper research)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show detailed agent reasoning")
	cmd.Flags().BoolVar(&opts.preview, "preview", false, "Print the finished report in the terminal")
	return cmd
}

func printProgress(w io.Writer, p events.Progress, verbose bool) {
	switch p.Kind {
	case events.KindSearch:
		fmt.Fprintln(w, "  "+searchStyle.Render(p.Message))
	case events.KindFetch:
		fmt.Fprintln(w, "  "+fetchStyle.Render(p.Message))
	case events.KindPhase:
		fmt.Fprintln(w, phaseStyle.Render(p.Message))
	default:
		if verbose {
			fmt.Fprintln(w, dimStyle.Render(p.Message))
		}
	}
}

func runResearch(cmd *cobra.Command, topic string, opts researchOptions) error {
	stdout := cmd.OutOrStdout()

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	if opts.outputDir == "" {
		opts.outputDir = cfg.OutputDir
	}
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger, err := newLogger(level, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runtime, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := notifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(stdout, headingStyle.Render("Researching:"), topic)
	fmt.Fprintln(stdout, dimStyle.Render("Output directory: "+opts.outputDir))
	fmt.Fprintln(stdout)

	runner := research.NewRunner(runtime, cfg.AgentModel, logger)
	queue := events.NewQueue()
	runDone := make(chan struct{})
	var report string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(runDone)
		var err error
		report, err = runner.Run(gctx, research.Request{
			Topic:        topic,
			Instructions: opts.prompt,
			MaxTurns:     opts.maxTurns,
		}, queue)
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-runDone:
				for _, p := range queue.Drain() {
					printProgress(stdout, p, opts.verbose)
				}
				return nil
			default:
			}
			if p, ok := queue.Next(context.Background(), printerPoll); ok {
				printProgress(stdout, p, opts.verbose)
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintln(stdout, dimStyle.Render("Converting to PDF..."))
	result, err := newRenderer(cfg, logger).Render(ctx, report, topic, opts.outputDir)
	if err != nil {
		path, saveErr := filesystem.New(opts.outputDir).SaveMarkdown(ctx, render.MarkdownFallbackName(topic, "_report"), report)
		fmt.Fprintln(stdout, warnStyle.Render("PDF generation failed:"), err)
		if saveErr != nil {
			fmt.Fprintln(stdout, dimStyle.Render("Markdown could not be saved: "+saveErr.Error()))
		} else {
			fmt.Fprintln(stdout, dimStyle.Render("Markdown saved to: "+path))
		}
		return errReported
	}

	if opts.preview {
		previewReport(stdout, report)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, successStyle.Render("Report saved:"), result.Path, dimStyle.Render("("+result.PagesLabel()+" pages)"))
	return nil
}

func previewReport(w io.Writer, report string) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprintln(w, report)
		return
	}
	out, err := renderer.Render(report)
	if err != nil {
		fmt.Fprintln(w, report)
		return
	}
	fmt.Fprint(w, out)
}
