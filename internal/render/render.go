// Package render turns a Markdown report into a styled PDF file.
package render

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/metrics"
)

const (
	maxSlugLength   = 50
	fallbackLength  = 40
	timestampLayout = "20060102_150405"
	unknownPages    = "~"
)

//go:embed report.html.tmpl
var pageTemplateText string

var pageTemplate = template.Must(template.New("report").Parse(pageTemplateText))

type Result struct {
	Path     string
	Filename string
	// Pages is -1 when the page count could not be determined.
	Pages int
}

// PagesValue is the page count as reported to clients: a number, or "~"
// when unknown.
func (r Result) PagesValue() any {
	if r.Pages < 0 {
		return unknownPages
	}
	return r.Pages
}

func (r Result) PagesLabel() string {
	if r.Pages < 0 {
		return unknownPages
	}
	return strconv.Itoa(r.Pages)
}

type Renderer interface {
	Render(ctx context.Context, markdown, topic, outputDir string) (Result, error)
}

// RenderFailure wraps any error raised while producing the PDF.
type RenderFailure struct {
	Err error
}

func (e *RenderFailure) Error() string {
	return e.Err.Error()
}

func (e *RenderFailure) Unwrap() error {
	return e.Err
}

type PrintFunc func(ctx context.Context, html []byte) ([]byte, error)

type PDFRenderer struct {
	print  PrintFunc
	logger *zap.Logger
	now    func() time.Time
}

func NewPDFRenderer(chromeBin string, logger *zap.Logger) *PDFRenderer {
	return NewPDFRendererWithPrinter(ChromePrinter(chromeBin), logger)
}

func NewPDFRendererWithPrinter(print PrintFunc, logger *zap.Logger) *PDFRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFRenderer{print: print, logger: logger, now: time.Now}
}

func (r *PDFRenderer) Render(ctx context.Context, markdown, topic, outputDir string) (Result, error) {
	start := time.Now()
	result, err := r.render(ctx, markdown, topic, outputDir)
	metrics.RecordRender(err, time.Since(start))
	if err != nil {
		r.logger.Warn("pdf render failed", zap.String("topic", topic), zap.Error(err))
		return Result{}, &RenderFailure{Err: err}
	}
	r.logger.Info("pdf rendered",
		zap.String("path", result.Path),
		zap.Int("pages", result.Pages),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (r *PDFRenderer) render(ctx context.Context, markdown, topic, outputDir string) (Result, error) {
	page, err := HTMLDocument(markdown, topic)
	if err != nil {
		return Result{}, err
	}
	pdf, err := r.print(ctx, page)
	if err != nil {
		return Result{}, fmt.Errorf("print pdf: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := Filename(topic, r.now())
	path := filepath.Join(outputDir, filename)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return Result{}, fmt.Errorf("write pdf: %w", err)
	}
	return Result{Path: path, Filename: filename, Pages: CountPages(pdf)}, nil
}

var converter = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Footnote),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// HTMLDocument renders Markdown into a complete, styled HTML page.
func HTMLDocument(source, title string) ([]byte, error) {
	var body bytes.Buffer
	if err := converter.Convert([]byte(source), &body); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}

	var page bytes.Buffer
	err := pageTemplate.Execute(&page, struct {
		Title     string
		Generated string
		Body      template.HTML
	}{
		Title:     title,
		Generated: time.Now().Format("January 2, 2006"),
		Body:      template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return page.Bytes(), nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Filename builds "<slug>_<timestamp>.pdf" from the topic.
func Filename(topic string, now time.Time) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(topic), "_"), "_")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "_")
	}
	if slug == "" {
		slug = "report"
	}
	return slug + "_" + now.Format(timestampLayout) + ".pdf"
}

// MarkdownFallbackName is the file a report is saved under when PDF output
// fails: the first 40 characters of the topic with spaces replaced.
func MarkdownFallbackName(topic, suffix string) string {
	runes := []rune(topic)
	if len(runes) > fallbackLength {
		runes = runes[:fallbackLength]
	}
	return strings.ReplaceAll(string(runes), " ", "_") + suffix + ".md"
}

var pageObject = regexp.MustCompile(`/Type\s*/Page[^s]`)

// CountPages counts page objects in a PDF, or returns -1 when none are found.
func CountPages(pdf []byte) int {
	n := len(pageObject.FindAllIndex(pdf, -1))
	if n == 0 {
		return -1
	}
	return n
}
