// Package filesystem keeps generated reports as files in one output
// directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

const (
	reportExt  = ".pdf"
	dateLayout = "Jan 02, 2006 03:04 PM"
)

type ReportStore struct {
	dir  string
	lang language.Tag
}

func New(dir string) *ReportStore {
	return &ReportStore{dir: dir, lang: language.English}
}

func (s *ReportStore) Dir() string {
	return s.dir
}

func (s *ReportStore) ListReports(ctx context.Context) ([]store.Report, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []store.Report{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	reports := make([]store.Report, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), reportExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		reports = append(reports, s.describe(info))
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].ModTime.After(reports[j].ModTime)
	})
	return reports, nil
}

func (s *ReportStore) OpenReport(ctx context.Context, filename string) (io.ReadSeekCloser, *store.Report, error) {
	if err := validateFilename(filename); err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(filepath.Ext(filename), reportExt) {
		return nil, nil, fmt.Errorf("%s: %w", filename, store.ErrNotFound)
	}

	file, err := os.Open(filepath.Join(s.dir, filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s: %w", filename, store.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open report: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("stat report: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, nil, fmt.Errorf("%s: %w", filename, store.ErrNotFound)
	}
	report := s.describe(info)
	return file, &report, nil
}

func (s *ReportStore) SaveMarkdown(ctx context.Context, filename string, content string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write markdown: %w", err)
	}
	return path, nil
}

func (s *ReportStore) describe(info fs.FileInfo) store.Report {
	stem := strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))
	name := strings.NewReplacer("-", " ", "_", " ").Replace(stem)
	// Casers keep state and are not shared between calls.
	title := cases.Title(s.lang)
	return store.Report{
		Filename: info.Name(),
		Name:     title.String(name),
		Date:     info.ModTime().Format(dateLayout),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

func validateFilename(filename string) error {
	if filename == "" || filename == "." || filename == ".." || filepath.Base(filename) != filename || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%q: %w", filename, store.ErrInvalidFilename)
	}
	return nil
}
