package api

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

type MockResearch struct {
	mock.Mock
	// Script, when set, is replayed through emit by Stream.
	Script []events.Event
}

func (m *MockResearch) Stream(ctx context.Context, req session.Request, emit session.EmitFunc) error {
	args := m.Called(ctx, req)
	for _, ev := range m.Script {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return args.Error(0)
}

func (m *MockResearch) Cancel(sessionID string) bool {
	args := m.Called(sessionID)
	return args.Bool(0)
}

func (m *MockResearch) Active() []store.Session {
	args := m.Called()
	if value := args.Get(0); value != nil {
		return value.([]store.Session)
	}
	return nil
}

func (m *MockResearch) Lookup(sessionID string) (store.Session, bool) {
	args := m.Called(sessionID)
	return args.Get(0).(store.Session), args.Bool(1)
}

type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) Dir() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockReportStore) ListReports(ctx context.Context) ([]store.Report, error) {
	args := m.Called(ctx)
	var result []store.Report
	if value := args.Get(0); value != nil {
		result = value.([]store.Report)
	}
	return result, args.Error(1)
}

func (m *MockReportStore) OpenReport(ctx context.Context, filename string) (io.ReadSeekCloser, *store.Report, error) {
	args := m.Called(ctx, filename)
	var file io.ReadSeekCloser
	if value := args.Get(0); value != nil {
		file = value.(io.ReadSeekCloser)
	}
	var report *store.Report
	if value := args.Get(1); value != nil {
		report = value.(*store.Report)
	}
	return file, report, args.Error(2)
}

func (m *MockReportStore) SaveMarkdown(ctx context.Context, filename string, content string) (string, error) {
	args := m.Called(ctx, filename, content)
	return args.String(0), args.Error(1)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Subscribe(ctx context.Context, sessionID string) <-chan events.Event {
	args := m.Called(ctx, sessionID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.Event); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.Event); ok {
			return ch
		}
	}
	return nil
}

type nopSeekCloser struct {
	io.ReadSeeker
}

func (nopSeekCloser) Close() error { return nil }

func validConfig() config.Config {
	return config.Config{
		AnthropicAPIKey:   "sk-test",
		AgentRuntime:      config.RuntimeClaudeCLI,
		Port:              8000,
		PollInterval:      1,
		HeartbeatInterval: 1,
	}
}

func newTestServer(t *testing.T, research ResearchService, reports store.ReportStore, broker Broker, cfg config.Config) *httptest.Server {
	t.Helper()
	server := NewServer(research, reports, broker, cfg, nil)
	return httptest.NewServer(server.Router())
}
