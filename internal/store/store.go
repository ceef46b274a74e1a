package store

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidFilename = errors.New("invalid report filename")
)

type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionRunning   SessionState = "running"
	SessionRendering SessionState = "rendering"
	SessionCompleted SessionState = "completed"
	SessionDegraded  SessionState = "degraded"
	SessionFailed    SessionState = "failed"
	SessionCancelled SessionState = "cancelled"
)

// Session is one live research run. Cancel stops the run; Done is closed once
// the run's goroutine has exited.
type Session struct {
	ID        string          `json:"session_id"`
	Topic     string          `json:"topic"`
	MaxTurns  int             `json:"max_turns"`
	State     SessionState    `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	Cancel    func()          `json:"-"`
	Done      <-chan struct{} `json:"-"`
}

type Report struct {
	Filename string    `json:"filename"`
	Name     string    `json:"name"`
	Date     string    `json:"date"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"-"`
}

type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSessionState(ctx context.Context, sessionID string, state SessionState) error
	// DeleteSession removes the session and returns it, or nil when it was
	// not registered.
	DeleteSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
}

type ReportStore interface {
	Dir() string
	ListReports(ctx context.Context) ([]Report, error)
	OpenReport(ctx context.Context, filename string) (io.ReadSeekCloser, *Report, error)
	SaveMarkdown(ctx context.Context, filename string, content string) (string, error)
}
