// Package session runs research sessions on behalf of a streaming client:
// it starts the research in the background, relays its progress as wire
// events, keeps the connection alive while the agent is quiet and finishes
// with exactly one terminal event.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/metrics"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/render"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

const (
	MinTurns         = 10
	MaxTurns         = 100
	DefaultMaxTurns  = 50
	idLength         = 8
	cancelledMessage = "Research stopped by user."
	defaultPoll      = time.Second
	defaultHeartbeat = 10 * time.Second
)

var ErrTopicRequired = errors.New("topic is required")

type Runner interface {
	Run(ctx context.Context, req research.Request, sink events.Sink) (string, error)
}

type Request struct {
	Topic        string
	Instructions string
	MaxTurns     int
}

// EmitFunc delivers one wire event to the client. An error means the client
// is gone.
type EmitFunc func(events.Event) error

type Options struct {
	DefaultMaxTurns   int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

type Manager struct {
	runner   Runner
	renderer render.Renderer
	sessions store.SessionStore
	reports  store.ReportStore
	broker   *events.Broker
	logger   *zap.Logger
	opts     Options
	newID    func() string
	now      func() time.Time
}

func NewManager(
	runner Runner,
	renderer render.Renderer,
	sessions store.SessionStore,
	reports store.ReportStore,
	broker *events.Broker,
	logger *zap.Logger,
	opts Options,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broker == nil {
		broker = events.NewBroker()
	}
	if opts.DefaultMaxTurns <= 0 {
		opts.DefaultMaxTurns = DefaultMaxTurns
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	return &Manager{
		runner:   runner,
		renderer: renderer,
		sessions: sessions,
		reports:  reports,
		broker:   broker,
		logger:   logger,
		opts:     opts,
		newID:    newSessionID,
		now:      time.Now,
	}
}

func newSessionID() string {
	return uuid.NewString()[:idLength]
}

// ClampTurns bounds a requested turn budget to [10, 100]. Zero selects the
// configured default.
func (m *Manager) ClampTurns(requested int) int {
	if requested == 0 {
		requested = m.opts.DefaultMaxTurns
	}
	return max(MinTurns, min(MaxTurns, requested))
}

// Cancel stops an active session. It reports false when the session is
// unknown or has already finished.
func (m *Manager) Cancel(sessionID string) bool {
	entry, err := m.sessions.DeleteSession(context.Background(), sessionID)
	if err != nil || entry == nil {
		return false
	}
	if entry.Done != nil {
		select {
		case <-entry.Done:
			return false
		default:
		}
	}
	if entry.Cancel != nil {
		entry.Cancel()
	}
	m.logger.Info("research session cancelled", zap.String("session_id", sessionID))
	return true
}

func (m *Manager) Active() []store.Session {
	sessions, err := m.sessions.ListSessions(context.Background())
	if err != nil {
		m.logger.Warn("list sessions failed", zap.Error(err))
		return []store.Session{}
	}
	return sessions
}

// Lookup returns the registered session with the given id.
func (m *Manager) Lookup(sessionID string) (store.Session, bool) {
	entry, err := m.sessions.GetSession(context.Background(), sessionID)
	if err != nil {
		m.logger.Warn("get session failed", zap.String("session_id", sessionID), zap.Error(err))
		return store.Session{}, false
	}
	if entry == nil {
		return store.Session{}, false
	}
	return *entry, true
}

func (m *Manager) Broker() *events.Broker {
	return m.broker
}

type stream struct {
	m       *Manager
	id      string
	emit    EmitFunc
	logger  *zap.Logger
	started time.Time
}

func (s *stream) send(name string, data map[string]any) error {
	ev := events.Event{SessionID: s.id, Name: name, Data: data}
	s.m.broker.Publish(ev)
	return s.emit(ev)
}

func (s *stream) log(message string, kind events.Kind) error {
	return s.send(events.NameLog, map[string]any{"message": message, "type": string(kind)})
}

func (s *stream) status(message string) error {
	return s.send(events.NameStatus, map[string]any{"message": message})
}

func (s *stream) setState(state store.SessionState) {
	if err := s.m.sessions.UpdateSessionState(context.Background(), s.id, state); err != nil {
		s.logger.Debug("session state not recorded", zap.String("state", string(state)), zap.Error(err))
	}
}

// Stream runs one research session and reports it through emit until a
// terminal event has been delivered or the client goes away. It returns
// only after the background run has exited.
func (m *Manager) Stream(ctx context.Context, req Request, emit EmitFunc) error {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return ErrTopicRequired
	}
	turns := m.ClampTurns(req.MaxTurns)
	instructions := strings.TrimSpace(req.Instructions)

	id := m.newID()
	s := &stream{
		m:       m,
		id:      id,
		emit:    emit,
		logger:  m.logger.With(zap.String("session_id", id), zap.String("topic", topic)),
		started: m.now(),
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	var cancelRequested atomic.Bool
	done := make(chan struct{})

	err := m.sessions.CreateSession(ctx, store.Session{
		ID:        id,
		Topic:     topic,
		MaxTurns:  turns,
		State:     store.SessionCreated,
		CreatedAt: s.started.UTC(),
		Cancel: func() {
			cancelRequested.Store(true)
			cancelRun()
		},
		Done: done,
	})
	if err != nil {
		cancelRun()
		return fmt.Errorf("register session: %w", err)
	}
	metrics.RecordSessionStart()
	s.logger.Info("research session started", zap.Int("max_turns", turns))

	outcome := metrics.OutcomeAbandoned
	launched := false
	defer func() {
		if _, err := m.sessions.DeleteSession(context.Background(), id); err != nil {
			s.logger.Warn("remove session failed", zap.Error(err))
		}
		cancelRun()
		if launched {
			<-done
		}
		elapsed := m.now().Sub(s.started)
		metrics.RecordSessionEnd(outcome, elapsed)
		s.logger.Info("research session finished", zap.String("outcome", outcome), zap.Duration("elapsed", elapsed))
	}()

	if err := s.send(events.NameSession, map[string]any{"session_id": id}); err != nil {
		return err
	}
	if err := s.status("Researching: " + topic); err != nil {
		return err
	}
	if err := s.log("Topic: "+topic, events.KindPhase); err != nil {
		return err
	}
	if err := s.log(fmt.Sprintf("Max turns: %d", turns), events.KindPhase); err != nil {
		return err
	}
	if instructions != "" {
		if err := s.log("Instructions: "+instructions, events.KindPhase); err != nil {
			return err
		}
	}

	queue := events.NewQueue()
	var (
		reportText string
		runErr     error
	)
	launched = true
	s.setState(store.SessionRunning)
	go func() {
		defer close(done)
		reportText, runErr = m.runner.Run(runCtx, research.Request{
			Topic:        topic,
			Instructions: instructions,
			MaxTurns:     turns,
		}, queue)
	}()

	if err := s.relay(ctx, queue, done); err != nil {
		return err
	}
	<-done

	for _, p := range queue.Drain() {
		if err := s.log(p.Message, p.Kind); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// An accepted Cancel wins even when the run finished with a report.
	if cancelRequested.Load() || errors.Is(runErr, context.Canceled) {
		outcome = metrics.OutcomeCancelled
		s.setState(store.SessionCancelled)
		return s.send(events.NameCancelled, map[string]any{"message": cancelledMessage})
	}
	if runErr != nil {
		outcome = metrics.OutcomeFailed
		s.setState(store.SessionFailed)
		if research.IsRunFailure(runErr) {
			s.logger.Info("no report extracted", zap.Error(runErr))
		} else {
			s.logger.Warn("research failed", zap.Error(runErr))
		}
		return s.send(events.NameError, map[string]any{"message": runErr.Error()})
	}

	outcome, err = s.finish(ctx, topic, reportText)
	return err
}

// relay forwards queued progress until the run is done, emitting a
// heartbeat whenever nothing was sent for a full heartbeat interval.
func (s *stream) relay(ctx context.Context, queue *events.Queue, done <-chan struct{}) error {
	lastSignal := s.m.now()
	for {
		select {
		case <-done:
			return nil
		default:
		}

		p, ok := queue.Next(ctx, s.m.opts.PollInterval)
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok {
			if err := s.log(p.Message, p.Kind); err != nil {
				return err
			}
			if err := s.status(p.Message); err != nil {
				return err
			}
			lastSignal = s.m.now()
			continue
		}

		now := s.m.now()
		if now.Sub(lastSignal) >= s.m.opts.HeartbeatInterval {
			elapsed := int(now.Sub(s.started).Seconds())
			err := s.send(events.NameHeartbeat, map[string]any{
				"elapsed": elapsed,
				"message": fmt.Sprintf("Working... (%dm %ds)", elapsed/60, elapsed%60),
			})
			if err != nil {
				return err
			}
			lastSignal = now
		}
	}
}

func (s *stream) finish(ctx context.Context, topic, reportText string) (string, error) {
	s.setState(store.SessionRendering)
	if err := s.log("Converting to PDF...", events.KindPhase); err != nil {
		return metrics.OutcomeAbandoned, err
	}
	if err := s.status("Generating PDF report..."); err != nil {
		return metrics.OutcomeAbandoned, err
	}

	result, renderErr := s.m.renderer.Render(ctx, reportText, topic, s.m.reports.Dir())
	if renderErr != nil {
		name := render.MarkdownFallbackName(topic, "")
		saved := "Markdown saved."
		if _, err := s.m.reports.SaveMarkdown(context.Background(), name, reportText); err != nil {
			s.logger.Error("markdown fallback not saved", zap.String("filename", name), zap.Error(err))
			saved = "Markdown could not be saved."
		}
		s.setState(store.SessionDegraded)
		err := s.send(events.NameError, map[string]any{
			"message": fmt.Sprintf("PDF generation failed: %v. %s", renderErr, saved),
		})
		return metrics.OutcomeDegraded, err
	}

	s.setState(store.SessionCompleted)
	if err := s.log("Report saved: "+result.Filename, events.KindDone); err != nil {
		return metrics.OutcomeAbandoned, err
	}
	err := s.send(events.NameComplete, map[string]any{
		"filename": result.Filename,
		"pages":    result.PagesValue(),
		"path":     result.Path,
	})
	if err != nil {
		return metrics.OutcomeAbandoned, err
	}
	return metrics.OutcomeCompleted, nil
}
