package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

//go:embed static/index.html
var indexHTML []byte

type Server struct {
	research  ResearchService
	reports   store.ReportStore
	broker    Broker
	cfg       config.Config
	logger    *zap.Logger
	keepAlive time.Duration
}

type ResearchService interface {
	Stream(ctx context.Context, req session.Request, emit session.EmitFunc) error
	Cancel(sessionID string) bool
	Active() []store.Session
	Lookup(sessionID string) (store.Session, bool)
}

type Broker interface {
	Subscribe(ctx context.Context, sessionID string) <-chan events.Event
}

func NewServer(research ResearchService, reports store.ReportStore, broker Broker, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		research:  research,
		reports:   reports,
		broker:    broker,
		cfg:       cfg,
		logger:    logger,
		keepAlive: 15 * time.Second,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", s.index)
	r.Get("/api/research/stream", s.streamResearch)
	r.Post("/api/research/cancel", s.cancelResearch)
	r.Get("/api/research/sessions", s.listSessions)
	r.Get("/api/research/sessions/{id}/events", s.watchSession)
	r.Get("/api/reports", s.listReports)
	r.Get("/api/reports/{filename}", s.downloadReport)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready" || cleanPath == "/metrics") {
		return true
	}
	if method == http.MethodOptions {
		return true
	}
	return false
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.reports.ListReports(ctx); err != nil {
		subsystems["reports"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["reports"] = subsystemStatus{Status: "ok"}
	}

	if err := config.Validate(s.cfg); err != nil {
		subsystems["config"] = subsystemStatus{Status: "error", Error: firstLine(err.Error())}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["config"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func firstLine(value string) string {
	line, _, _ := strings.Cut(value, "\n")
	return line
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
