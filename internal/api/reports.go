package api

import (
	"errors"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.ListReports(r.Context())
	if err != nil {
		writeJSONStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []store.Report{}
	}
	writeJSON(w, reports)
}

func (s *Server) downloadReport(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	file, report, err := s.reports.OpenReport(r.Context(), filename)
	if isNotFound(err) || errors.Is(err, store.ErrInvalidFilename) {
		writeJSONStatus(w, map[string]string{"error": "Report not found"}, http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Warn("open report failed", zap.String("filename", filename), zap.Error(err))
		writeJSONStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": report.Filename}))
	http.ServeContent(w, r, report.Filename, report.ModTime, file)
}
