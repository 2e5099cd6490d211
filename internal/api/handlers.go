package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	data, err := s.reports.ExportWorkbook(r.Context(), userID)
	if err != nil {
		slog.Error("Server.exportHandler: export failed", "userID", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to build export")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="trackpipe-%s.xlsx"`, userID))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.exportHandler: write failed", "userID", userID, "error", err)
	}
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	period := r.URL.Query().Get("period")
	sum, err := s.reports.Summarize(r.Context(), userID, period)
	if errors.Is(err, report.ErrUnknownPeriod) {
		writeError(w, http.StatusBadRequest, "period must be week or month")
		return
	}
	if err != nil {
		slog.Error("Server.summaryHandler: summary failed", "userID", userID, "period", period, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to build summary")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sum))
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.log.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: fetch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch receipts")
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	responses, err := s.log.GetResponses()
	if err != nil {
		slog.Error("Server.responsesHandler: fetch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch responses")
		return
	}
	if responses == nil {
		responses = []models.Response{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}
