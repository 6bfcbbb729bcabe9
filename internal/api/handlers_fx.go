package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/job"
	"github.com/fx-insight/internal/models"
	"github.com/fx-insight/internal/service"
)

// userIDFromRequest returns the caller's user id, responding 401 when the
// X-User-ID header is missing
func userIDFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "User ID required", nil)
		return "", false
	}
	return userID, true
}

// parseDateParam reads an optional RFC3339 or YYYY-MM-DD query parameter
func parseDateParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fxerrors.NewInvalidParameterError(name, "must be RFC3339 or YYYY-MM-DD")
	}
	return &t, nil
}

// handleRevaluationReport handles GET /api/fx/revaluation.
// A window without snapshots is a 200 with a message, not an error.
func (s *Server) handleRevaluationReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	startDate, err := parseDateParam(r, "startDate")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	endDate, err := parseDateParam(r, "endDate")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	report, err := s.revaluationService.GenerateRevaluationReport(r.Context(), &service.RevaluationReportInput{
		UserID:       userID,
		BaseCurrency: r.URL.Query().Get("baseCurrency"),
		StartDate:    startDate,
		EndDate:      endDate,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.raiseAlert(job.FxImpactAlert(report, s.fxShareThreshold()))
	respondJSON(w, http.StatusOK, report)
}

// handleUnrealizedPL handles GET /api/fx/unrealized-pl.
func (s *Server) handleUnrealizedPL(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	report, err := s.revaluationService.CalculateCurrentUnrealizedPL(r.Context(), userID, r.URL.Query().Get("baseCurrency"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleExposure handles GET /api/fx/exposure.
func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	report, err := s.revaluationService.GetCurrencyExposure(r.Context(), userID, r.URL.Query().Get("baseCurrency"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleRiskAssessment handles GET /api/fx/risk.
func (s *Server) handleRiskAssessment(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	assessment, err := s.revaluationService.GenerateRiskAssessment(r.Context(), userID, r.URL.Query().Get("baseCurrency"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.raiseAlert(job.RiskAlert(assessment))
	respondJSON(w, http.StatusOK, assessment)
}

// handleRecordSnapshot handles POST /api/fx/snapshots. The snapshot is
// always stored for the calling user.
func (s *Server) handleRecordSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	var snapshot models.NetWorthSnapshot
	if err := parseJSONBody(r, &snapshot); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if snapshot.UserID != "" && snapshot.UserID != userID {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Snapshot belongs to another user", nil)
		return
	}
	snapshot.UserID = userID

	if err := s.snapshotService.RecordSnapshot(r.Context(), &snapshot); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, &snapshot)
}

// handleGetRate handles GET /api/fx/rates/{from}/{to}.
func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	quote, err := s.rateService.GetRealTimeRate(r.Context(), vars["from"], vars["to"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}
