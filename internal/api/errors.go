package api

import (
	"encoding/json"
	"net/http"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// respondServiceError maps a service error onto its status code and error
// body. System errors are logged and their message is not exposed.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := fxerrors.Categorize(err)

	if fxerrors.IsSystemError(catErr) {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"code": catErr.Code,
			"path": r.URL.Path,
		}).Error("request failed")
	}

	svcErr := catErr.ToServiceError()
	if catErr.StatusCode == http.StatusInternalServerError {
		svcErr.Message = "An internal error occurred"
	}
	respondError(w, catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details)
}
