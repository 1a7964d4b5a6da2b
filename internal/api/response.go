package api

import (
	"encoding/json"
	"net/http"

	"github.com/mboyle/zonehub/internal/apperrors"
)

// ErrorResponse wraps the serialized error payload.
type ErrorResponse struct {
	RequestID string             `json:"requestId,omitempty"`
	Error     apperrors.ErrorBody `json:"error"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an error through the apperrors taxonomy.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.Ensure(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{
		RequestID: GetRequestID(r),
		Error:     appErr.Body(),
	})
}

// WriteOK sends a plain success acknowledgement.
func WriteOK(w http.ResponseWriter) error {
	return WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
