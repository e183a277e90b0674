package utils

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// ErrorBody is the JSON shape of every monitor API error.
type ErrorBody struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondJSON writes payload with the given status. Monitor data describes
// live sessions, so responses are never cached.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	header := w.Header()
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	header.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).WithField("status", status).Warn("failed to encode response")
	}
}

// RespondError writes an ErrorBody tagged with the chi request id of r.
func RespondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	body := ErrorBody{Error: message, Status: status}
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	RespondJSON(w, status, body)
}
