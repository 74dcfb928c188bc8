// Package httpx holds the JSON response helpers shared by the HTTP layers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/travelmate/authgate"
)

// ErrorBody is the envelope written for every rejected request.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes the envelope for code and message.
func Error(w http.ResponseWriter, status int, code, message string, now time.Time) {
	JSON(w, status, ErrorBody{
		Error:     code,
		Message:   message,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

// EngineError writes err using its taxonomy entry. Errors outside the
// taxonomy are reported as INTERNAL_ERROR.
func EngineError(w http.ResponseWriter, err error, now time.Time) {
	var ae *authgate.Error
	if !errors.As(err, &ae) {
		ae = authgate.ErrInternal
	}
	if ae.Remaining > 0 {
		secs := int((ae.Remaining + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	Error(w, ae.Status, ae.Code, ae.Message, now)
}
