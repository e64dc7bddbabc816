package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/types"
)

// writeJSON writes v as a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response body")
	}
}

// writeError maps an operation error onto an HTTP status and a failure
// envelope. Session exhaustion carries a Retry-After hint.
func writeError(w http.ResponseWriter, err error) {
	var exhausted *types.SessionsExhaustedError
	if errors.As(err, &exhausted) {
		seconds := int(exhausted.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusServiceUnavailable, types.FailureEnvelope(err.Error()))
		return
	}

	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Unexpected errors can carry infrastructure detail such as internal
		// URLs or credentials; clients get a generic message.
		log.Error().Err(err).Msg("Internal error")
		message = "Internal server error"
	}
	writeJSON(w, status, types.FailureEnvelope(message))
}

// statusForError picks the HTTP status for an operation error.
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, types.ErrSessionsExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNoSearchResults):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
