package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/types"
)

// writeEnvelopeError writes a failure envelope so middleware rejections look
// the same as operation failures to API clients.
func writeEnvelopeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(types.FailureEnvelope(message)); err != nil {
		log.Error().Err(err).Str("message", message).Msg("Failed to encode middleware error response")
	}
}
