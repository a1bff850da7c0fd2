package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/internal/logger"
	"github.com/freeeve/world-conflict/internal/repository"
	"github.com/freeeve/world-conflict/internal/service"
)

// maxBodyBytes caps JSON request bodies other than commands.
const maxBodyBytes = 16 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error to its status code. Unknown errors
// are logged and reported to the client as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		l := logger.ForRequest(r.Context())
		l.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrGameNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCommand),
		errors.Is(err, service.ErrInvalidSettings),
		errors.Is(err, service.ErrInvalidFilter),
		errors.Is(err, service.ErrGameFull),
		errors.Is(err, service.ErrAlreadyJoined),
		errors.Is(err, service.ErrNotEnough):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotCreator),
		errors.Is(err, service.ErrNotInGame),
		errors.Is(err, service.ErrNotYourSlot):
		return http.StatusForbidden
	case errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrGameNotPending),
		errors.Is(err, service.ErrGameNotActive),
		errors.Is(err, service.ErrReplayMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes exactly one JSON value of at most maxBodyBytes.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}
