package handler

import (
	"io"
	"net/http"

	"github.com/freeeve/world-conflict/internal/auth"
	"github.com/freeeve/world-conflict/internal/logger"
	"github.com/freeeve/world-conflict/internal/service"
)

// maxCommandBytes caps a submitted command body.
const maxCommandBytes = 4096

// CommandHandler handles command submission and the command log.
type CommandHandler struct {
	cmdSvc *service.CommandService
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(cmdSvc *service.CommandService) *CommandHandler {
	return &CommandHandler{cmdSvc: cmdSvc}
}

// SubmitCommand handles POST /api/v1/games/{id}/commands. The body is one
// command in wire form. A command that breaks a rule answers 422 with the
// violations; an accepted one answers 200 with the result and new version.
func (h *CommandHandler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	userID := auth.UserIDFromContext(r.Context())

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes+1))
	r.Body.Close()
	if err != nil || len(raw) > maxCommandBytes {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.cmdSvc.SubmitCommand(r.Context(), gameID, userID, raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !out.Result.Success {
		l := logger.ForGame(r.Context(), gameID)
		l.Debug().Str("userId", userID).Strs("errors", out.Result.Errors).Msg("Command refused")
		writeJSON(w, http.StatusUnprocessableEntity, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListCommands handles GET /api/v1/games/{id}/commands
func (h *CommandHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	recs, err := h.cmdSvc.ListCommands(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// VerifyGame handles GET /api/v1/games/{id}/verify. It replays the command
// log from the seed and reports whether the live state matches.
func (h *CommandHandler) VerifyGame(w http.ResponseWriter, r *http.Request) {
	n, err := h.cmdSvc.VerifyGame(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "commands": n})
}
