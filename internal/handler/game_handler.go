package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/freeeve/world-conflict/internal/auth"
	"github.com/freeeve/world-conflict/internal/model"
	"github.com/freeeve/world-conflict/internal/service"
)

// maxGameName bounds lobby names, in runes.
const maxGameName = 64

// GameHandler serves the lobby and the live game state.
type GameHandler struct {
	gameSvc *service.GameService
}

func NewGameHandler(gameSvc *service.GameService) *GameHandler {
	return &GameHandler{gameSvc: gameSvc}
}

type createGameRequest struct {
	Name         string `json:"name"`
	MapSize      string `json:"map_size,omitempty"`
	MaxPlayers   int    `json:"max_players,omitempty"`
	MaxTurns     int    `json:"max_turns,omitempty"`
	TurnDuration string `json:"turn_duration,omitempty"`
	Bots         int    `json:"bots,omitempty"`
}

// respond writes v with status, or the mapped service error.
func respond[T any](w http.ResponseWriter, r *http.Request, status int, v T, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func statusBody(s string) map[string]string { return map[string]string{"status": s} }

// CreateGame handles POST /api/v1/games. The caller takes seat 0 and any
// requested bots the seats after it.
func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxGameName {
		writeError(w, http.StatusBadRequest, "name is required (at most 64 characters)")
		return
	}

	settings := model.GameSettings{
		MapSize:      req.MapSize,
		MaxPlayers:   req.MaxPlayers,
		MaxTurns:     req.MaxTurns,
		TurnDuration: req.TurnDuration,
	}
	game, err := h.gameSvc.CreateGame(r.Context(), name, auth.UserIDFromContext(r.Context()), settings, req.Bots)
	respond(w, r, http.StatusCreated, game, err)
}

// ListGames handles GET /api/v1/games?filter=open|my|active|finished.
// An empty result is [] rather than null.
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.gameSvc.ListGames(r.Context(), auth.UserIDFromContext(r.Context()), r.URL.Query().Get("filter"))
	if games == nil {
		games = []model.Game{}
	}
	respond(w, r, http.StatusOK, games, err)
}

// GetGame handles GET /api/v1/games/{id}.
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.gameSvc.GetGame(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, game, err)
}

// GetState handles GET /api/v1/games/{id}/state: map, seats and the
// current game state of a started game.
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.gameSvc.GetSnapshot(r.Context(), r.PathValue("id"))
	respond(w, r, http.StatusOK, snap, err)
}

// JoinGame handles POST /api/v1/games/{id}/join.
func (h *GameHandler) JoinGame(w http.ResponseWriter, r *http.Request) {
	err := h.gameSvc.JoinGame(r.Context(), r.PathValue("id"), auth.UserIDFromContext(r.Context()))
	respond(w, r, http.StatusOK, statusBody("joined"), err)
}

// AddBot handles POST /api/v1/games/{id}/bots. Creator only.
func (h *GameHandler) AddBot(w http.ResponseWriter, r *http.Request) {
	err := h.gameSvc.AddBot(r.Context(), r.PathValue("id"), auth.UserIDFromContext(r.Context()))
	respond(w, r, http.StatusOK, statusBody("added"), err)
}

// StartGame handles POST /api/v1/games/{id}/start. Creator only.
func (h *GameHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.gameSvc.StartGame(r.Context(), r.PathValue("id"), auth.UserIDFromContext(r.Context()))
	respond(w, r, http.StatusOK, game, err)
}

// StopGame handles POST /api/v1/games/{id}/stop and ends the game as a draw.
// Creator only.
func (h *GameHandler) StopGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.gameSvc.StopGame(r.Context(), r.PathValue("id"), auth.UserIDFromContext(r.Context()))
	respond(w, r, http.StatusOK, game, err)
}

// DeleteGame handles DELETE /api/v1/games/{id}. Only pending games can be
// deleted, by their creator.
func (h *GameHandler) DeleteGame(w http.ResponseWriter, r *http.Request) {
	err := h.gameSvc.DeleteGame(r.Context(), r.PathValue("id"), auth.UserIDFromContext(r.Context()))
	respond(w, r, http.StatusOK, statusBody("deleted"), err)
}
