package handler

import (
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/internal/auth"
	"github.com/freeeve/world-conflict/internal/repository"
)

// maxDisplayName is the longest name shown on a seat, in runes.
const maxDisplayName = 32

// devProvider marks accounts created through dev login.
const devProvider = "dev"

// AuthHandler issues tokens and serves the caller's profile.
type AuthHandler struct {
	jwtMgr   *auth.JWTManager
	userRepo repository.UserRepository
	devMode  bool
}

// NewAuthHandler creates an AuthHandler. Dev login only answers when
// devMode is set.
func NewAuthHandler(jwtMgr *auth.JWTManager, userRepo repository.UserRepository, devMode bool) *AuthHandler {
	return &AuthHandler{jwtMgr: jwtMgr, userRepo: userRepo, devMode: devMode}
}

// displayName trims s and reports whether it is usable as a seat name.
func displayName(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > maxDisplayName {
		return "", false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", false
		}
	}
	return s, true
}

func (h *AuthHandler) issueTokens(w http.ResponseWriter, userID string) {
	tokens, err := h.jwtMgr.GenerateTokenPair(userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Failed to sign tokens")
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// RefreshToken handles POST /auth/refresh. Only refresh tokens of users
// that still exist are exchanged.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims, err := h.jwtMgr.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	user, err := h.userRepo.FindByID(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	h.issueTokens(w, user.ID)
}

// DevLogin handles /auth/dev?name=. It signs in as the named dev account,
// creating it on first use. Disabled outside dev mode.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.devMode {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name, ok := displayName(r.URL.Query().Get("name"))
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid name parameter")
		return
	}

	user, err := h.userRepo.Upsert(r.Context(), devProvider, devProvider+"-"+strings.ToLower(name), name, "")
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to upsert dev user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	h.issueTokens(w, user.ID)
}

// GetMe handles GET /api/v1/users/me.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.userRepo.FindByID(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateMe handles PATCH /api/v1/users/me. Display names are what other
// players see on their seats.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name, ok := displayName(req.DisplayName)
	if !ok {
		writeError(w, http.StatusBadRequest, "display_name must be 1 to 32 printable characters")
		return
	}

	if err := h.userRepo.UpdateDisplayName(r.Context(), userID, name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := h.userRepo.FindByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
