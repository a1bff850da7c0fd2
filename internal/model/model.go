package model

import (
	"encoding/json"
	"time"
)

// User represents a registered user.
type User struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	ProviderID  string    `json:"provider_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Game statuses as stored in Postgres.
const (
	GamePending   = "pending"
	GameActive    = "active"
	GameCompleted = "completed"
)

// Game is the lobby record of a World Conflict game. The board itself lives
// in the snapshot store.
type Game struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	CreatorID    string       `json:"creator_id"`
	Status       string       `json:"status"` // pending, active, completed
	Winner       string       `json:"winner,omitempty"`
	MapSize      string       `json:"map_size"`
	MaxPlayers   int          `json:"max_players"`
	MaxTurns     int          `json:"max_turns"`
	TurnDuration string       `json:"turn_duration"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	Players      []GamePlayer `json:"players,omitempty"`
}

// GameSettings are chosen by the creator when opening a lobby.
type GameSettings struct {
	MapSize      string `json:"map_size"`
	MaxPlayers   int    `json:"max_players"`
	MaxTurns     int    `json:"max_turns"`
	TurnDuration string `json:"turn_duration"`
}

// GamePlayer represents a player's seat in a game.
type GamePlayer struct {
	GameID      string    `json:"game_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Slot        int       `json:"slot"`
	IsBot       bool      `json:"is_bot"`
	JoinedAt    time.Time `json:"joined_at"`
}

// CommandRecord is one accepted command in a game's audit log. Together with
// the game's seed the log reproduces every state the game went through.
// Version is the snapshot version the command was committed in; a bot turn
// commits several commands at once, ordered by Seq.
type CommandRecord struct {
	ID          string          `json:"id"`
	GameID      string          `json:"game_id"`
	Version     int64           `json:"version"`
	Seq         int             `json:"seq"`
	PlayerSlot  int             `json:"player_slot"`
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
	Replay      json.RawMessage `json:"replay,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
