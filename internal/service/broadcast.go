package service

import (
	"time"

	"github.com/freeeve/world-conflict/pkg/conflict"
)

// Event types sent to subscribers of a game.
const (
	EventPlayerJoined   = "player_joined"
	EventGameStarted    = "game_started"
	EventCommandApplied = "command_applied"
	EventTurnChanged    = "turn_changed"
	EventGameEnded      = "game_ended"
)

// Broadcaster fans game events out to subscribed clients.
type Broadcaster interface {
	BroadcastGameEvent(gameID string, eventType string, data any)
}

// NoopBroadcaster drops every event.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastGameEvent(string, string, any) {}

// PlayerJoined is the payload of EventPlayerJoined. UserID is empty for bots.
type PlayerJoined struct {
	UserID string `json:"user_id,omitempty"`
	Slot   int    `json:"slot"`
	IsBot  bool   `json:"is_bot"`
}

// CommandApplied is the payload of EventCommandApplied. Version is the
// snapshot version the command produced.
type CommandApplied struct {
	Version int64                 `json:"version"`
	Command conflict.CommandInput `json:"command"`
	Result  conflict.Result       `json:"result"`
}

// TurnChanged is the payload of EventTurnChanged.
type TurnChanged struct {
	CurrentPlayer int       `json:"current_player"`
	TurnNumber    int       `json:"turn_number"`
	TurnStartedAt time.Time `json:"turn_started_at"`
}
