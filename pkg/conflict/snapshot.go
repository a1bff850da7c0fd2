package conflict

import (
	"encoding/json"
	"fmt"
	"time"
)

// GameStatus is the lifecycle stage of a persisted game.
type GameStatus string

const (
	StatusPending   GameStatus = "PENDING"
	StatusActive    GameStatus = "ACTIVE"
	StatusCompleted GameStatus = "COMPLETED"
)

// Snapshot is the persisted form of a game: the static graph and seats plus
// the current state, stamped with the store version it was read at.
type Snapshot struct {
	GameID       string     `json:"gameId"`
	Status       GameStatus `json:"status"`
	Players      []Player   `json:"players"`
	Regions      []Region   `json:"regions"`
	GameState    *GameState `json:"gameState"`
	Seed         uint64     `json:"seed"`
	Version      int64      `json:"version"`
	LastUpdateAt time.Time  `json:"lastUpdateAt"`

	// TurnStartedAt is when the current player's turn began.
	TurnStartedAt time.Time `json:"turnStartedAt"`
}

// Advance returns a copy of s carrying next, with the status following the
// state's end result. The turn clock restarts when the player to move changes.
func (s *Snapshot) Advance(next *GameState, now time.Time) *Snapshot {
	out := *s
	out.GameState = next
	out.LastUpdateAt = now
	if prev := s.GameState; prev == nil || prev.CurrentPlayerSlot != next.CurrentPlayerSlot || prev.TurnNumber != next.TurnNumber {
		out.TurnStartedAt = now
	}
	if next.IsOver() {
		out.Status = StatusCompleted
	}
	return &out
}

// Marshal encodes s for storage. The version is owned by the store and is
// not part of the payload.
func (s *Snapshot) Marshal() ([]byte, error) {
	out := *s
	out.Version = 0
	return json.Marshal(out)
}

// UnmarshalSnapshot decodes a stored snapshot and normalises its state.
func UnmarshalSnapshot(data []byte, version int64) (*Snapshot, error) {
	var raw struct {
		Snapshot
		GameState json.RawMessage `json:"gameState"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s := raw.Snapshot
	s.Version = version
	if len(raw.GameState) > 0 && string(raw.GameState) != "null" {
		gs, err := FromJSON(raw.GameState)
		if err != nil {
			return nil, err
		}
		s.GameState = gs
	}
	return &s, nil
}
