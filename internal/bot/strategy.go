package bot

import (
	"slices"

	"github.com/freeeve/world-conflict/pkg/conflict"
)

// Turn is what a strategy knows about its own seat beyond the board view.
type Turn struct {
	Slot           int
	Faith          int
	MovesRemaining int
	SoldierCost    int
	// Temples holds every temple on the board keyed by region.
	Temples map[int]conflict.Temple
	// Frozen lists regions conquered this turn whose soldiers cannot move.
	Frozen []int
}

// NewTurn captures the current player's seat from gs.
func NewTurn(gs *conflict.GameState) Turn {
	temples := make(map[int]conflict.Temple, len(gs.Temples))
	for r, t := range gs.Temples {
		temples[r] = t
	}
	return Turn{
		Slot:           gs.CurrentPlayerSlot,
		Faith:          gs.FaithOf(gs.CurrentPlayerSlot),
		MovesRemaining: gs.MovesRemaining,
		SoldierCost:    conflict.SoldierCost(gs.SoldiersBought),
		Temples:        temples,
		Frozen:         slices.Clone(gs.ConqueredRegions),
	}
}

// HasTemple reports whether region carries a temple.
func (t Turn) HasTemple(region int) bool {
	_, ok := t.Temples[region]
	return ok
}

// IsFrozen reports whether soldiers in region are barred from moving.
func (t Turn) IsFrozen(region int) bool {
	return slices.Contains(t.Frozen, region)
}

// Strategy picks the next command for the player whose turn it is. It sees
// the board only through the read-only view; anything it returns goes
// through the same validation as a human command.
type Strategy interface {
	Name() string
	NextCommand(v conflict.View, t Turn) conflict.Command
}

// StrategyForDifficulty returns the appropriate strategy for a bot difficulty level.
func StrategyForDifficulty(difficulty string) Strategy {
	switch difficulty {
	case "pass":
		return PassStrategy{}
	case "random":
		return RandomStrategy{}
	default:
		return HeuristicStrategy{}
	}
}

// --- PassStrategy ---

// PassStrategy ends its turn immediately.
type PassStrategy struct{}

func (PassStrategy) Name() string { return "pass" }

func (PassStrategy) NextCommand(_ conflict.View, t Turn) conflict.Command {
	return conflict.EndTurn{Player: t.Slot}
}
