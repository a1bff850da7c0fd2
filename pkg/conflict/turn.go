package conflict

import (
	"errors"
	"slices"
)

// ErrGameOver is returned when a finished game is asked to do anything.
var ErrGameOver = errors.New(MsgGameEnded)

// TurnPhase is the coarse state of the turn machine.
type TurnPhase string

const (
	PhaseAwaitingMove TurnPhase = "AWAITING_MOVE"
	PhaseGameOver     TurnPhase = "GAME_OVER"
)

// Phase reports whether the game is waiting on CurrentPlayerSlot or over.
func (gs *GameState) Phase() TurnPhase {
	if gs.IsOver() {
		return PhaseGameOver
	}
	return PhaseAwaitingMove
}

// checkEliminations flags every active player that owns no region and
// returns the newly eliminated slots.
func checkEliminations(gs *GameState) []int {
	var out []int
	for _, slot := range gs.ActivePlayers() {
		if gs.RegionCount(slot) == 0 {
			gs.MarkEliminated(slot)
			out = append(out, slot)
		}
	}
	return out
}

// checkGameEnd records the result once at most one player is left.
func checkGameEnd(gs *GameState) {
	if gs.IsOver() {
		return
	}
	active := gs.ActivePlayers()
	switch len(active) {
	case 0:
		gs.EndResult = &EndResult{Drawn: true}
	case 1:
		p, _ := gs.Player(active[0])
		gs.EndResult = &EndResult{Winner: &p}
	}
}

// Scores returns the ranking score of every active player.
func Scores(gs *GameState) map[int]int {
	out := make(map[int]int)
	for _, slot := range gs.ActivePlayers() {
		out[slot] = gs.Score(slot)
	}
	return out
}

// endByScore finishes the game in favour of the single highest scorer. A tie
// at the top is a draw.
func endByScore(gs *GameState) {
	scores := Scores(gs)
	best, leaders := -1, []int(nil)
	for _, slot := range gs.ActivePlayers() {
		s := scores[slot]
		switch {
		case s > best:
			best, leaders = s, []int{slot}
		case s == best:
			leaders = append(leaders, slot)
		}
	}
	if len(leaders) != 1 {
		gs.EndResult = &EndResult{Drawn: true}
		return
	}
	p, _ := gs.Player(leaders[0])
	gs.EndResult = &EndResult{Winner: &p}
}

// Income returns the faith slot collects at the end of its turn: one per
// owned region plus one per soldier standing on an owned temple, raised by
// the Water bonus and floored.
func Income(gs *GameState, slot int) int {
	base := 0
	for _, region := range gs.RegionsOwnedBy(slot) {
		base++
		if _, ok := gs.TempleAt(region); ok {
			base += gs.SoldierCountAt(region)
		}
	}
	bonus := WaterBonusPercent(gs.UpgradeLevel(slot, UpgradeWater))
	return base * (100 + bonus) / 100
}

func executeEndTurn(e EndTurn, gs *GameState) {
	gs.AdjustFaith(e.Player, Income(gs, e.Player))

	temples := make([]int, 0, len(gs.Temples))
	for region := range gs.Temples {
		if gs.IsOwnedBy(region, e.Player) {
			temples = append(temples, region)
		}
	}
	slices.Sort(temples)
	for _, region := range temples {
		gs.AddSoldiers(region, 1)
	}

	checkEliminations(gs)
	checkGameEnd(gs)
	if gs.IsOver() {
		return
	}

	if _, wrapped, _ := gs.NextActivePlayer(); wrapped && gs.MaxTurns > 0 && gs.TurnNumber >= gs.MaxTurns {
		endByScore(gs)
		return
	}
	gs.AdvanceTurn()
}
