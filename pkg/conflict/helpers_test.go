package conflict

import (
	"strings"
	"testing"
)

// lineMap returns regions 0-1-...-(n-1) joined in a line, with temples at the
// given indexes.
func lineMap(n int, temples ...int) []Region {
	regions := make([]Region, n)
	for i := range regions {
		regions[i] = Region{Index: i, X: float64(i)}
		if i > 0 {
			regions[i].Neighbors = append(regions[i].Neighbors, i-1)
		}
		if i+1 < n {
			regions[i].Neighbors = append(regions[i].Neighbors, i+1)
		}
	}
	for _, t := range temples {
		regions[t].HasTemple = true
	}
	return regions
}

// duel is a five-region line: slot 0 holds temple 0, slot 1 holds temple 4,
// each with four soldiers and ten faith.
func duel(t *testing.T) (*Processor, *GameState) {
	t.Helper()
	regions := lineMap(5, 0, 4)
	gs := emptyState(t, []Player{{Slot: 0, Name: "red"}, {Slot: 1, Name: "blue"}})
	gs.SetTemple(Temple{RegionIndex: 0})
	gs.SetTemple(Temple{RegionIndex: 4})
	gs.SetOwner(0, 0)
	gs.SetOwner(4, 1)
	gs.AddSoldiers(0, 4)
	gs.AddSoldiers(4, 4)
	gs.Faith[0] = StartingFaith
	gs.Faith[1] = StartingFaith
	return NewProcessor(regions), gs
}

func emptyState(t *testing.T, players []Player) *GameState {
	t.Helper()
	for i := range players {
		players[i].Color = ColorForSlot(players[i].Slot)
	}
	gs := &GameState{
		Players:           players,
		Owners:            make(map[int]int),
		Soldiers:          make(map[int][]Soldier),
		Temples:           make(map[int]Temple),
		Faith:             make(map[int]int),
		CurrentPlayerSlot: players[0].Slot,
		MovesRemaining:    BaseMovesPerTurn,
		TurnNumber:        1,
		ConqueredRegions:  []int{},
		Eliminated:        []int{},
	}
	if err := gs.saveRandSource(NewRandSource(7)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return gs
}

// mustProcess runs cmd and fails the test unless it succeeded.
func mustProcess(t *testing.T, p *Processor, gs *GameState, cmd Command) Result {
	t.Helper()
	res, err := p.Process(gs, cmd)
	if err != nil {
		t.Fatalf("process %s: %v", Describe(cmd), err)
	}
	if !res.Success {
		t.Fatalf("process %s rejected: %v", Describe(cmd), res.Errors)
	}
	if err := res.State.CheckInvariants(p.Regions()); err != nil {
		t.Fatalf("invariants after %s: %v", Describe(cmd), err)
	}
	return res
}

// mustReject runs cmd and fails the test unless it was rejected with a
// message containing want.
func mustReject(t *testing.T, p *Processor, gs *GameState, cmd Command, want string) {
	t.Helper()
	res, err := p.Process(gs, cmd)
	if err != nil {
		t.Fatalf("process %s: %v", Describe(cmd), err)
	}
	if res.Success {
		t.Fatalf("expected %s to be rejected", Describe(cmd))
	}
	if res.State != nil {
		t.Errorf("rejected command returned a state")
	}
	for _, msg := range res.Errors {
		if strings.Contains(msg, want) {
			return
		}
	}
	t.Errorf("expected an error containing %q, got %v", want, res.Errors)
}

func totalSoldiers(gs *GameState) int {
	n := 0
	for _, stack := range gs.Soldiers {
		n += len(stack)
	}
	return n
}
