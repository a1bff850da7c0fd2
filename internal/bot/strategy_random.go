package bot

import "github.com/freeeve/world-conflict/pkg/conflict"

// RandomStrategy moves a random stack to a random neighbor and ends its turn
// with a fixed probability. Useful for fuzzing the engine through real games.
type RandomStrategy struct{}

func (RandomStrategy) Name() string { return "random" }

// randomEndChance is the probability of ending the turn before moves run out.
const randomEndChance = 0.15

func (RandomStrategy) NextCommand(v conflict.View, t Turn) conflict.Command {
	if t.MovesRemaining == 0 || botFloat64() < randomEndChance {
		return conflict.EndTurn{Player: t.Slot}
	}
	var sources []int
	for _, r := range v.RegionsOwnedBy(t.Slot) {
		if v.SoldierCountAt(r) > 0 && !t.IsFrozen(r) && len(v.NeighborsOf(r)) > 0 {
			sources = append(sources, r)
		}
	}
	if len(sources) == 0 {
		return conflict.EndTurn{Player: t.Slot}
	}
	src := sources[botIntN(len(sources))]
	neighbors := v.NeighborsOf(src)
	dst := neighbors[botIntN(len(neighbors))]
	count := 1 + botIntN(v.SoldierCountAt(src))
	return conflict.ArmyMove{Player: t.Slot, Source: src, Destination: dst, Count: count}
}
