package bot

import (
	"sort"

	"github.com/freeeve/world-conflict/pkg/conflict"
)

// HeuristicStrategy plays greedily: it buys soldiers where temples are under
// threat, attacks where it outnumbers the defenders and pulls idle soldiers
// toward the front.
type HeuristicStrategy struct{}

func (HeuristicStrategy) Name() string { return "easy" }

// moveCandidate is a scored (source, target) pair.
type moveCandidate struct {
	source, target, count int
	score                 float64
}

func (h HeuristicStrategy) NextCommand(v conflict.View, t Turn) conflict.Command {
	if cmd := h.pickBuild(v, t); cmd != nil {
		return cmd
	}
	if t.MovesRemaining > 0 {
		candidates := h.scoreMoves(v, t)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].score > candidates[j].score
		})
		if len(candidates) > 0 && candidates[0].score > 0 {
			c := candidates[0]
			return conflict.ArmyMove{Player: t.Slot, Source: c.source, Destination: c.target, Count: c.count}
		}
	}
	return conflict.EndTurn{Player: t.Slot}
}

// threat is the number of enemy soldiers next to region, neutrals excluded.
func threat(v conflict.View, slot, region int) int {
	n := 0
	for _, nb := range v.NeighborsOf(region) {
		owner := v.OwnerOf(nb)
		if owner != slot && owner != conflict.Neutral {
			n += v.SoldierCountAt(nb)
		}
	}
	return n
}

// pickBuild buys a soldier at the most exposed owned temple, or a Water
// upgrade when nothing is under pressure.
func (h HeuristicStrategy) pickBuild(v conflict.View, t Turn) conflict.Command {
	var owned []int
	for _, r := range v.RegionsOwnedBy(t.Slot) {
		if t.HasTemple(r) {
			owned = append(owned, r)
		}
	}
	if len(owned) == 0 {
		return nil
	}

	best, bestGap := -1, 0
	for _, r := range owned {
		gap := threat(v, t.Slot, r) - v.SoldierCountAt(r)
		if best < 0 || gap > bestGap {
			best, bestGap = r, gap
		}
	}
	if bestGap >= 0 && t.Faith >= t.SoldierCost {
		return conflict.Build{Player: t.Slot, Region: best, Upgrade: conflict.UpgradeSoldier}
	}

	if cost, ok := conflict.LevelCost(conflict.UpgradeWater, 0); ok && t.Faith >= cost+t.SoldierCost {
		for _, r := range owned {
			if t.Temples[r].Upgrade == conflict.UpgradeNone {
				return conflict.Build{Player: t.Slot, Region: r, Upgrade: conflict.UpgradeWater}
			}
		}
	}
	return nil
}

// scoreMoves rates every legal move out of owned, unfrozen regions.
// Attacks are worth more against temples and weak defenders; reinforcing
// moves score only when they carry soldiers from a quiet region to a
// contested one.
func (h HeuristicStrategy) scoreMoves(v conflict.View, t Turn) []moveCandidate {
	var candidates []moveCandidate
	for _, src := range v.RegionsOwnedBy(t.Slot) {
		n := v.SoldierCountAt(src)
		if n == 0 || t.IsFrozen(src) {
			continue
		}
		srcThreat := threat(v, t.Slot, src)
		for _, dst := range v.NeighborsOf(src) {
			if v.OwnerOf(dst) == t.Slot {
				if srcThreat == 0 && threat(v, t.Slot, dst) > 0 {
					candidates = append(candidates, moveCandidate{src, dst, n, 1 + botFloat64()*0.1})
				}
				continue
			}
			defenders := v.SoldierCountAt(dst)
			if n <= defenders {
				continue
			}
			score := 2.0 + float64(n-defenders)/float64(n)
			if t.HasTemple(dst) {
				score += 3
			}
			if v.OwnerOf(dst) != conflict.Neutral {
				score += 1
			}
			candidates = append(candidates, moveCandidate{src, dst, n, score + botFloat64()*0.1})
		}
	}
	return candidates
}
