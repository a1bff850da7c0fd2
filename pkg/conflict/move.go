package conflict

import "math/rand/v2"

func validateArmyMove(v *validator, m ArmyMove, gs *GameState, regions []Region) {
	srcOK := m.Source >= 0 && m.Source < len(regions)
	dstOK := m.Destination >= 0 && m.Destination < len(regions)
	if !srcOK {
		v.fail("source region %d does not exist", m.Source)
	}
	if !dstOK {
		v.fail("destination region %d does not exist", m.Destination)
	}
	if !srcOK || !dstOK {
		return
	}

	if !gs.IsOwnedBy(m.Source, m.Player) {
		v.fail("source region %d is not yours", m.Source)
	}
	if m.Source == m.Destination {
		v.fail("source and destination are the same region")
	} else if !regions[m.Source].IsNeighbor(m.Destination) {
		v.fail("region %d is not adjacent to %d", m.Destination, m.Source)
	}
	if have := gs.SoldierCountAt(m.Source); m.Count < 1 || m.Count > have {
		v.fail("cannot move %d soldiers, %d available", m.Count, have)
	}
	if gs.IsConquered(m.Source) {
		v.fail("soldiers in region %d just conquered it and cannot move again this turn", m.Source)
	}
	if gs.MovesRemaining <= 0 {
		v.fail("no moves remaining")
	}
}

func executeArmyMove(m ArmyMove, gs *GameState, regions []Region, rng *rand.Rand) (*AttackSequence, error) {
	attacker, _ := gs.Player(m.Player)
	defenderSlot := gs.OwnerOf(m.Destination)
	defenderColor := ""
	if p, ok := gs.Player(defenderSlot); ok {
		defenderColor = p.Color
	}

	moving := gs.RemoveSoldiers(m.Source, m.Count)
	seq := &AttackSequence{Source: m.Source, Destination: m.Destination}
	seq.Events = append(seq.Events, Event{
		Kind:       EventMove,
		Region:     m.Destination,
		Color:      attacker.Color,
		DelayMs:    MoveDelayMs,
		SoldierIDs: soldierIDs(moving),
	})

	defenders := gs.SoldierCountAt(m.Destination)
	switch {
	case defenderSlot == m.Player:
		gs.PushSoldiers(m.Destination, moving)

	case defenders == 0:
		gs.PushSoldiers(m.Destination, moving)
		conquer(gs, m.Destination, m.Player)
		seq.Events = append(seq.Events, Event{
			Kind:    EventNarration,
			Region:  m.Destination,
			Text:    "Conquered!",
			Color:   attacker.Color,
			DelayMs: NarrationDelayMs,
		})

	default:
		preemptive := 0
		if t, ok := gs.TempleAt(m.Destination); ok && t.Upgrade == UpgradeEarth {
			preemptive = t.Strength()
		}
		replay, err := ResolveConquest(Battle{
			Region:        m.Destination,
			AttackerSlot:  m.Player,
			DefenderSlot:  defenderSlot,
			AttackerColor: attacker.Color,
			DefenderColor: defenderColor,
			Attackers:     len(moving),
			Defenders:     defenders,
			Preemptive:    preemptive,
			FirstStrike:   gs.UpgradeLevel(m.Player, UpgradeFire),
		}, rng)
		if err != nil {
			return nil, err
		}
		seq.Battle = replay
		seq.Events = append(seq.Events, replay.Events...)

		gs.RemoveSoldiers(m.Destination, replay.DefenderCasualties)
		survivors := moving[:len(moving)-replay.AttackerCasualties]
		switch replay.Outcome {
		case OutcomeAttackerWins:
			gs.PushSoldiers(m.Destination, survivors)
			conquer(gs, m.Destination, m.Player)
		case OutcomeRetreat:
			gs.PushSoldiers(m.Source, survivors)
		}
	}

	gs.MovesRemaining--
	checkEliminations(gs)
	checkGameEnd(gs)
	return seq, nil
}

// conquer hands region to slot. A temple in the region keeps its upgrade and
// now serves the new owner.
func conquer(gs *GameState, region, slot int) {
	gs.SetOwner(region, slot)
	gs.MarkConquered(region)
}

func soldierIDs(soldiers []Soldier) []int {
	ids := make([]int, len(soldiers))
	for i, s := range soldiers {
		ids[i] = s.ID
	}
	return ids
}
