package conflict

import (
	"errors"
	"math/rand/v2"
	"slices"
)

const (
	MaxAttackDice = 3
	MaxDefendDice = 2
	DieSides      = 6
	// MaxBattleRounds is a safety bound; reaching it means the resolver is broken.
	MaxBattleRounds = 1000
)

// ErrRoundLimit is returned when a battle fails to terminate within
// MaxBattleRounds rounds.
var ErrRoundLimit = errors.New("battle exceeded round limit")

// RoundResult is the outcome of one exchange of dice.
type RoundResult struct {
	AttackerRolls      []int `json:"attackerRolls"`
	DefenderRolls      []int `json:"defenderRolls"`
	AttackerCasualties int   `json:"attackerCasualties"`
	DefenderCasualties int   `json:"defenderCasualties"`
}

// RollDice rolls n six-sided dice and returns them sorted high to low.
func RollDice(n int, rng *rand.Rand) []int {
	rolls := make([]int, n)
	for i := range rolls {
		rolls[i] = rng.IntN(DieSides) + 1
	}
	sortDescending(rolls)
	return rolls
}

// CompareRolls pairs the highest dice of each side, then the second highest
// when both sides rolled at least two. Ties go to the defender.
func CompareRolls(attackerRolls, defenderRolls []int) (attackerCasualties, defenderCasualties int) {
	a := slices.Clone(attackerRolls)
	d := slices.Clone(defenderRolls)
	sortDescending(a)
	sortDescending(d)

	pairs := min(len(a), len(d), 2)
	for i := 0; i < pairs; i++ {
		if a[i] > d[i] {
			defenderCasualties++
		} else {
			attackerCasualties++
		}
	}
	return attackerCasualties, defenderCasualties
}

// ResolveRound rolls min(3, attackers) dice against min(2, defenders) dice.
// A side with no soldiers rolls nothing and nobody dies.
func ResolveRound(attackers, defenders int, rng *rand.Rand) RoundResult {
	if attackers <= 0 || defenders <= 0 {
		return RoundResult{}
	}
	res := RoundResult{
		AttackerRolls: RollDice(min(MaxAttackDice, attackers), rng),
		DefenderRolls: RollDice(min(MaxDefendDice, defenders), rng),
	}
	res.AttackerCasualties, res.DefenderCasualties = CompareRolls(res.AttackerRolls, res.DefenderRolls)
	return res
}

// Battle describes one attack on a region.
type Battle struct {
	Region        int
	AttackerSlot  int
	DefenderSlot  int
	AttackerColor string
	DefenderColor string
	Attackers     int
	Defenders     int
	// Preemptive is the number of attackers the defence absorbs before dice.
	Preemptive int
	// FirstStrike is the number of defenders the attack kills before dice.
	FirstStrike int
}

// ResolveBattle fights rounds until one side (or both) is wiped out. There is
// no retreat and no preemptive damage.
func ResolveBattle(attackers, defenders int, rng *rand.Rand) (*BattleReplay, error) {
	return runBattle(Battle{
		Region:       Neutral,
		AttackerSlot: Neutral,
		DefenderSlot: Neutral,
		Attackers:    attackers,
		Defenders:    defenders,
	}, false, rng)
}

// ResolveConquest is the battle used by army moves: temple damage is applied
// first, and the attacker withdraws once its cumulative losses exceed half of
// its starting force while both sides still stand.
func ResolveConquest(b Battle, rng *rand.Rand) (*BattleReplay, error) {
	return runBattle(b, true, rng)
}

type battleRun struct {
	b       Battle
	replay  *BattleReplay
	att     int
	def     int
	attLost int
	defLost int
}

func (r *battleRun) shouldRetreat() bool {
	return r.att > 0 && r.def > 0 && r.attLost*2 > r.b.Attackers
}

func runBattle(b Battle, allowRetreat bool, rng *rand.Rand) (*BattleReplay, error) {
	r := &battleRun{
		b:   b,
		att: b.Attackers,
		def: b.Defenders,
		replay: &BattleReplay{
			Region:           b.Region,
			AttackerSlot:     b.AttackerSlot,
			DefenderSlot:     b.DefenderSlot,
			InitialAttackers: b.Attackers,
			InitialDefenders: b.Defenders,
		},
	}

	if b.Preemptive > 0 && r.att > 0 && r.def > 0 {
		k := min(b.Preemptive, r.att)
		r.att -= k
		r.attLost += k
		r.event(Event{
			Kind:               EventPreemptive,
			AttackerCasualties: k,
			Text:               "Earth!",
			Color:              b.DefenderColor,
			DelayMs:            NarrationDelayMs,
		})
	}
	if allowRetreat && r.shouldRetreat() {
		return r.finish(OutcomeRetreat), nil
	}

	if b.FirstStrike > 0 && r.att > 0 && r.def > 0 {
		k := min(b.FirstStrike, r.def)
		r.def -= k
		r.defLost += k
		r.event(Event{
			Kind:               EventFirstStrike,
			DefenderCasualties: k,
			Text:               "Fire!",
			Color:              b.AttackerColor,
			DelayMs:            NarrationDelayMs,
		})
	}

	for round := 1; r.att > 0 && r.def > 0; round++ {
		if round > MaxBattleRounds {
			return nil, ErrRoundLimit
		}
		res := ResolveRound(r.att, r.def, rng)
		r.att -= res.AttackerCasualties
		r.def -= res.DefenderCasualties
		r.attLost += res.AttackerCasualties
		r.defLost += res.DefenderCasualties

		rec := RoundRecord{
			Round:                   round,
			AttackerRolls:           res.AttackerRolls,
			DefenderRolls:           res.DefenderRolls,
			AttackerCasualties:      res.AttackerCasualties,
			DefenderCasualties:      res.DefenderCasualties,
			AttackerTotalCasualties: r.attLost,
			DefenderTotalCasualties: r.defLost,
			AttackersLeft:           r.att,
			DefendersLeft:           r.def,
		}
		r.replay.Rounds = append(r.replay.Rounds, rec)
		r.event(Event{
			Kind:                    EventRound,
			Round:                   round,
			AttackerRolls:           res.AttackerRolls,
			DefenderRolls:           res.DefenderRolls,
			AttackerCasualties:      res.AttackerCasualties,
			DefenderCasualties:      res.DefenderCasualties,
			AttackerTotalCasualties: r.attLost,
			DefenderTotalCasualties: r.defLost,
			DelayMs:                 RoundDelayMs,
		})

		if allowRetreat && r.shouldRetreat() {
			return r.finish(OutcomeRetreat), nil
		}
	}

	switch {
	case r.att > 0:
		return r.finish(OutcomeAttackerWins), nil
	case r.def > 0:
		return r.finish(OutcomeDefenderWins), nil
	default:
		return r.finish(OutcomeMutualDestruction), nil
	}
}

func (r *battleRun) event(e Event) {
	e.Region = r.b.Region
	if e.Kind != EventRound {
		e.AttackerTotalCasualties = r.attLost
		e.DefenderTotalCasualties = r.defLost
	}
	r.replay.Events = append(r.replay.Events, e)
}

func (r *battleRun) finish(outcome Outcome) *BattleReplay {
	rp := r.replay
	rp.Outcome = outcome
	rp.AttackersLeft = r.att
	rp.DefendersLeft = r.def
	rp.AttackerCasualties = r.attLost
	rp.DefenderCasualties = r.defLost

	narration := Event{Kind: EventNarration, DelayMs: NarrationDelayMs}
	switch outcome {
	case OutcomeAttackerWins:
		rp.WinnerSlot = r.b.AttackerSlot
		rp.Remaining = r.att
		narration.Text = "Conquered!"
		narration.Color = r.b.AttackerColor
	case OutcomeRetreat:
		rp.WinnerSlot = r.b.DefenderSlot
		rp.Remaining = r.def
		narration.Text = "Retreat!"
		narration.Color = r.b.AttackerColor
	default:
		rp.WinnerSlot = r.b.DefenderSlot
		rp.Remaining = r.def
		narration.Text = "Defended!"
		narration.Color = r.b.DefenderColor
	}
	r.event(narration)
	return rp
}

func sortDescending(s []int) {
	slices.SortFunc(s, func(a, b int) int { return b - a })
}
