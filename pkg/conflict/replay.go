package conflict

// Outcome is the terminal state of a battle.
type Outcome string

const (
	OutcomeAttackerWins      Outcome = "ATTACKER_WINS"
	OutcomeDefenderWins      Outcome = "DEFENDER_WINS"
	OutcomeMutualDestruction Outcome = "MUTUAL_DESTRUCTION"
	OutcomeRetreat           Outcome = "RETREAT"
)

// EventKind classifies replay events.
type EventKind string

const (
	EventPreemptive  EventKind = "preemptive"
	EventFirstStrike EventKind = "first_strike"
	EventRound       EventKind = "round"
	EventNarration   EventKind = "narration"
	EventMove        EventKind = "move"
)

// Pacing hints for playback, in milliseconds.
const (
	RoundDelayMs     = 500
	NarrationDelayMs = 800
	MoveDelayMs      = 300
)

// RoundRecord is the numeric record of one dice round. Casualty totals
// include any preemptive damage dealt before the first round.
type RoundRecord struct {
	Round                   int   `json:"round"`
	AttackerRolls           []int `json:"attackerRolls"`
	DefenderRolls           []int `json:"defenderRolls"`
	AttackerCasualties      int   `json:"attackerCasualties"`
	DefenderCasualties      int   `json:"defenderCasualties"`
	AttackerTotalCasualties int   `json:"attackerTotalCasualties"`
	DefenderTotalCasualties int   `json:"defenderTotalCasualties"`
	AttackersLeft           int   `json:"attackersLeft"`
	DefendersLeft           int   `json:"defendersLeft"`
}

// Event is one step of playback. Numeric and narration events are emitted in
// the order they happen so a renderer can stay in sync.
type Event struct {
	Kind                    EventKind `json:"kind"`
	Round                   int       `json:"round,omitempty"`
	AttackerRolls           []int     `json:"attackerRolls,omitempty"`
	DefenderRolls           []int     `json:"defenderRolls,omitempty"`
	AttackerCasualties      int       `json:"attackerCasualties,omitempty"`
	DefenderCasualties      int       `json:"defenderCasualties,omitempty"`
	AttackerTotalCasualties int       `json:"attackerTotalCasualties,omitempty"`
	DefenderTotalCasualties int       `json:"defenderTotalCasualties,omitempty"`
	Text                    string    `json:"text,omitempty"`
	Region                  int       `json:"region"`
	Color                   string    `json:"color,omitempty"`
	DelayMs                 int       `json:"delayMs"`
	SoldierIDs              []int     `json:"soldierIds,omitempty"`
}

// BattleReplay narrates a battle from start to terminal outcome.
type BattleReplay struct {
	Region             int           `json:"region"`
	AttackerSlot       int           `json:"attackerSlot"`
	DefenderSlot       int           `json:"defenderSlot"`
	InitialAttackers   int           `json:"initialAttackers"`
	InitialDefenders   int           `json:"initialDefenders"`
	Rounds             []RoundRecord `json:"rounds"`
	Events             []Event       `json:"events"`
	Outcome            Outcome       `json:"outcome"`
	AttackerCasualties int           `json:"attackerCasualties"`
	DefenderCasualties int           `json:"defenderCasualties"`
	AttackersLeft      int           `json:"attackersLeft"`
	DefendersLeft      int           `json:"defendersLeft"`
	WinnerSlot         int           `json:"winnerSlot"`
	Remaining          int           `json:"remaining"`
}

// AttackSequence is the full playback of one army move: the soldiers that
// left the source, the battle if one happened, and the closing narration.
type AttackSequence struct {
	Source      int           `json:"source"`
	Destination int           `json:"destination"`
	Events      []Event       `json:"events"`
	Battle      *BattleReplay `json:"battle,omitempty"`
}
