package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

// CommandType is the wire tag of a command.
type CommandType string

const (
	CommandArmyMove CommandType = "ARMY_MOVE"
	CommandBuild    CommandType = "BUILD"
	CommandEndTurn  CommandType = "END_TURN"
)

// ErrMalformedCommand marks input that is not a well-formed command at all,
// as opposed to a legal-looking command that breaks a rule.
var ErrMalformedCommand = errors.New("malformed command")

// Command is the closed set of mutations a player can request: ArmyMove,
// Build and EndTurn. Dispatch is by type switch.
type Command interface {
	Type() CommandType
	PlayerSlot() int
	isCommand()
}

// ArmyMove sends Count soldiers from Source to the neighboring Destination,
// fighting if the destination is held by someone else.
type ArmyMove struct {
	Player      int
	Source      int
	Destination int
	Count       int
}

// Build spends faith on the temple at Region.
type Build struct {
	Player  int
	Region  int
	Upgrade UpgradeTrack
}

// EndTurn finishes the acting player's turn.
type EndTurn struct {
	Player int
}

func (ArmyMove) Type() CommandType { return CommandArmyMove }
func (Build) Type() CommandType    { return CommandBuild }
func (EndTurn) Type() CommandType  { return CommandEndTurn }

func (c ArmyMove) PlayerSlot() int { return c.Player }
func (c Build) PlayerSlot() int    { return c.Player }
func (c EndTurn) PlayerSlot() int  { return c.Player }

func (ArmyMove) isCommand() {}
func (Build) isCommand()    {}
func (EndTurn) isCommand()  {}

// Describe returns a short human-readable form of a command.
func Describe(cmd Command) string {
	switch c := cmd.(type) {
	case ArmyMove:
		return fmt.Sprintf("slot %d moves %d from %d to %d", c.Player, c.Count, c.Source, c.Destination)
	case Build:
		return fmt.Sprintf("slot %d builds %s at %d", c.Player, c.Upgrade, c.Region)
	case EndTurn:
		return fmt.Sprintf("slot %d ends turn", c.Player)
	default:
		return "unknown command"
	}
}

// CommandInput is the wire contract consumed from the API and AI layers.
type CommandInput struct {
	Type         CommandType `json:"type"`
	PlayerSlot   *int        `json:"playerSlotIndex"`
	Source       *int        `json:"source,omitempty"`
	Destination  *int        `json:"destination,omitempty"`
	Count        *int        `json:"count,omitempty"`
	RegionIndex  *int        `json:"regionIndex,omitempty"`
	UpgradeIndex *int        `json:"upgradeIndex,omitempty"`
}

// ParseCommand decodes a wire command.
func ParseCommand(data []byte) (Command, error) {
	var in CommandInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return in.Command()
}

// Command converts the wire form into a typed command.
func (in CommandInput) Command() (Command, error) {
	if in.PlayerSlot == nil {
		return nil, fmt.Errorf("%w: missing playerSlotIndex", ErrMalformedCommand)
	}
	slot := *in.PlayerSlot

	switch CommandType(strings.ToUpper(string(in.Type))) {
	case CommandArmyMove:
		if in.Source == nil || in.Destination == nil || in.Count == nil {
			return nil, fmt.Errorf("%w: army move needs source, destination and count", ErrMalformedCommand)
		}
		return ArmyMove{Player: slot, Source: *in.Source, Destination: *in.Destination, Count: *in.Count}, nil
	case CommandBuild:
		if in.RegionIndex == nil || in.UpgradeIndex == nil {
			return nil, fmt.Errorf("%w: build needs regionIndex and upgradeIndex", ErrMalformedCommand)
		}
		return Build{Player: slot, Region: *in.RegionIndex, Upgrade: UpgradeTrack(*in.UpgradeIndex)}, nil
	case CommandEndTurn:
		return EndTurn{Player: slot}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedCommand, in.Type)
	}
}

// ToInput converts a typed command into its wire form.
func ToInput(cmd Command) CommandInput {
	slot := cmd.PlayerSlot()
	in := CommandInput{Type: cmd.Type(), PlayerSlot: &slot}
	switch c := cmd.(type) {
	case ArmyMove:
		in.Source, in.Destination, in.Count = &c.Source, &c.Destination, &c.Count
	case Build:
		upgrade := int(c.Upgrade)
		in.RegionIndex, in.UpgradeIndex = &c.Region, &upgrade
	}
	return in
}

// Serialize encodes a command in its wire form.
func Serialize(cmd Command) ([]byte, error) {
	return json.Marshal(ToInput(cmd))
}

// ValidationError describes one rule a command breaks.
type ValidationError struct {
	Command Command
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%s): %s", e.Command.Type(), Describe(e.Command), e.Message)
}

// ValidationErrors lists every rule a command breaks. An empty list means
// the command is valid.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	return strings.Join(v.Messages(), "; ")
}

// Messages returns the bare human-readable reasons.
func (v ValidationErrors) Messages() []string {
	out := make([]string, len(v))
	for i, e := range v {
		out[i] = e.Message
	}
	return out
}

// Err returns v as an error, or nil when v is empty.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

type validator struct {
	cmd  Command
	errs ValidationErrors
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Command: v.cmd, Message: fmt.Sprintf(format, args...)})
}

// Messages for the checks shared by every command.
const (
	MsgGameEnded   = "game already ended"
	MsgNotYourTurn = "not your turn"
	MsgNoSuchSlot  = "no such player"
	MsgEliminated  = "player has been eliminated"
)

// checkActor reports whether the acting player may issue commands right now.
// When it returns false no further checks are meaningful.
func (v *validator) checkActor(gs *GameState) bool {
	if gs.IsOver() {
		v.fail(MsgGameEnded)
		return false
	}
	slot := v.cmd.PlayerSlot()
	if _, ok := gs.Player(slot); !ok {
		v.fail(MsgNoSuchSlot)
		return false
	}
	if gs.IsEliminated(slot) {
		v.fail(MsgEliminated)
		return false
	}
	if gs.CurrentPlayerSlot != slot {
		v.fail(MsgNotYourTurn)
		return false
	}
	return true
}

// Validate checks cmd against gs without modifying either.
func Validate(cmd Command, gs *GameState, regions []Region) ValidationErrors {
	v := &validator{cmd: cmd}
	if !v.checkActor(gs) {
		return v.errs
	}
	switch c := cmd.(type) {
	case ArmyMove:
		validateArmyMove(v, c, gs, regions)
	case Build:
		validateBuild(v, c, gs, regions)
	case EndTurn:
		// Being the current player of a running game is the only requirement.
	default:
		v.fail("unknown command type")
	}
	return v.errs
}

// execute applies a validated command to gs in place.
func execute(cmd Command, gs *GameState, regions []Region, rng *rand.Rand) (*AttackSequence, error) {
	switch c := cmd.(type) {
	case ArmyMove:
		return executeArmyMove(c, gs, regions, rng)
	case Build:
		executeBuild(c, gs)
		return nil, nil
	case EndTurn:
		executeEndTurn(c, gs)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %T", ErrMalformedCommand, cmd)
	}
}
