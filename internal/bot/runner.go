package bot

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/pkg/conflict"
)

// MaxCommandsPerTurn caps how many commands a bot may issue before its turn
// is ended for it.
const MaxCommandsPerTurn = 64

// Step is one accepted command a bot issued and its outcome.
type Step struct {
	Command conflict.Command
	Result  conflict.Result
}

// PlayTurn plays the current player's turn with s until control passes to
// another player or the game ends. gs is not modified; the returned state is
// the one after the last step. A command the engine rejects is logged and
// replaced by ending the turn.
func PlayTurn(proc *conflict.Processor, gs *conflict.GameState, s Strategy) (*conflict.GameState, []Step, error) {
	if gs.IsOver() {
		return gs, nil, nil
	}
	slot := gs.CurrentPlayerSlot
	var steps []Step
	for i := 0; ; i++ {
		var cmd conflict.Command = conflict.EndTurn{Player: slot}
		if i < MaxCommandsPerTurn {
			cmd = s.NextCommand(conflict.NewView(gs, proc.Regions()), NewTurn(gs))
		}
		res, err := proc.Process(gs, cmd)
		if err != nil {
			return nil, steps, fmt.Errorf("bot %s: %w", s.Name(), err)
		}
		if !res.Success {
			log.Warn().Str("strategy", s.Name()).Int("slot", slot).Str("command", conflict.Describe(cmd)).
				Str("reason", res.Error).Msg("Bot command rejected, ending turn")
			if _, ok := cmd.(conflict.EndTurn); ok {
				return nil, steps, fmt.Errorf("bot %s: end turn rejected: %s", s.Name(), res.Error)
			}
			cmd = conflict.EndTurn{Player: slot}
			if res, err = proc.Process(gs, cmd); err != nil {
				return nil, steps, fmt.Errorf("bot %s: %w", s.Name(), err)
			}
			if !res.Success {
				return nil, steps, fmt.Errorf("bot %s: end turn rejected: %s", s.Name(), res.Error)
			}
		}
		steps = append(steps, Step{Command: cmd, Result: res})
		gs = res.State
		if gs.IsOver() || gs.CurrentPlayerSlot != slot {
			return gs, steps, nil
		}
	}
}
