package conflict

import (
	"fmt"
	"math/rand/v2"
)

// Result is the outcome of processing one command. On rejection State is
// nil and Errors lists every broken rule.
type Result struct {
	Success bool            `json:"success"`
	State   *GameState      `json:"newState,omitempty"`
	Replay  *AttackSequence `json:"attackSequence,omitempty"`
	Error   string          `json:"error,omitempty"`
	Errors  []string        `json:"errors,omitempty"`
}

// Processor validates and executes commands over a fixed region graph.
type Processor struct {
	regions []Region
}

func NewProcessor(regions []Region) *Processor {
	return &Processor{regions: regions}
}

// Regions returns the graph the processor works over.
func (p *Processor) Regions() []Region {
	return p.regions
}

// Validate checks cmd against gs. It never modifies gs.
func (p *Processor) Validate(gs *GameState, cmd Command) ValidationErrors {
	return Validate(cmd, gs, p.regions)
}

// Process validates cmd and, if it is legal, executes it against a copy of
// gs. The input state is never modified. An error return means the command
// or state was malformed, not that a rule was broken.
func (p *Processor) Process(gs *GameState, cmd Command) (Result, error) {
	if cmd == nil {
		return Result{}, fmt.Errorf("%w: nil command", ErrMalformedCommand)
	}
	if errs := p.Validate(gs, cmd); len(errs) > 0 {
		return Result{Success: false, Error: errs.Error(), Errors: errs.Messages()}, nil
	}

	next := gs.Clone()
	src, err := next.randSource()
	if err != nil {
		return Result{}, err
	}
	replay, err := execute(cmd, next, p.regions, rand.New(src))
	if err != nil {
		return Result{}, fmt.Errorf("execute %s: %w", cmd.Type(), err)
	}
	if err := next.saveRandSource(src); err != nil {
		return Result{}, err
	}
	return Result{Success: true, State: next, Replay: replay}, nil
}
