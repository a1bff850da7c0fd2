package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/internal/bot"
	"github.com/freeeve/world-conflict/internal/model"
	"github.com/freeeve/world-conflict/internal/repository"
	"github.com/freeeve/world-conflict/pkg/conflict"
)

var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrNotYourSlot    = errors.New("command is for another player's slot")
	ErrConflict       = errors.New("game was modified concurrently")
	ErrReplayMismatch = errors.New("command log does not reproduce the game")
)

// maxBotTurns bounds how many consecutive bot turns one call plays, so a
// game left with only bots and no turn limit cannot spin forever.
const maxBotTurns = 200

// CommandOutcome is the result of a submitted command. Version is the
// snapshot version the command was committed in; it is zero on rejection.
type CommandOutcome struct {
	Result  conflict.Result `json:"result"`
	Version int64           `json:"version,omitempty"`
}

// CommandService runs commands against live games: load the snapshot,
// process, save under optimistic locking, then record and broadcast.
type CommandService struct {
	gameRepo    repository.GameRepository
	snapshots   repository.SnapshotStore
	commands    repository.CommandLog
	timer       repository.TurnTimer
	broadcaster Broadcaster
	strategy    bot.Strategy
	retry       RetryPolicy
	turnTimeout time.Duration
	now         func() time.Time
}

// NewCommandService creates a CommandService. commands and timer may be nil
// to run without an audit log or without timer keys.
func NewCommandService(gameRepo repository.GameRepository, snapshots repository.SnapshotStore, commands repository.CommandLog, timer repository.TurnTimer, broadcaster Broadcaster) *CommandService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &CommandService{
		gameRepo:    gameRepo,
		snapshots:   snapshots,
		commands:    commands,
		timer:       timer,
		broadcaster: broadcaster,
		strategy:    bot.HeuristicStrategy{},
		retry:       DefaultRetryPolicy,
		now:         time.Now,
	}
}

// SetRetryPolicy overrides the optimistic-locking retry policy.
func (s *CommandService) SetRetryPolicy(p RetryPolicy) { s.retry = p }

// SetTurnTimeout sets the turn limit for games created without one.
func (s *CommandService) SetTurnTimeout(d time.Duration) { s.turnTimeout = d }

// SetBotStrategy sets the strategy bot seats play with.
func (s *CommandService) SetBotStrategy(st bot.Strategy) { s.strategy = st }

// committed is one successful snapshot write and the commands it carried.
type committed struct {
	prev  *conflict.Snapshot
	next  *conflict.Snapshot
	steps []bot.Step
}

// commit runs play against the latest snapshot and writes the state after
// its last step, retrying from a fresh read when another writer got there
// first. play returning no steps means there is nothing to write.
func (s *CommandService) commit(ctx context.Context, gameID string, play func(snap *conflict.Snapshot) ([]bot.Step, error)) (*committed, error) {
	return WithRetry(ctx, s.retry, func() (*committed, error) {
		snap, err := loadSnapshot(ctx, s.snapshots, gameID)
		if err != nil {
			return nil, err
		}
		if snap.Status != conflict.StatusActive || snap.GameState == nil {
			return nil, ErrGameNotActive
		}
		steps, err := play(snap)
		if err != nil || len(steps) == 0 {
			return nil, err
		}
		next := snap.Advance(steps[len(steps)-1].Result.State, s.now())
		data, err := next.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
		if next.Version, err = s.snapshots.Put(ctx, gameID, data, snap.Version); err != nil {
			return nil, err
		}
		return &committed{prev: snap, next: next, steps: steps}, nil
	})
}

// activeGame loads a game and checks it is in play.
func (s *CommandService) activeGame(ctx context.Context, gameID string) (*model.Game, error) {
	game, err := s.gameRepo.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}
	if game.Status != model.GameActive {
		return nil, ErrGameNotActive
	}
	return game, nil
}

// SubmitCommand parses and applies a command on behalf of userID. A command
// that breaks a rule is not an error: the outcome carries Success false and
// the list of violations.
func (s *CommandService) SubmitCommand(ctx context.Context, gameID, userID string, raw []byte) (*CommandOutcome, error) {
	cmd, err := conflict.ParseCommand(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	game, err := s.activeGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	seat := -1
	for _, p := range game.Players {
		if p.UserID == userID && !p.IsBot {
			seat = p.Slot
		}
	}
	if seat < 0 {
		return nil, ErrNotInGame
	}
	if cmd.PlayerSlot() != seat {
		return nil, ErrNotYourSlot
	}

	var rejected conflict.Result
	c, err := s.commit(ctx, gameID, func(snap *conflict.Snapshot) ([]bot.Step, error) {
		res, err := conflict.NewProcessor(snap.Regions).Process(snap.GameState, cmd)
		if errors.Is(err, conflict.ErrMalformedCommand) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", cmd.Type(), err)
		}
		if !res.Success {
			rejected = res
			return nil, nil
		}
		return []bot.Step{{Command: cmd, Result: res}}, nil
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		log.Debug().Str("gameId", gameID).Int("slot", seat).Str("command", conflict.Describe(cmd)).
			Strs("errors", rejected.Errors).Msg("Command rejected")
		return &CommandOutcome{Result: rejected}, nil
	}

	log.Info().Str("gameId", gameID).Int("slot", seat).Str("command", conflict.Describe(cmd)).
		Int64("version", c.next.Version).Msg("Command applied")
	s.afterCommit(ctx, game, c)
	s.runBots(ctx, game)
	return &CommandOutcome{Result: c.steps[0].Result, Version: c.next.Version}, nil
}

// BeginGame arms the first turn of a freshly started game and lets bots
// move if one of them is first.
func (s *CommandService) BeginGame(ctx context.Context, gameID string) {
	game, err := s.activeGame(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Str("gameId", gameID).Msg("Failed to load started game")
		return
	}
	snap, err := loadSnapshot(ctx, s.snapshots, gameID)
	if err != nil {
		log.Error().Err(err).Str("gameId", gameID).Msg("Failed to load started snapshot")
		return
	}
	s.armTimer(ctx, game, snap)
	s.runBots(ctx, game)
}

// ForceEndTurn ends the current turn of a game whose turn limit has run out.
// It does nothing, and reports false, when the turn is not yet due: the
// player may already have ended it, restarting the clock.
func (s *CommandService) ForceEndTurn(ctx context.Context, gameID string) (bool, error) {
	game, err := s.activeGame(ctx, gameID)
	if errors.Is(err, ErrGameNotActive) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	limit := s.turnLimit(game)
	if limit <= 0 {
		return false, nil
	}

	c, err := s.commit(ctx, gameID, func(snap *conflict.Snapshot) ([]bot.Step, error) {
		gs := snap.GameState
		if gs.IsOver() || s.now().Before(snap.TurnStartedAt.Add(limit)) {
			return nil, nil
		}
		cmd := conflict.EndTurn{Player: gs.CurrentPlayerSlot}
		res, err := conflict.NewProcessor(snap.Regions).Process(gs, cmd)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, fmt.Errorf("forced end turn rejected: %s", res.Error)
		}
		return []bot.Step{{Command: cmd, Result: res}}, nil
	})
	if errors.Is(err, ErrGameNotActive) {
		return false, nil
	}
	if err != nil || c == nil {
		return false, err
	}

	log.Info().Str("gameId", gameID).Int("slot", c.prev.GameState.CurrentPlayerSlot).
		Dur("limit", limit).Msg("Turn timed out, ending it")
	s.afterCommit(ctx, game, c)
	s.runBots(ctx, game)
	return true, nil
}

// EndExpiredTurns forces the end of every overdue turn among active games
// and returns how many it ended.
func (s *CommandService) EndExpiredTurns(ctx context.Context) (int, error) {
	games, err := s.gameRepo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, g := range games {
		if s.turnLimit(&g) <= 0 {
			continue
		}
		ok, err := s.ForceEndTurn(ctx, g.ID)
		if err != nil {
			log.Error().Err(err).Str("gameId", g.ID).Msg("Failed to end expired turn")
			continue
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

// runBots plays consecutive bot turns until a human is to move or the game
// ends.
func (s *CommandService) runBots(ctx context.Context, game *model.Game) {
	for i := 0; i < maxBotTurns; i++ {
		c, err := s.commit(ctx, game.ID, func(snap *conflict.Snapshot) ([]bot.Step, error) {
			gs := snap.GameState
			if gs.IsOver() {
				return nil, nil
			}
			if p, ok := gs.Player(gs.CurrentPlayerSlot); !ok || !p.IsAI {
				return nil, nil
			}
			_, steps, err := bot.PlayTurn(conflict.NewProcessor(snap.Regions), gs, s.strategy)
			return steps, err
		})
		if errors.Is(err, ErrGameNotActive) {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("gameId", game.ID).Msg("Bot turn failed")
			return
		}
		if c == nil {
			return
		}
		log.Debug().Str("gameId", game.ID).Int("slot", c.prev.GameState.CurrentPlayerSlot).
			Int("commands", len(c.steps)).Int64("version", c.next.Version).Msg("Bot turn played")
		s.afterCommit(ctx, game, c)
	}
	log.Warn().Str("gameId", game.ID).Int("turns", maxBotTurns).Msg("Bot turn limit reached, leaving game to the timer")
}

// afterCommit records, broadcasts and schedules what follows a write. The
// write already happened, so failures here are logged rather than returned.
func (s *CommandService) afterCommit(ctx context.Context, game *model.Game, c *committed) {
	for i, st := range c.steps {
		if s.commands != nil {
			if err := s.commands.Append(ctx, commandRecord(game.ID, c.next.Version, i, st)); err != nil {
				log.Error().Err(err).Str("gameId", game.ID).Int64("version", c.next.Version).Int("seq", i).
					Msg("Failed to append command log, game can no longer be verified")
			}
		}
		s.broadcaster.BroadcastGameEvent(game.ID, EventCommandApplied, CommandApplied{
			Version: c.next.Version,
			Command: conflict.ToInput(st.Command),
			Result:  st.Result,
		})
	}

	gs := c.next.GameState
	if gs.IsOver() {
		winner := ""
		if gs.EndResult.Winner != nil {
			winner = userForSlot(game, gs.EndResult.Winner.Slot)
		}
		if err := s.gameRepo.SetFinished(ctx, game.ID, winner); err != nil {
			log.Error().Err(err).Str("gameId", game.ID).Msg("Failed to mark game finished")
		}
		if s.timer != nil {
			if err := s.timer.ClearTimer(ctx, game.ID); err != nil {
				log.Warn().Err(err).Str("gameId", game.ID).Msg("Failed to clear turn timer")
			}
		}
		log.Info().Str("gameId", game.ID).Str("winner", winner).Int("turn", gs.TurnNumber).Msg("Game ended")
		s.broadcaster.BroadcastGameEvent(game.ID, EventGameEnded, gs.EndResult)
		return
	}

	prev := c.prev.GameState
	if prev.CurrentPlayerSlot != gs.CurrentPlayerSlot || prev.TurnNumber != gs.TurnNumber {
		s.broadcaster.BroadcastGameEvent(game.ID, EventTurnChanged, TurnChanged{
			CurrentPlayer: gs.CurrentPlayerSlot,
			TurnNumber:    gs.TurnNumber,
			TurnStartedAt: c.next.TurnStartedAt,
		})
		s.armTimer(ctx, game, c.next)
	}
}

func commandRecord(gameID string, version int64, seq int, st bot.Step) *model.CommandRecord {
	rec := &model.CommandRecord{
		GameID:      gameID,
		Version:     version,
		Seq:         seq,
		PlayerSlot:  st.Command.PlayerSlot(),
		CommandType: string(st.Command.Type()),
	}
	rec.Payload, _ = conflict.Serialize(st.Command)
	if st.Result.Replay != nil {
		rec.Replay, _ = json.Marshal(st.Result.Replay)
	}
	return rec
}

func userForSlot(game *model.Game, slot int) string {
	for _, p := range game.Players {
		if p.Slot == slot {
			return p.UserID
		}
	}
	return ""
}

// turnLimit is the game's own turn duration, falling back to the service
// default.
func (s *CommandService) turnLimit(game *model.Game) time.Duration {
	if d := parseDuration(game.TurnDuration); d > 0 {
		return d
	}
	return s.turnTimeout
}

// armTimer schedules the automatic end of the turn in snap. Bot turns are
// played immediately and need no timer.
func (s *CommandService) armTimer(ctx context.Context, game *model.Game, snap *conflict.Snapshot) {
	limit := s.turnLimit(game)
	if s.timer == nil || limit <= 0 || snap.GameState.IsOver() {
		return
	}
	if p, ok := snap.GameState.Player(snap.GameState.CurrentPlayerSlot); ok && p.IsAI {
		return
	}
	deadline := snap.TurnStartedAt.Add(limit)
	if err := s.timer.SetTimer(ctx, game.ID, deadline); err != nil {
		log.Warn().Err(err).Str("gameId", game.ID).Msg("Failed to set turn timer")
	}
}

// ListCommands returns the command log of a game.
func (s *CommandService) ListCommands(ctx context.Context, gameID string) ([]model.CommandRecord, error) {
	if s.commands == nil {
		return nil, nil
	}
	return s.commands.ListByGame(ctx, gameID)
}

// VerifyGame rebuilds a game from its seed and command log and checks the
// result matches the live snapshot. It returns the number of commands
// replayed. Log appends happen after the snapshot write and are not
// retried, so a game whose append failed reports ErrReplayMismatch for good.
func (s *CommandService) VerifyGame(ctx context.Context, gameID string) (int, error) {
	game, err := s.gameRepo.FindByID(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if game == nil {
		return 0, ErrGameNotFound
	}
	snap, err := loadSnapshot(ctx, s.snapshots, gameID)
	if err != nil {
		return 0, err
	}
	if snap.GameState == nil {
		return 0, ErrGameNotActive
	}
	recs, err := s.ListCommands(ctx, gameID)
	if err != nil {
		return 0, err
	}

	size, err := conflict.ParseMapSize(game.MapSize)
	if err != nil {
		return 0, err
	}
	src := conflict.NewRandSource(snap.Seed)
	regions, err := conflict.GenerateMap(conflict.MapConfig{Size: size, PlayerCount: len(snap.Players)}, rand.New(src))
	if err != nil {
		return 0, err
	}
	if !reflect.DeepEqual(regions, snap.Regions) {
		return 0, fmt.Errorf("%w: map differs from seed %d", ErrReplayMismatch, snap.Seed)
	}
	gs, err := conflict.NewGame(regions, snap.Players, conflict.GameOptions{MaxTurns: snap.GameState.MaxTurns}, src)
	if err != nil {
		return 0, err
	}

	proc := conflict.NewProcessor(regions)
	for _, rec := range recs {
		cmd, err := conflict.ParseCommand(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("%w: version %d: %v", ErrReplayMismatch, rec.Version, err)
		}
		res, err := proc.Process(gs, cmd)
		if err != nil {
			return 0, err
		}
		if !res.Success {
			return 0, fmt.Errorf("%w: version %d: %s rejected: %s", ErrReplayMismatch, rec.Version, conflict.Describe(cmd), res.Error)
		}
		gs = res.State
	}

	// A game stopped by its creator ends in a draw without a command.
	if gs.EndResult == nil && snap.GameState.EndResult != nil && snap.GameState.EndResult.Drawn {
		gs.EndResult = snap.GameState.EndResult
	}
	want, err := normalizedJSON(snap.GameState)
	if err != nil {
		return 0, err
	}
	got, err := normalizedJSON(gs)
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(want, got) {
		return 0, fmt.Errorf("%w: final state differs after %d commands, the command log may be incomplete", ErrReplayMismatch, len(recs))
	}
	return len(recs), nil
}

// normalizedJSON encodes gs as it would be after a trip through storage.
func normalizedJSON(gs *conflict.GameState) ([]byte, error) {
	data, err := gs.ToJSON()
	if err != nil {
		return nil, err
	}
	back, err := conflict.FromJSON(data)
	if err != nil {
		return nil, err
	}
	return back.ToJSON()
}
