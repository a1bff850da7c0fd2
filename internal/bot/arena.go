package bot

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/pkg/conflict"
)

// ArenaConfig configures a single bot-vs-bot game.
type ArenaConfig struct {
	GameName   string
	Players    int
	SlotConfig map[int]string // slot -> difficulty level
	MapSize    conflict.MapSize
	MaxTurns   int    // 0 = engine default of unlimited, capped by MaxCommands
	Seed       uint64 // 0 = random
	// MaxCommands aborts a game that never ends. 0 means 20000.
	MaxCommands int
	// CheckInvariants re-validates the state after every command.
	CheckInvariants bool
}

// ArenaResult describes the outcome of a completed arena game.
type ArenaResult struct {
	GameID       string
	Seed         uint64
	Winner       int // slot, or conflict.Neutral for a draw
	Turns        int
	Commands     int
	Battles      int
	RegionCounts map[int]int // slot -> regions owned at the end
	Final        *conflict.GameState
}

// ParseSlotConfig parses "*=easy,0=random" into a slot -> difficulty map for
// n players. The wildcard fills every slot not named explicitly.
func ParseSlotConfig(s string, n int) (map[int]string, error) {
	out := make(map[int]string, n)
	fallback := "easy"
	if strings.TrimSpace(s) != "" {
		for _, part := range strings.Split(s, ",") {
			key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || val == "" {
				return nil, fmt.Errorf("invalid slot config %q", part)
			}
			if key == "*" {
				fallback = val
				continue
			}
			slot, err := strconv.Atoi(key)
			if err != nil || slot < 0 || slot >= n {
				return nil, fmt.Errorf("invalid slot %q", key)
			}
			out[slot] = val
		}
	}
	for slot := 0; slot < n; slot++ {
		if _, ok := out[slot]; !ok {
			out[slot] = fallback
		}
	}
	return out, nil
}

// RunGame plays a full game in memory with one strategy per slot.
func RunGame(ctx context.Context, cfg ArenaConfig) (*ArenaResult, error) {
	if cfg.Players == 0 {
		cfg.Players = 4
	}
	if cfg.MapSize == "" {
		cfg.MapSize = conflict.Medium
	}
	if cfg.MaxCommands == 0 {
		cfg.MaxCommands = 20000
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}

	src := conflict.NewRandSource(cfg.Seed)
	regions, err := conflict.GenerateMap(conflict.MapConfig{Size: cfg.MapSize, PlayerCount: cfg.Players}, rand.New(src))
	if err != nil {
		return nil, err
	}

	strategies := make(map[int]Strategy, cfg.Players)
	players := make([]conflict.Player, cfg.Players)
	for slot := range players {
		diff := cfg.SlotConfig[slot]
		if diff == "" {
			diff = "easy"
		}
		strategies[slot] = StrategyForDifficulty(diff)
		players[slot] = conflict.Player{Slot: slot, Name: fmt.Sprintf("Bot %d (%s)", slot+1, diff), IsAI: true}
	}

	gs, err := conflict.NewGame(regions, players, conflict.GameOptions{MaxTurns: cfg.MaxTurns}, src)
	if err != nil {
		return nil, fmt.Errorf("create arena game: %w", err)
	}
	proc := conflict.NewProcessor(regions)

	result := &ArenaResult{GameID: uuid.NewString(), Seed: cfg.Seed, Winner: conflict.Neutral}
	for !gs.IsOver() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if result.Commands >= cfg.MaxCommands {
			return nil, fmt.Errorf("game %s (seed %d) did not finish within %d commands", result.GameID, cfg.Seed, cfg.MaxCommands)
		}

		next, steps, err := PlayTurn(proc, gs, strategies[gs.CurrentPlayerSlot])
		if err != nil {
			return nil, fmt.Errorf("turn %d slot %d: %w", gs.TurnNumber, gs.CurrentPlayerSlot, err)
		}
		for _, step := range steps {
			result.Commands++
			if step.Result.Replay != nil && step.Result.Replay.Battle != nil {
				result.Battles++
			}
		}
		if cfg.CheckInvariants {
			if err := next.CheckInvariants(regions); err != nil {
				return nil, fmt.Errorf("turn %d slot %d: %w", gs.TurnNumber, gs.CurrentPlayerSlot, err)
			}
		}
		gs = next
	}

	result.Turns = gs.TurnNumber
	result.Final = gs
	result.RegionCounts = make(map[int]int, len(players))
	for _, p := range players {
		result.RegionCounts[p.Slot] = gs.RegionCount(p.Slot)
	}
	if gs.EndResult.Winner != nil {
		result.Winner = gs.EndResult.Winner.Slot
	}
	log.Info().Str("gameId", result.GameID).Str("name", cfg.GameName).Uint64("seed", cfg.Seed).Int("winner", result.Winner).
		Int("turns", result.Turns).Int("commands", result.Commands).Msg("Arena game finished")
	return result, nil
}
