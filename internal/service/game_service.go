package service

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/internal/model"
	"github.com/freeeve/world-conflict/internal/repository"
	"github.com/freeeve/world-conflict/pkg/conflict"
)

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrGameNotPending  = errors.New("game is not waiting for players")
	ErrGameFull        = errors.New("game is full")
	ErrNotEnough       = errors.New("need at least 2 players to start")
	ErrNotCreator      = errors.New("only the creator can do this")
	ErrGameNotActive   = errors.New("game is not active")
	ErrAlreadyJoined   = errors.New("already joined this game")
	ErrNotInGame       = errors.New("you are not in this game")
	ErrInvalidSettings = errors.New("invalid game settings")
	ErrInvalidFilter   = errors.New("filter must be open, my, active or finished")
)

// GameService handles game lifecycle operations: the lobby, map generation
// on start and reading the live snapshot.
type GameService struct {
	gameRepo    repository.GameRepository
	userRepo    repository.UserRepository
	snapshots   repository.SnapshotStore
	broadcaster Broadcaster
	retry       RetryPolicy
	onStart     func(ctx context.Context, gameID string)
	now         func() time.Time
}

// NewGameService creates a GameService.
func NewGameService(gameRepo repository.GameRepository, userRepo repository.UserRepository, snapshots repository.SnapshotStore, broadcaster Broadcaster) *GameService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &GameService{
		gameRepo:    gameRepo,
		userRepo:    userRepo,
		snapshots:   snapshots,
		broadcaster: broadcaster,
		retry:       DefaultRetryPolicy,
		now:         time.Now,
	}
}

// SetRetryPolicy overrides the retry policy used when stopping games.
func (s *GameService) SetRetryPolicy(p RetryPolicy) { s.retry = p }

// OnStart registers a hook that runs after a game has been started, used to
// let bots move first and to arm the turn timer.
func (s *GameService) OnStart(fn func(ctx context.Context, gameID string)) { s.onStart = fn }

// CreateGame opens a lobby. The creator takes slot 0 and bots fill the next
// slots.
func (s *GameService) CreateGame(ctx context.Context, name, creatorID string, settings model.GameSettings, bots int) (*model.Game, error) {
	settings, err := normalizeSettings(settings)
	if err != nil {
		return nil, err
	}
	if bots < 0 || bots >= settings.MaxPlayers {
		return nil, fmt.Errorf("%w: %d bots for %d seats", ErrInvalidSettings, bots, settings.MaxPlayers)
	}
	if strings.TrimSpace(name) == "" {
		name = "World Conflict"
	}

	game, err := s.gameRepo.Create(ctx, name, creatorID, settings)
	if err != nil {
		return nil, err
	}
	if err := s.gameRepo.JoinGame(ctx, game.ID, creatorID, 0); err != nil {
		return nil, err
	}
	for slot := 1; slot <= bots; slot++ {
		if err := s.seatBot(ctx, game.ID, slot); err != nil {
			return nil, err
		}
	}
	log.Info().Str("gameId", game.ID).Str("creator", creatorID).Str("mapSize", settings.MapSize).
		Int("maxPlayers", settings.MaxPlayers).Int("bots", bots).Msg("Game created")
	return s.gameRepo.FindByID(ctx, game.ID)
}

func normalizeSettings(in model.GameSettings) (model.GameSettings, error) {
	size, err := conflict.ParseMapSize(in.MapSize)
	if err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	in.MapSize = string(size)
	if in.MaxPlayers == 0 {
		in.MaxPlayers = 4
	}
	if in.MaxPlayers < conflict.MinPlayers || in.MaxPlayers > conflict.MaxPlayers {
		return in, fmt.Errorf("%w: max players must be %d to %d", ErrInvalidSettings, conflict.MinPlayers, conflict.MaxPlayers)
	}
	if in.MaxTurns < 0 {
		return in, fmt.Errorf("%w: max turns cannot be negative", ErrInvalidSettings)
	}
	in.TurnDuration = toPgInterval(in.TurnDuration, "0 seconds")
	return in, nil
}

func (s *GameService) seatBot(ctx context.Context, gameID string, slot int) error {
	botUser, err := s.userRepo.Upsert(ctx, "bot", fmt.Sprintf("bot-%d", slot+1), fmt.Sprintf("Bot %d", slot+1), "")
	if err != nil {
		return fmt.Errorf("create bot user %d: %w", slot+1, err)
	}
	if err := s.gameRepo.JoinGameAsBot(ctx, gameID, botUser.ID, slot); err != nil {
		return fmt.Errorf("join bot %d: %w", slot+1, err)
	}
	return nil
}

// findPending loads a game and checks it is still in the lobby.
func (s *GameService) findPending(ctx context.Context, gameID string) (*model.Game, error) {
	game, err := s.gameRepo.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}
	if game.Status != model.GamePending {
		return nil, ErrGameNotPending
	}
	return game, nil
}

// freeSlot returns the lowest unoccupied slot, or -1 when the game is full.
func freeSlot(game *model.Game) int {
	taken := make(map[int]bool, len(game.Players))
	for _, p := range game.Players {
		taken[p.Slot] = true
	}
	for slot := 0; slot < game.MaxPlayers; slot++ {
		if !taken[slot] {
			return slot
		}
	}
	return -1
}

// JoinGame seats a player in the lowest free slot of a pending game.
func (s *GameService) JoinGame(ctx context.Context, gameID, userID string) error {
	game, err := s.findPending(ctx, gameID)
	if err != nil {
		return err
	}
	for _, p := range game.Players {
		if p.UserID == userID {
			return ErrAlreadyJoined
		}
	}
	slot := freeSlot(game)
	if slot < 0 {
		return ErrGameFull
	}
	if err := s.gameRepo.JoinGame(ctx, gameID, userID, slot); err != nil {
		return err
	}
	s.broadcaster.BroadcastGameEvent(gameID, EventPlayerJoined, PlayerJoined{UserID: userID, Slot: slot})
	return nil
}

// AddBot seats a bot in the lowest free slot. Only the creator can add bots.
func (s *GameService) AddBot(ctx context.Context, gameID, userID string) error {
	game, err := s.findPending(ctx, gameID)
	if err != nil {
		return err
	}
	if game.CreatorID != userID {
		return ErrNotCreator
	}
	slot := freeSlot(game)
	if slot < 0 {
		return ErrGameFull
	}
	if err := s.seatBot(ctx, gameID, slot); err != nil {
		return err
	}
	s.broadcaster.BroadcastGameEvent(gameID, EventPlayerJoined, PlayerJoined{Slot: slot, IsBot: true})
	return nil
}

// StartGame generates the map, seats the players on it and writes the first
// snapshot. The snapshot is created with expected version 0, so a game can
// only be started once even if two requests race. If the lobby record
// cannot be marked active the snapshot is removed again.
func (s *GameService) StartGame(ctx context.Context, gameID, userID string) (*model.Game, error) {
	game, err := s.findPending(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.CreatorID != userID {
		return nil, ErrNotCreator
	}
	if len(game.Players) < conflict.MinPlayers {
		return nil, ErrNotEnough
	}

	seed, err := newSeed()
	if err != nil {
		return nil, err
	}
	snap, err := newSnapshot(game, seed, s.now())
	if err != nil {
		return nil, err
	}
	data, err := snap.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	version, err := s.snapshots.Put(ctx, gameID, data, 0)
	if errors.Is(err, repository.ErrVersionConflict) {
		return nil, ErrGameNotPending
	}
	if err != nil {
		return nil, err
	}
	snap.Version = version

	if err := s.gameRepo.SetActive(ctx, gameID); err != nil {
		// Drop the snapshot so the lobby can be started again.
		if derr := s.snapshots.Delete(ctx, gameID); derr != nil {
			log.Error().Err(derr).Str("gameId", gameID).Msg("Failed to remove snapshot of unstarted game")
		}
		return nil, err
	}
	log.Info().Str("gameId", gameID).Uint64("seed", seed).Int("regions", len(snap.Regions)).
		Int("players", len(snap.Players)).Msg("Game started")
	s.broadcaster.BroadcastGameEvent(gameID, EventGameStarted, snap)

	if s.onStart != nil {
		s.onStart(ctx, gameID)
	}
	return s.gameRepo.FindByID(ctx, gameID)
}

// newSnapshot builds the opening snapshot of game from seed. The same PCG
// stream generates the map and then the initial placement, so the seed
// alone reproduces both.
func newSnapshot(game *model.Game, seed uint64, now time.Time) (*conflict.Snapshot, error) {
	size, err := conflict.ParseMapSize(game.MapSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	players := make([]conflict.Player, len(game.Players))
	for i, p := range game.Players {
		players[i] = conflict.Player{Slot: p.Slot, Name: p.DisplayName, IsAI: p.IsBot}
	}

	src := conflict.NewRandSource(seed)
	regions, err := conflict.GenerateMap(conflict.MapConfig{Size: size, PlayerCount: len(players)}, rand.New(src))
	if err != nil {
		return nil, fmt.Errorf("generate map: %w", err)
	}
	gs, err := conflict.NewGame(regions, players, conflict.GameOptions{MaxTurns: game.MaxTurns}, src)
	if err != nil {
		return nil, fmt.Errorf("new game: %w", err)
	}
	return &conflict.Snapshot{
		GameID:        game.ID,
		Status:        conflict.StatusActive,
		Players:       gs.Players,
		Regions:       regions,
		GameState:     gs,
		Seed:          seed,
		LastUpdateAt:  now,
		TurnStartedAt: now,
	}, nil
}

// newSeed draws a game seed from crypto/rand.
func newSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// GetGame returns a game by ID.
func (s *GameService) GetGame(ctx context.Context, gameID string) (*model.Game, error) {
	game, err := s.gameRepo.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}
	return game, nil
}

// GetSnapshot returns the live snapshot of a started game.
func (s *GameService) GetSnapshot(ctx context.Context, gameID string) (*conflict.Snapshot, error) {
	return loadSnapshot(ctx, s.snapshots, gameID)
}

func loadSnapshot(ctx context.Context, store repository.SnapshotStore, gameID string) (*conflict.Snapshot, error) {
	data, version, err := store.Get(ctx, gameID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return conflict.UnmarshalSnapshot(data, version)
}

// ListGames returns open games or games the user is in.
func (s *GameService) ListGames(ctx context.Context, userID string, filter string) ([]model.Game, error) {
	switch filter {
	case "", "open":
		return s.gameRepo.ListOpen(ctx)
	case "my":
		return s.gameRepo.ListByUser(ctx, userID)
	case "active":
		return s.gameRepo.ListActive(ctx)
	case "finished":
		return s.gameRepo.ListFinished(ctx)
	default:
		return nil, ErrInvalidFilter
	}
}

// DeleteGame removes a pending game. Only the game creator can delete a game.
func (s *GameService) DeleteGame(ctx context.Context, gameID, userID string) error {
	game, err := s.findPending(ctx, gameID)
	if err != nil {
		return err
	}
	if game.CreatorID != userID {
		return ErrNotCreator
	}
	if err := s.gameRepo.Delete(ctx, gameID); err != nil {
		return err
	}
	if err := s.snapshots.Delete(ctx, gameID); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("Failed to delete snapshot")
	}
	return nil
}

// StopGame ends an active game as a draw. Only the game creator can stop a game.
func (s *GameService) StopGame(ctx context.Context, gameID, userID string) (*model.Game, error) {
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
	if game.CreatorID != userID {
		return nil, ErrNotCreator
	}

	snap, err := WithRetry(ctx, s.retry, func() (*conflict.Snapshot, error) {
		snap, err := loadSnapshot(ctx, s.snapshots, gameID)
		if err != nil {
			return nil, err
		}
		if snap.GameState == nil || snap.GameState.IsOver() {
			return nil, ErrGameNotActive
		}
		final := snap.GameState.Clone()
		final.EndResult = &conflict.EndResult{Drawn: true}
		next := snap.Advance(final, s.now())
		data, err := next.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
		if next.Version, err = s.snapshots.Put(ctx, gameID, data, snap.Version); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.gameRepo.SetFinished(ctx, gameID, ""); err != nil {
		return nil, err
	}
	s.broadcaster.BroadcastGameEvent(gameID, EventGameEnded, snap.GameState.EndResult)
	return s.gameRepo.FindByID(ctx, gameID)
}

// toPgInterval converts Go-style duration strings (e.g. "5m", "1h") to
// PostgreSQL interval format (e.g. "5 minutes", "1 hours"). Returns
// defaultVal if input is empty.
func toPgInterval(s, defaultVal string) string {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	totalSeconds := int(d.Seconds())
	if totalSeconds < 60 {
		return fmt.Sprintf("%d seconds", totalSeconds)
	}
	return fmt.Sprintf("%d minutes", totalSeconds/60)
}

// parseDuration converts Postgres interval strings like "24:00:00" or Go
// duration strings like "5m" to time.Duration. Anything else, including an
// empty string, is zero: no turn limit.
func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d
	}
	// Try HH:MM:SS format from PostgreSQL
	parts := strings.Split(s, ":")
	if len(parts) == 3 {
		h, e1 := strconv.Atoi(parts[0])
		m, e2 := strconv.Atoi(parts[1])
		sec, e3 := strconv.Atoi(parts[2])
		if e1 == nil && e2 == nil && e3 == nil {
			return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
		}
	}
	// And the "N seconds" / "N minutes" form toPgInterval writes.
	if n, unit, ok := strings.Cut(s, " "); ok {
		v, err := strconv.Atoi(n)
		if err == nil {
			switch unit {
			case "seconds":
				return time.Duration(v) * time.Second
			case "minutes":
				return time.Duration(v) * time.Minute
			}
		}
	}
	return 0
}
