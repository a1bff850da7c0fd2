package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/freeeve/world-conflict/internal/model"
)

// GameRepo handles game and game_player database operations.
type GameRepo struct {
	db *sql.DB
}

// NewGameRepo creates a GameRepo.
func NewGameRepo(db *sql.DB) *GameRepo {
	return &GameRepo{db: db}
}

const gameColumns = `g.id, g.name, g.creator_id, g.status, g.winner, g.map_size, g.max_players, g.max_turns,
	g.turn_duration::text, g.created_at, g.started_at, g.finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (model.Game, error) {
	var g model.Game
	var winner sql.NullString
	err := row.Scan(&g.ID, &g.Name, &g.CreatorID, &g.Status, &winner, &g.MapSize, &g.MaxPlayers, &g.MaxTurns,
		&g.TurnDuration, &g.CreatedAt, &g.StartedAt, &g.FinishedAt)
	g.Winner = winner.String
	return g, err
}

// Create inserts a new pending game.
func (r *GameRepo) Create(ctx context.Context, name, creatorID string, settings model.GameSettings) (*model.Game, error) {
	turnDur := settings.TurnDuration
	if turnDur == "" {
		turnDur = "0 seconds"
	}
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO games AS g (id, name, creator_id, map_size, max_players, max_turns, turn_duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::interval)
		 RETURNING `+gameColumns,
		uuid.NewString(), name, creatorID, settings.MapSize, settings.MaxPlayers, settings.MaxTurns, turnDur,
	)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	return &g, nil
}

// FindByID returns a game by ID with its players.
func (r *GameRepo) FindByID(ctx context.Context, id string) (*model.Game, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	g, err := scanGame(r.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games g WHERE g.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find game: %w", err)
	}

	players, err := r.ListPlayers(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Players = players
	return &g, nil
}

func (r *GameRepo) listGames(ctx context.Context, op, query string, args ...any) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// ListOpen returns games still waiting for players.
func (r *GameRepo) ListOpen(ctx context.Context) ([]model.Game, error) {
	return r.listGames(ctx, "list open games",
		`SELECT `+gameColumns+` FROM games g WHERE g.status = 'pending' ORDER BY g.created_at DESC LIMIT 50`)
}

// ListByUser returns all games a user is part of (as player or creator).
func (r *GameRepo) ListByUser(ctx context.Context, userID string) ([]model.Game, error) {
	return r.listGames(ctx, "list user games",
		`SELECT DISTINCT `+gameColumns+`
		 FROM games g LEFT JOIN game_players gp ON g.id = gp.game_id AND gp.user_id = $1
		 WHERE gp.user_id = $1 OR g.creator_id = $1
		 ORDER BY g.created_at DESC LIMIT 50`, userID)
}

// ListActive returns all games in play, including their players. The
// turn timer sweeps these, so players load in one query rather than per game.
func (r *GameRepo) ListActive(ctx context.Context) ([]model.Game, error) {
	games, err := r.listGames(ctx, "list active games",
		`SELECT `+gameColumns+` FROM games g WHERE g.status = 'active' ORDER BY g.created_at`)
	if err != nil || len(games) == 0 {
		return games, err
	}

	ids := make([]string, len(games))
	for i, g := range games {
		ids[i] = g.ID
	}
	players, err := r.queryPlayers(ctx, `WHERE gp.game_id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byGame := make(map[string][]model.GamePlayer, len(games))
	for _, p := range players {
		byGame[p.GameID] = append(byGame[p.GameID], p)
	}
	for i := range games {
		games[i].Players = byGame[games[i].ID]
	}
	return games, nil
}

// ListFinished returns all completed games, most recent first.
func (r *GameRepo) ListFinished(ctx context.Context) ([]model.Game, error) {
	return r.listGames(ctx, "list finished games",
		`SELECT `+gameColumns+` FROM games g WHERE g.status = 'completed' ORDER BY g.finished_at DESC LIMIT 100`)
}

// JoinGame seats a player at the given slot. Joining twice is a no-op.
func (r *GameRepo) JoinGame(ctx context.Context, gameID, userID string, slot int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO game_players (game_id, user_id, slot) VALUES ($1, $2, $3)
		 ON CONFLICT (game_id, user_id) DO NOTHING`,
		gameID, userID, slot,
	)
	if err != nil {
		return fmt.Errorf("join game: %w", err)
	}
	return nil
}

// JoinGameAsBot seats a bot player at the given slot.
func (r *GameRepo) JoinGameAsBot(ctx context.Context, gameID, userID string, slot int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO game_players (game_id, user_id, slot, is_bot) VALUES ($1, $2, $3, true)
		 ON CONFLICT (game_id, user_id) DO NOTHING`,
		gameID, userID, slot,
	)
	if err != nil {
		return fmt.Errorf("join game as bot: %w", err)
	}
	return nil
}

// ListPlayers returns all players in a game ordered by slot.
func (r *GameRepo) ListPlayers(ctx context.Context, gameID string) ([]model.GamePlayer, error) {
	return r.queryPlayers(ctx, `WHERE gp.game_id = $1`, gameID)
}

func (r *GameRepo) queryPlayers(ctx context.Context, where string, args ...any) ([]model.GamePlayer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT gp.game_id, gp.user_id, u.display_name, gp.slot, gp.is_bot, gp.joined_at
		 FROM game_players gp JOIN users u ON u.id = gp.user_id
		 `+where+` ORDER BY gp.game_id, gp.slot`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []model.GamePlayer
	for rows.Next() {
		var p model.GamePlayer
		if err := rows.Scan(&p.GameID, &p.UserID, &p.DisplayName, &p.Slot, &p.IsBot, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// PlayerCount returns the number of players in a game.
func (r *GameRepo) PlayerCount(ctx context.Context, gameID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM game_players WHERE game_id = $1`, gameID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("player count: %w", err)
	}
	return count, nil
}

// SetActive marks a pending game as started.
func (r *GameRepo) SetActive(ctx context.Context, gameID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET status = 'active', started_at = now() WHERE id = $1 AND status = 'pending'`, gameID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// SetFinished marks a game as completed. An empty winner records a draw.
func (r *GameRepo) SetFinished(ctx context.Context, gameID, winner string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET status = 'completed', winner = NULLIF($1, ''), finished_at = now() WHERE id = $2`,
		winner, gameID,
	)
	if err != nil {
		return fmt.Errorf("set finished: %w", err)
	}
	return nil
}

// Delete removes a game and all associated data (cascades to players and commands).
func (r *GameRepo) Delete(ctx context.Context, gameID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}
