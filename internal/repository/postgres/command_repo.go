package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/freeeve/world-conflict/internal/model"
)

// CommandRepo stores the accepted-command log of each game.
type CommandRepo struct {
	db *sql.DB
}

// NewCommandRepo creates a CommandRepo.
func NewCommandRepo(db *sql.DB) *CommandRepo {
	return &CommandRepo{db: db}
}

// Append inserts a command record, filling in its ID and CreatedAt.
func (r *CommandRepo) Append(ctx context.Context, rec *model.CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var replay any
	if len(rec.Replay) > 0 {
		replay = []byte(rec.Replay)
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO commands (id, game_id, version, seq, player_slot, command_type, payload, replay)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		rec.ID, rec.GameID, rec.Version, rec.Seq, rec.PlayerSlot, rec.CommandType, []byte(rec.Payload), replay,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append command: %w", err)
	}
	return nil
}

// ListByGame returns a game's commands in the order they were applied.
func (r *CommandRepo) ListByGame(ctx context.Context, gameID string) ([]model.CommandRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, game_id, version, seq, player_slot, command_type, payload, replay, created_at
		 FROM commands WHERE game_id = $1 ORDER BY version, seq`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var recs []model.CommandRecord
	for rows.Next() {
		var rec model.CommandRecord
		var payload, replay []byte
		if err := rows.Scan(&rec.ID, &rec.GameID, &rec.Version, &rec.Seq, &rec.PlayerSlot, &rec.CommandType, &payload, &replay, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		rec.Payload = payload
		rec.Replay = replay
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
