package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/freeeve/world-conflict/internal/model"
	"github.com/freeeve/world-conflict/internal/repository"
)

const userColumns = `id, provider, provider_id, display_name, avatar_url, created_at, updated_at`

// UserRepo stores players and the bot accounts that fill AI seats.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo creates a UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var avatar sql.NullString
	if err := row.Scan(&u.ID, &u.Provider, &u.ProviderID, &u.DisplayName, &avatar, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.AvatarURL = avatar.String
	return &u, nil
}

// findOne returns nil, nil when the query matches no user.
func (r *UserRepo) findOne(ctx context.Context, op, where string, args ...any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// FindByProviderID looks up a user by auth provider and provider-specific ID.
// Bot accounts use the provider "bot".
func (r *UserRepo) FindByProviderID(ctx context.Context, provider, providerID string) (*model.User, error) {
	return r.findOne(ctx, "find user by provider", `provider = $1 AND provider_id = $2`, provider, providerID)
}

// FindByID looks up a user by their UUID.
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "find user by id", `id = $1`, id)
}

// Upsert creates a user or refreshes the display name and avatar of an
// existing one.
func (r *UserRepo) Upsert(ctx context.Context, provider, providerID, displayName, avatarURL string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (provider, provider_id, display_name, avatar_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider, provider_id)
		 DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url, updated_at = now()
		 RETURNING `+userColumns,
		provider, providerID, displayName, avatarURL,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// UpdateDisplayName renames a user. It returns repository.ErrNotFound for an
// unknown id.
func (r *UserRepo) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET display_name = $1, updated_at = now() WHERE id = $2`,
		displayName, id,
	)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
