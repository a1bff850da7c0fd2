package repository

import (
	"context"
	"errors"
	"time"

	"github.com/freeeve/world-conflict/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// AnyVersion makes SnapshotStore.Put unconditional.
const AnyVersion int64 = -1

// UserRepository defines user data operations.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByProviderID(ctx context.Context, provider, providerID string) (*model.User, error)
	Upsert(ctx context.Context, provider, providerID, displayName, avatarURL string) (*model.User, error)
	UpdateDisplayName(ctx context.Context, id, displayName string) error
}

// GameRepository defines lobby and seat data operations. FindByID returns
// nil, nil for an unknown game.
type GameRepository interface {
	Create(ctx context.Context, name, creatorID string, settings model.GameSettings) (*model.Game, error)
	FindByID(ctx context.Context, id string) (*model.Game, error)
	ListOpen(ctx context.Context) ([]model.Game, error)
	ListByUser(ctx context.Context, userID string) ([]model.Game, error)
	ListActive(ctx context.Context) ([]model.Game, error)
	ListFinished(ctx context.Context) ([]model.Game, error)
	JoinGame(ctx context.Context, gameID, userID string, slot int) error
	JoinGameAsBot(ctx context.Context, gameID, userID string, slot int) error
	PlayerCount(ctx context.Context, gameID string) (int, error)
	SetActive(ctx context.Context, gameID string) error
	SetFinished(ctx context.Context, gameID, winner string) error
	Delete(ctx context.Context, gameID string) error
}

// CommandLog is the append-only audit trail of accepted commands.
type CommandLog interface {
	Append(ctx context.Context, rec *model.CommandRecord) error
	ListByGame(ctx context.Context, gameID string) ([]model.CommandRecord, error)
}

// SnapshotStore is a versioned key-value store for game snapshots. Versions
// start at 1 and grow by one on every write.
type SnapshotStore interface {
	// Get returns the stored bytes and their version, or ErrNotFound.
	Get(ctx context.Context, gameID string) ([]byte, int64, error)
	// Put writes data if the stored version equals expected and returns the
	// new version. expected 0 means the key must not exist yet; AnyVersion
	// skips the check. A mismatch returns ErrVersionConflict.
	Put(ctx context.Context, gameID string, data []byte, expected int64) (int64, error)
	Delete(ctx context.Context, gameID string) error
	List(ctx context.Context) ([]string, error)
}

// TurnTimer schedules the automatic end of a stalled turn.
type TurnTimer interface {
	SetTimer(ctx context.Context, gameID string, deadline time.Time) error
	ClearTimer(ctx context.Context, gameID string) error
}
