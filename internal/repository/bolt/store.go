// Package bolt stores game snapshots in a local BoltDB file for single-node
// deployments that run without Redis.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/freeeve/world-conflict/internal/repository"
)

const snapshotBucket = "snapshots"

// versionSize is the length of the big-endian version prefix on each value.
const versionSize = 8

// Store provides a BoltDB-backed snapshot store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the snapshot bytes and version of a game.
func (s *Store) Get(ctx context.Context, gameID string) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	var data []byte
	var version int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := snapshots(tx)
		if err != nil {
			return err
		}
		raw := bucket.Get([]byte(gameID))
		if raw == nil {
			return repository.ErrNotFound
		}
		version, data, err = decode(raw)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return data, version, nil
}

// Put writes a snapshot if the stored version matches expected. Bolt runs
// one writable transaction at a time, so the compare and the write are atomic.
func (s *Store) Put(ctx context.Context, gameID string, data []byte, expected int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(gameID) == "" {
		return 0, fmt.Errorf("game id is required")
	}
	var next int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := snapshots(tx)
		if err != nil {
			return err
		}
		var current int64
		if raw := bucket.Get([]byte(gameID)); raw != nil {
			if current, _, err = decode(raw); err != nil {
				return err
			}
		}
		if expected != repository.AnyVersion && current != expected {
			return repository.ErrVersionConflict
		}
		next = current + 1
		return bucket.Put([]byte(gameID), encode(next, data))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Delete removes a game's snapshot.
func (s *Store) Delete(ctx context.Context, gameID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := snapshots(tx)
		if err != nil {
			return err
		}
		return bucket.Delete([]byte(gameID))
	})
}

// List returns the ids of every stored game in key order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := snapshots(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket)); err != nil {
			return fmt.Errorf("create snapshot bucket: %w", err)
		}
		return nil
	})
}

func snapshots(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(snapshotBucket))
	if bucket == nil {
		return nil, fmt.Errorf("snapshot bucket is missing")
	}
	return bucket, nil
}

func encode(version int64, data []byte) []byte {
	out := make([]byte, versionSize+len(data))
	binary.BigEndian.PutUint64(out, uint64(version))
	copy(out[versionSize:], data)
	return out
}

// decode copies the payload out of raw, which is only valid for the life of
// the transaction.
func decode(raw []byte) (int64, []byte, error) {
	if len(raw) < versionSize {
		return 0, nil, fmt.Errorf("corrupt snapshot record of %d bytes", len(raw))
	}
	version := int64(binary.BigEndian.Uint64(raw))
	data := make([]byte, len(raw)-versionSize)
	copy(data, raw[versionSize:])
	return version, data, nil
}

var _ repository.SnapshotStore = (*Store)(nil)
