package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"loom/internal/types"
)

var (
	bucketBranchRecords = []byte("branch_records")
	bucketSessionIndex  = []byte("session_index")
)

var ErrRecordNotFound = errors.New("record not found")

// BranchStore persists one BranchRecord per branched session id.
type BranchStore interface {
	Upsert(ctx context.Context, record *types.BranchRecord) (*types.BranchRecord, error)
	Get(ctx context.Context, sessionID string) (*types.BranchRecord, bool, error)
	ListByWorldline(ctx context.Context, worldlineID string) ([]*types.BranchRecord, error)
	List(ctx context.Context) ([]*types.BranchRecord, error)
}

// SessionIndexStore keeps the listing entry for every session id the daemon
// has seen, branched or not.
type SessionIndexStore interface {
	Upsert(ctx context.Context, record *types.SessionIndexRecord) (*types.SessionIndexRecord, error)
	Get(ctx context.Context, sessionID string) (*types.SessionIndexRecord, bool, error)
	List(ctx context.Context) ([]*types.SessionIndexRecord, error)
}

// Repository owns the shared bbolt handle behind both stores.
type Repository struct {
	db       *bolt.DB
	branches BranchStore
	sessions SessionIndexStore
}

func NewRepository(path string) (*Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{
		db:       db,
		branches: &bboltBranchStore{db: db},
		sessions: &bboltSessionIndexStore{db: db},
	}, nil
}

func (r *Repository) Branches() BranchStore {
	return r.branches
}

func (r *Repository) SessionIndex() SessionIndexStore {
	return r.sessions
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBranchRecords); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSessionIndex); err != nil {
			return err
		}
		return nil
	})
}
