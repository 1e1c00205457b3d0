package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"loom/internal/types"
)

type bboltBranchStore struct {
	db *bolt.DB
}

func (s *bboltBranchStore) Upsert(ctx context.Context, record *types.BranchRecord) (*types.BranchRecord, error) {
	if record == nil || strings.TrimSpace(record.SessionID) == "" {
		return nil, errors.New("branch record session id is required")
	}
	stored := types.CloneBranchRecord(record)
	stored.SessionID = strings.TrimSpace(stored.SessionID)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranchRecords)
		if b == nil {
			return errors.New("branch records bucket missing")
		}
		if existing := b.Get([]byte(stored.SessionID)); existing != nil {
			var prev types.BranchRecord
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.CreatedAt.IsZero() {
				stored.CreatedAt = prev.CreatedAt
			}
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return b.Put([]byte(stored.SessionID), data)
	})
	if err != nil {
		return nil, err
	}
	return types.CloneBranchRecord(stored), nil
}

func (s *bboltBranchStore) Get(ctx context.Context, sessionID string) (*types.BranchRecord, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, false, nil
	}
	var (
		out *types.BranchRecord
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranchRecords)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(sessionID))
		if data == nil {
			return nil
		}
		var record types.BranchRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		out = &record
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltBranchStore) ListByWorldline(ctx context.Context, worldlineID string) ([]*types.BranchRecord, error) {
	worldlineID = strings.TrimSpace(worldlineID)
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.BranchRecord, 0, len(all))
	for _, record := range all {
		if record.WorldlineID == worldlineID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *bboltBranchStore) List(ctx context.Context) ([]*types.BranchRecord, error) {
	out := make([]*types.BranchRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranchRecords)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var record types.BranchRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			out = append(out, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
