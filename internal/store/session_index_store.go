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

type bboltSessionIndexStore struct {
	db *bolt.DB
}

func (s *bboltSessionIndexStore) Upsert(ctx context.Context, record *types.SessionIndexRecord) (*types.SessionIndexRecord, error) {
	if record == nil || strings.TrimSpace(record.SessionID) == "" {
		return nil, errors.New("session index record session id is required")
	}
	now := time.Now().UTC()
	stored := types.CloneSessionIndexRecord(record)
	stored.SessionID = strings.TrimSpace(stored.SessionID)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionIndex)
		if b == nil {
			return errors.New("session index bucket missing")
		}
		if existing := b.Get([]byte(stored.SessionID)); existing != nil {
			var prev types.SessionIndexRecord
			if err := json.Unmarshal(existing, &prev); err == nil {
				if !prev.CreatedAt.IsZero() {
					stored.CreatedAt = prev.CreatedAt
				}
				if stored.Summary == "" {
					stored.Summary = prev.Summary
				}
				if stored.LastModifiedAt.IsZero() {
					stored.LastModifiedAt = prev.LastModifiedAt
				}
			}
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if stored.LastModifiedAt.IsZero() {
			stored.LastModifiedAt = now
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
	return types.CloneSessionIndexRecord(stored), nil
}

func (s *bboltSessionIndexStore) Get(ctx context.Context, sessionID string) (*types.SessionIndexRecord, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, false, nil
	}
	var (
		out *types.SessionIndexRecord
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionIndex)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(sessionID))
		if data == nil {
			return nil
		}
		var record types.SessionIndexRecord
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

func (s *bboltSessionIndexStore) List(ctx context.Context) ([]*types.SessionIndexRecord, error) {
	out := make([]*types.SessionIndexRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionIndex)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var record types.SessionIndexRecord
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
		return out[i].LastModifiedAt.After(out[j].LastModifiedAt)
	})
	return out, nil
}
