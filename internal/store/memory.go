package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"loom/internal/types"
)

// MemoryBranchStore is the ephemeral BranchStore used when the daemon runs
// without a database and by tests.
type MemoryBranchStore struct {
	mu      sync.Mutex
	records map[string]*types.BranchRecord
}

func NewMemoryBranchStore() *MemoryBranchStore {
	return &MemoryBranchStore{records: make(map[string]*types.BranchRecord)}
}

func (s *MemoryBranchStore) Upsert(ctx context.Context, record *types.BranchRecord) (*types.BranchRecord, error) {
	if record == nil || strings.TrimSpace(record.SessionID) == "" {
		return nil, ErrRecordNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := types.CloneBranchRecord(record)
	stored.SessionID = strings.TrimSpace(stored.SessionID)
	if prev, ok := s.records[stored.SessionID]; ok && !prev.CreatedAt.IsZero() {
		stored.CreatedAt = prev.CreatedAt
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.records[stored.SessionID] = stored
	return types.CloneBranchRecord(stored), nil
}

func (s *MemoryBranchStore) Get(ctx context.Context, sessionID string) (*types.BranchRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, false, nil
	}
	return types.CloneBranchRecord(record), true, nil
}

func (s *MemoryBranchStore) ListByWorldline(ctx context.Context, worldlineID string) ([]*types.BranchRecord, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	worldlineID = strings.TrimSpace(worldlineID)
	out := make([]*types.BranchRecord, 0, len(all))
	for _, record := range all {
		if record.WorldlineID == worldlineID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *MemoryBranchStore) List(ctx context.Context) ([]*types.BranchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.BranchRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, types.CloneBranchRecord(record))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MemorySessionIndexStore is the ephemeral SessionIndexStore counterpart.
type MemorySessionIndexStore struct {
	mu      sync.Mutex
	records map[string]*types.SessionIndexRecord
}

func NewMemorySessionIndexStore() *MemorySessionIndexStore {
	return &MemorySessionIndexStore{records: make(map[string]*types.SessionIndexRecord)}
}

func (s *MemorySessionIndexStore) Upsert(ctx context.Context, record *types.SessionIndexRecord) (*types.SessionIndexRecord, error) {
	if record == nil || strings.TrimSpace(record.SessionID) == "" {
		return nil, ErrRecordNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	stored := types.CloneSessionIndexRecord(record)
	stored.SessionID = strings.TrimSpace(stored.SessionID)
	if prev, ok := s.records[stored.SessionID]; ok {
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
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastModifiedAt.IsZero() {
		stored.LastModifiedAt = now
	}
	s.records[stored.SessionID] = stored
	return types.CloneSessionIndexRecord(stored), nil
}

func (s *MemorySessionIndexStore) Get(ctx context.Context, sessionID string) (*types.SessionIndexRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, false, nil
	}
	return types.CloneSessionIndexRecord(record), true, nil
}

func (s *MemorySessionIndexStore) List(ctx context.Context) ([]*types.SessionIndexRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.SessionIndexRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, types.CloneSessionIndexRecord(record))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastModifiedAt.After(out[j].LastModifiedAt)
	})
	return out, nil
}
