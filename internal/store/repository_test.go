package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"loom/internal/types"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestBranchStoreRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := &types.BranchRecord{
		SessionID:              "s2",
		ParentSessionID:        "s1",
		BranchPointMessageUUID: "m5",
		BranchPointParentUUID:  "m4",
		WorldlineID:            "s1",
	}
	stored, err := repo.Branches().Upsert(ctx, record)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be stamped")
	}

	got, ok, err := repo.Branches().Get(ctx, "s2")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.BranchPointParentUUID != "m4" || got.WorldlineID != "s1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// A later upsert must not move the original creation time.
	record.BranchPointParentUUID = "m4"
	again, err := repo.Branches().Upsert(ctx, record)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !again.CreatedAt.Equal(stored.CreatedAt) {
		t.Fatalf("created_at changed across upserts: %v vs %v", again.CreatedAt, stored.CreatedAt)
	}
}

func TestBranchStoreListByWorldline(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, record := range []*types.BranchRecord{
		{SessionID: "s2", ParentSessionID: "s1", WorldlineID: "s1", CreatedAt: time.Unix(200, 0).UTC()},
		{SessionID: "s3", ParentSessionID: "s2", WorldlineID: "s1", CreatedAt: time.Unix(100, 0).UTC()},
		{SessionID: "x2", ParentSessionID: "x1", WorldlineID: "x1", CreatedAt: time.Unix(150, 0).UTC()},
	} {
		if _, err := repo.Branches().Upsert(ctx, record); err != nil {
			t.Fatalf("upsert %s: %v", record.SessionID, err)
		}
	}

	family, err := repo.Branches().ListByWorldline(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(family) != 2 {
		t.Fatalf("expected 2 records for worldline s1, got %d", len(family))
	}
	if family[0].SessionID != "s3" || family[1].SessionID != "s2" {
		t.Fatalf("expected creation-time ascending order, got %s then %s", family[0].SessionID, family[1].SessionID)
	}
}

func TestSessionIndexStoreRecencyOrderAndSummary(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour).UTC()
	newer := time.Now().UTC()
	if _, err := repo.SessionIndex().Upsert(ctx, &types.SessionIndexRecord{SessionID: "a", Summary: "first prompt", LastModifiedAt: older}); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if _, err := repo.SessionIndex().Upsert(ctx, &types.SessionIndexRecord{SessionID: "b", LastModifiedAt: newer}); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	// Touching a without a summary must keep the stored one.
	if _, err := repo.SessionIndex().Upsert(ctx, &types.SessionIndexRecord{SessionID: "a", LastModifiedAt: older.Add(time.Minute)}); err != nil {
		t.Fatalf("touch a: %v", err)
	}
	got, ok, err := repo.SessionIndex().Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("get a: ok=%v err=%v", ok, err)
	}
	if got.Summary != "first prompt" {
		t.Fatalf("summary lost on touch: %+v", got)
	}

	listed, err := repo.SessionIndex().List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].SessionID != "b" {
		t.Fatalf("expected most recent first, got %+v", listed)
	}
}
