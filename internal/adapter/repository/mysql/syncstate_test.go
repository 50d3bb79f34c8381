package mysql

import (
	"context"
	"testing"

	"spv-ledger/internal/testutil/dbtest"
)

func TestSyncState_CursorMonotonic(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewSyncStateRepository(db)
	ctx := context.Background()

	if got, err := repo.LastSynced(ctx, "s"); err != nil || got != 0 {
		t.Fatalf("fresh stream = %d, %v", got, err)
	}
	if err := repo.Advance(ctx, "s", 100); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := repo.Advance(ctx, "s", 90); err != nil {
		t.Fatalf("Advance backwards: %v", err)
	}
	if got, _ := repo.LastSynced(ctx, "s"); got != 100 {
		t.Fatalf("cursor moved backwards: %d", got)
	}
	if err := repo.Advance(ctx, "s", 120); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got, _ := repo.LastSynced(ctx, "s"); got != 120 {
		t.Fatalf("cursor = %d, want 120", got)
	}
	// streams are independent
	if got, _ := repo.LastSynced(ctx, "other"); got != 0 {
		t.Fatalf("other stream = %d, want 0", got)
	}

	if err := repo.Reset(ctx, "s"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got, _ := repo.LastSynced(ctx, "s"); got != 0 {
		t.Fatalf("cursor after reset = %d", got)
	}
}

func TestSyncState_ProcessedLedger(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewSyncStateRepository(db)
	ctx := context.Background()

	created, err := repo.MarkProcessed(ctx, "s", "0xABC", 10)
	if err != nil || !created {
		t.Fatalf("first MarkProcessed: %v %v", created, err)
	}
	created, err = repo.MarkProcessed(ctx, "s", "0xabc", 10)
	if err != nil || created {
		t.Fatalf("duplicate MarkProcessed should report false: %v %v", created, err)
	}
	if ok, _ := repo.IsProcessed(ctx, "s", "0xAbC"); !ok {
		t.Fatalf("IsProcessed should be case-insensitive on hash")
	}
	if ok, _ := repo.IsProcessed(ctx, "other", "0xabc"); ok {
		t.Fatalf("ledger must be per stream")
	}

	n, err := repo.PurgeProcessed(ctx, "s")
	if err != nil || n != 1 {
		t.Fatalf("PurgeProcessed = %d, %v", n, err)
	}
	if ok, _ := repo.IsProcessed(ctx, "s", "0xabc"); ok {
		t.Fatalf("still processed after purge")
	}
}
