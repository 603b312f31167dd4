package pattern_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/greenlight-sh/greenlight/internal/pattern"
	"github.com/greenlight-sh/greenlight/internal/testutil"
)

func TestPostgresStore_RecordOutcomeUpsert(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := pattern.NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	// First observation inserts the row.
	st, err := store.RecordOutcome(ctx, "fp-upsert", "file_write", true, now)
	if err != nil {
		t.Fatalf("first outcome: %v", err)
	}
	if st.SuccessCount != 1 || st.FailureCount != 0 {
		t.Errorf("expected 1/0, got %d/%d", st.SuccessCount, st.FailureCount)
	}
	if st.LastSuccessAt == nil {
		t.Error("expected last_success_at to be set on success")
	}

	// A failure increments without touching last_success_at.
	st, err = store.RecordOutcome(ctx, "fp-upsert", "file_write", false, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second outcome: %v", err)
	}
	if st.SuccessCount != 1 || st.FailureCount != 1 {
		t.Errorf("expected 1/1, got %d/%d", st.SuccessCount, st.FailureCount)
	}
	if st.LastSuccessAt == nil || !st.LastSuccessAt.Equal(now) {
		t.Errorf("failure must not move last_success_at: %v", st.LastSuccessAt)
	}
}

func TestPostgresStore_GetAndUpdateConfidence(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := pattern.NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if _, err := store.Get(ctx, "fp-missing"); !errors.Is(err, pattern.ErrNoHistory) {
		t.Errorf("unknown fingerprint must return ErrNoHistory, got %v", err)
	}
	if err := store.UpdateConfidence(ctx, "fp-missing", 0.9); !errors.Is(err, pattern.ErrNoHistory) {
		t.Errorf("updating unknown fingerprint must return ErrNoHistory, got %v", err)
	}

	if _, err := store.RecordOutcome(ctx, "fp-conf", "file_read", true, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.UpdateConfidence(ctx, "fp-conf", 0.724); err != nil {
		t.Fatalf("update confidence: %v", err)
	}

	st, err := store.Get(ctx, "fp-conf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.ConfidenceScore != 0.724 {
		t.Errorf("expected cached score 0.724, got %v", st.ConfidenceScore)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) == 0 {
		t.Error("expected at least one row from All")
	}
}
