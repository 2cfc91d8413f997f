package reaper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridianfs/caseflow/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepReleasesStaleClaims(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	stale := &store.Case{CustomerID: uuid.New(), Stage: 1, Status: store.StatusUnassigned}
	if err := ms.CreateCase(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if ok, _ := ms.ConditionalUpdateStatus(ctx, stale.ID, store.StatusUnassigned, store.StatusClaimed, "rev-1"); !ok {
		t.Fatal("seed claim failed")
	}

	time.Sleep(10 * time.Millisecond)

	// Claimed after the sleep; must survive the sweep.
	fresh := &store.Case{CustomerID: uuid.New(), Stage: 1, Status: store.StatusUnassigned}
	if err := ms.CreateCase(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	r := New(ms, nil, nil, discardLogger(), time.Millisecond)
	if ok, _ := ms.ConditionalUpdateStatus(ctx, fresh.ID, store.StatusUnassigned, store.StatusClaimed, "rev-2"); !ok {
		t.Fatal("seed fresh claim failed")
	}
	r.claimTTL = 5 * time.Millisecond
	r.sweep(ctx)

	got, _ := ms.GetCase(ctx, stale.ID)
	if got.Status != store.StatusUnassigned || got.ClaimedBy != "" {
		t.Errorf("expected stale claim released, got %+v", got)
	}
	got, _ = ms.GetCase(ctx, fresh.ID)
	if got.Status != store.StatusClaimed || got.ClaimedBy != "rev-2" {
		t.Errorf("expected fresh claim kept, got %+v", got)
	}
}

func TestSweepEmptyStore(t *testing.T) {
	r := New(store.NewMemoryStore(), nil, nil, discardLogger(), time.Minute)
	r.sweep(context.Background())
}

func TestStartStop(t *testing.T) {
	r := New(store.NewMemoryStore(), nil, nil, discardLogger(), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	r.Stop()
}
