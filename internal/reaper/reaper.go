// Package reaper sweeps claims that reviewers walked away from. A case
// left in claimed past the configured TTL goes back to the pool so the
// rest of the tier can pick it up.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridianfs/caseflow/internal/events"
	"github.com/meridianfs/caseflow/internal/metrics"
	"github.com/meridianfs/caseflow/internal/store"
)

type Reaper struct {
	store    store.Store
	events   events.Client
	metrics  *metrics.Metrics
	logger   *slog.Logger
	claimTTL time.Duration
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(s store.Store, ev events.Client, m *metrics.Metrics, logger *slog.Logger, claimTTL time.Duration) *Reaper {
	if claimTTL <= 0 {
		claimTTL = 30 * time.Minute
	}
	return &Reaper{
		store:    s,
		events:   ev,
		metrics:  m,
		logger:   logger,
		claimTTL: claimTTL,
		interval: 30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Reaper) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	stale, err := r.store.FindStaleClaims(ctx, time.Now().Add(-r.claimTTL))
	if err != nil {
		r.logger.Error("failed to list stale claims", "error", err)
		return
	}

	for _, c := range stale {
		// Conditional release; a reviewer submitting right now wins.
		ok, err := r.store.ConditionalUpdateStatus(ctx, c.ID, store.StatusClaimed, store.StatusUnassigned, "")
		if err != nil {
			r.logger.Error("failed to release stale claim", "case_id", c.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		r.metrics.IncClaimsReclaimed()
		r.logger.Warn("stale claim released", "case_id", c.ID, "reviewer", c.ClaimedBy, "claimed_for", time.Since(c.UpdatedAt).Round(time.Second))
		if r.events != nil {
			_ = r.events.Publish(events.SubjectCaseReleased(c.ID.String()), events.CaseReleasedEvent{
				CaseID: c.ID.String(),
			})
		}
	}
}
