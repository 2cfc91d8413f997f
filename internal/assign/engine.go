// Package assign hands out bounded batches of audit cases to reviewer
// tiers. Claims are optimistic: each candidate row is taken with a
// compare-and-set on its status, and the engine re-queries afterwards
// to learn which rows it actually won. No case is ever held by two
// reviewers at once.
package assign

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridianfs/caseflow/internal/events"
	"github.com/meridianfs/caseflow/internal/metrics"
	"github.com/meridianfs/caseflow/internal/risk"
	"github.com/meridianfs/caseflow/internal/store"
)

var ErrInvalidTier = errors.New("reviewer tier must be between 0 and 3")

// ClaimedCase is one claimed case enriched with the customer and risk
// data a reviewer needs on screen.
type ClaimedCase struct {
	Case     *store.Case     `json:"case"`
	Customer *store.Customer `json:"customer,omitempty"`
	Score    int             `json:"score"`
	Category risk.Category   `json:"category"`
}

type Engine struct {
	store    store.Store
	events   events.Client
	metrics  *metrics.Metrics
	logger   *slog.Logger
	maxBatch int
}

func New(s store.Store, ev events.Client, m *metrics.Metrics, logger *slog.Logger, maxBatch int) *Engine {
	if maxBatch <= 0 {
		maxBatch = 10
	}
	return &Engine{store: s, events: ev, metrics: m, logger: logger, maxBatch: maxBatch}
}

// Claim returns the union of cases already held by reviewerID at this
// tier and newly won cases, oldest first, capped at batchSize. A lost
// race with a concurrent claimer is not an error; the engine moves on
// to the next-oldest candidate until the batch is full or the pool is
// exhausted, so the batch only comes back short when there genuinely
// is not enough unassigned work.
func (e *Engine) Claim(ctx context.Context, tier int, reviewerID string, excludeIDs []uuid.UUID, batchSize int) ([]ClaimedCase, error) {
	if tier < 0 || tier > 3 {
		return nil, ErrInvalidTier
	}
	if batchSize <= 0 || batchSize > e.maxBatch {
		batchSize = e.maxBatch
	}

	// Idempotent re-poll: cases from an earlier partial claim count
	// against the batch before any new rows are taken.
	held, err := e.store.FindClaimedByReviewer(ctx, tier, reviewerID)
	if err != nil {
		return nil, err
	}

	if slots := batchSize - len(held); slots > 0 {
		// Attempted ids are carried into the next selection so a lost
		// row is never re-read; the loop keeps pulling the next-oldest
		// candidates until the batch fills or the pool runs dry.
		attempted := append([]uuid.UUID(nil), excludeIDs...)
		won := 0
		for won < slots {
			candidates, err := e.store.FindByTierAndStatus(ctx, tier, store.StatusUnassigned, attempted, slots-won)
			if err != nil {
				return nil, err
			}
			if len(candidates) == 0 {
				break
			}
			for _, c := range candidates {
				attempted = append(attempted, c.ID)
				ok, err := e.store.ConditionalUpdateStatus(ctx, c.ID, store.StatusUnassigned, store.StatusClaimed, reviewerID)
				if err != nil {
					return nil, err
				}
				if !ok {
					// Lost the race for this row; the winner has it.
					e.metrics.IncClaimConflicts()
					continue
				}
				won++
				if e.events != nil {
					_ = e.events.Publish(events.SubjectCaseClaimed(c.ID.String()), events.CaseClaimedEvent{
						CaseID:     c.ID.String(),
						Tier:       tier,
						ReviewerID: reviewerID,
					})
				}
			}
		}
		e.metrics.IncClaims(won)

		// The conditional writes decide ownership; re-query rather than
		// trusting the candidate list.
		held, err = e.store.FindClaimedByReviewer(ctx, tier, reviewerID)
		if err != nil {
			return nil, err
		}
	}

	if len(held) > batchSize {
		held = held[:batchSize]
	}

	e.logger.Info("claim serviced", "tier", tier, "reviewer", reviewerID, "count", len(held))
	return e.enrich(ctx, held)
}

// Release puts a claimed case back in the pool and clears the
// claimant. Returns false if the case was not claimed.
func (e *Engine) Release(ctx context.Context, caseID uuid.UUID) (bool, error) {
	ok, err := e.store.ConditionalUpdateStatus(ctx, caseID, store.StatusClaimed, store.StatusUnassigned, "")
	if err != nil {
		return false, err
	}
	if !ok {
		e.logger.Warn("release skipped, case not claimed", "case_id", caseID)
		return false, nil
	}
	e.logger.Info("case released", "case_id", caseID)
	if e.events != nil {
		_ = e.events.Publish(events.SubjectCaseReleased(caseID.String()), events.CaseReleasedEvent{
			CaseID: caseID.String(),
		})
	}
	return true, nil
}

// FallbackOnScoringFailure forces a case stuck behind a failed external
// scoring step back into the claimable pool, with the failure recorded
// on the case.
func (e *Engine) FallbackOnScoringFailure(ctx context.Context, caseID uuid.UUID, reason string) (bool, error) {
	if reason == "" {
		reason = "external scoring failed, pending retry"
	}
	ok, err := e.store.MarkScoringFailed(ctx, caseID, reason)
	if err != nil {
		return false, err
	}
	if !ok {
		e.logger.Warn("scoring fallback skipped, case not awaiting input", "case_id", caseID)
		return false, nil
	}
	e.metrics.IncScoringFallbacks()
	e.logger.Warn("case returned to pool after scoring failure", "case_id", caseID, "reason", reason)
	if e.events != nil {
		_ = e.events.Publish(events.SubjectCaseFallback(caseID.String()), events.CaseFallbackEvent{
			CaseID: caseID.String(),
			Reason: reason,
		})
	}
	return true, nil
}

func (e *Engine) enrich(ctx context.Context, cases []*store.Case) ([]ClaimedCase, error) {
	out := make([]ClaimedCase, 0, len(cases))
	if len(cases) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(cases))
	for _, c := range cases {
		ids = append(ids, c.CustomerID)
	}
	customers, err := e.store.GetCustomers(ctx, ids)
	if err != nil {
		return nil, err
	}
	profiles, err := e.store.GetRiskProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, c := range cases {
		profile := profiles[c.CustomerID]
		if profile == nil {
			e.logger.Warn("claimed case missing risk profile", "case_id", c.ID, "customer_id", c.CustomerID)
			continue
		}
		category, err := risk.Classify(profile.Score)
		if err != nil {
			e.logger.Warn("claimed case has invalid risk score", "case_id", c.ID, "score", profile.Score)
			continue
		}
		out = append(out, ClaimedCase{
			Case:     c,
			Customer: customers[c.CustomerID],
			Score:    profile.Score,
			Category: category,
		})
	}
	return out, nil
}
