package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/meridianfs/caseflow/internal/risk"
	"github.com/meridianfs/caseflow/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecideTable(t *testing.T) {
	tests := []struct {
		name      string
		tier      int
		approved  bool
		category  risk.Category
		terminal  bool
		outcome   store.Outcome
		nextStage int
		wantErr   error
	}{
		{"rejection at tier 0", 0, false, risk.Conservative, true, store.OutcomeRejected, 0, nil},
		{"rejection at tier 2", 2, false, risk.Aggressive, true, store.OutcomeRejected, 0, nil},
		{"rejection at tier 3", 3, false, risk.Balanced, true, store.OutcomeRejected, 0, nil},
		{"tier 0 forwards", 0, true, risk.Conservative, false, "", 1, nil},
		{"tier 0 forwards aggressive", 0, true, risk.Aggressive, false, "", 1, nil},
		{"tier 1 conservative approves", 1, true, risk.Conservative, true, store.OutcomeApproved, 0, nil},
		{"tier 1 balanced forwards", 1, true, risk.Balanced, false, "", 2, nil},
		{"tier 1 aggressive forwards", 1, true, risk.Aggressive, false, "", 2, nil},
		{"tier 2 balanced approves", 2, true, risk.Balanced, true, store.OutcomeApproved, 0, nil},
		{"tier 2 aggressive forwards", 2, true, risk.Aggressive, false, "", 3, nil},
		{"tier 2 conservative is illegal", 2, true, risk.Conservative, false, "", 0, ErrIllegalWorkflowState},
		{"tier 3 approves", 3, true, risk.Aggressive, true, store.OutcomeApproved, 0, nil},
		{"unknown tier is illegal", 5, true, risk.Balanced, false, "", 0, ErrIllegalWorkflowState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.tier, tt.approved, tt.category)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Terminal != tt.terminal || got.Outcome != tt.outcome || got.NextStage != tt.nextStage {
				t.Errorf("got %+v, want terminal=%v outcome=%s next=%d", got, tt.terminal, tt.outcome, tt.nextStage)
			}
		})
	}
}

type recordingNotifier struct {
	notified []uuid.UUID
	err      error
}

func (n *recordingNotifier) NotifyCompletion(_ context.Context, c *store.Case) error {
	n.notified = append(n.notified, c.ID)
	return n.err
}

func seedClaimedCase(t *testing.T, s store.Store, tier, score int, reviewerID string) *store.Case {
	t.Helper()
	ctx := context.Background()
	cust := &store.Customer{Name: "customer", Phone: uuid.NewString(), NationalID: uuid.NewString()}
	if err := s.CreateCustomer(ctx, cust); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRiskProfile(ctx, &store.RiskProfile{CustomerID: cust.ID, Score: score}); err != nil {
		t.Fatal(err)
	}
	c := &store.Case{CustomerID: cust.ID, Stage: tier, Status: store.StatusUnassigned}
	if err := s.CreateCase(ctx, c); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.ConditionalUpdateStatus(ctx, c.ID, store.StatusUnassigned, store.StatusClaimed, reviewerID); err != nil || !ok {
		t.Fatalf("seed claim: ok=%v err=%v", ok, err)
	}
	c.Status = store.StatusClaimed
	c.ClaimedBy = reviewerID
	return c
}

func TestSubmitForwardsCase(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, nil, nil, nil, discardLogger())
	ctx := context.Background()
	c := seedClaimedCase(t, ms, 0, 50, "rev-1")

	res, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 0, Approved: true, Opinion: "documents in order"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Terminal || res.NextStage != 1 {
		t.Errorf("expected forward to stage 1, got %+v", res)
	}

	stored, _ := ms.GetCase(ctx, c.ID)
	if stored.Stage != 1 || stored.Status != store.StatusUnassigned || stored.ClaimedBy != "" {
		t.Errorf("expected unassigned at stage 1, got %+v", stored)
	}
	decisions, _ := ms.GetDecisions(ctx, c.ID)
	if len(decisions) != 1 || decisions[0].Stage != 0 || !decisions[0].Approved {
		t.Errorf("expected one approval record at stage 0, got %+v", decisions)
	}
}

func TestSubmitFinalizesAndNotifies(t *testing.T) {
	ms := store.NewMemoryStore()
	rn := &recordingNotifier{}
	svc := NewService(ms, nil, rn, nil, discardLogger())
	ctx := context.Background()
	c := seedClaimedCase(t, ms, 1, 35, "rev-1") // conservative, stops here

	res, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 1, Approved: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Terminal || res.Outcome != store.OutcomeApproved || res.NotifyWarning != "" {
		t.Errorf("expected approved terminal, got %+v", res)
	}
	if len(rn.notified) != 1 || rn.notified[0] != c.ID {
		t.Errorf("expected one notification for %s, got %v", c.ID, rn.notified)
	}

	stored, _ := ms.GetCase(ctx, c.ID)
	if stored.Status != store.StatusTerminal || stored.Outcome != store.OutcomeApproved {
		t.Errorf("expected terminal approved, got %+v", stored)
	}
}

func TestSubmitRejectionTerminates(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, nil, nil, nil, discardLogger())
	ctx := context.Background()
	c := seedClaimedCase(t, ms, 0, 90, "rev-1")

	res, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 0, Approved: false, Opinion: "income unverifiable"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Terminal || res.Outcome != store.OutcomeRejected {
		t.Errorf("expected rejected terminal, got %+v", res)
	}
}

func TestSubmitNotifyFailureIsNonFatal(t *testing.T) {
	ms := store.NewMemoryStore()
	rn := &recordingNotifier{err: errors.New("broker unavailable")}
	svc := NewService(ms, nil, rn, nil, discardLogger())
	ctx := context.Background()
	c := seedClaimedCase(t, ms, 3, 90, "rev-1")

	res, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 3, Approved: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Terminal || res.Outcome != store.OutcomeApproved {
		t.Errorf("expected approved terminal, got %+v", res)
	}
	if res.NotifyWarning == "" {
		t.Error("expected notify warning on result")
	}
	stored, _ := ms.GetCase(ctx, c.ID)
	if stored.Status != store.StatusTerminal {
		t.Errorf("notification failure must not roll back, got %+v", stored)
	}
}

func TestSubmitValidation(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, nil, nil, nil, discardLogger())
	ctx := context.Background()

	t.Run("unknown case", func(t *testing.T) {
		_, err := svc.Submit(ctx, Submission{CaseID: uuid.New(), ReviewerID: "rev-1", Tier: 0, Approved: true})
		if !errors.Is(err, ErrCaseNotFound) {
			t.Errorf("expected ErrCaseNotFound, got %v", err)
		}
	})

	t.Run("wrong reviewer", func(t *testing.T) {
		c := seedClaimedCase(t, ms, 0, 50, "rev-1")
		_, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-2", Tier: 0, Approved: true})
		if !errors.Is(err, ErrNotClaimed) {
			t.Errorf("expected ErrNotClaimed, got %v", err)
		}
	})

	t.Run("unclaimed case", func(t *testing.T) {
		cust := &store.Customer{Name: "c", Phone: uuid.NewString(), NationalID: uuid.NewString()}
		_ = ms.CreateCustomer(ctx, cust)
		_ = ms.CreateRiskProfile(ctx, &store.RiskProfile{CustomerID: cust.ID, Score: 50})
		c := &store.Case{CustomerID: cust.ID, Stage: 0, Status: store.StatusUnassigned}
		_ = ms.CreateCase(ctx, c)
		_, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 0, Approved: true})
		if !errors.Is(err, ErrNotClaimed) {
			t.Errorf("expected ErrNotClaimed, got %v", err)
		}
	})

	t.Run("tier mismatch", func(t *testing.T) {
		c := seedClaimedCase(t, ms, 1, 50, "rev-1")
		_, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 2, Approved: true})
		if !errors.Is(err, ErrTierMismatch) {
			t.Errorf("expected ErrTierMismatch, got %v", err)
		}
	})

	t.Run("terminal case is immutable", func(t *testing.T) {
		c := seedClaimedCase(t, ms, 3, 90, "rev-1")
		if _, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 3, Approved: true}); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		before, _ := ms.GetDecisions(ctx, c.ID)

		_, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 3, Approved: false})
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
		after, _ := ms.GetDecisions(ctx, c.ID)
		if len(after) != len(before) {
			t.Errorf("rejected submission must not append a decision record: %d -> %d", len(before), len(after))
		}
	})
}

// claimStealingStore releases the claim during the profile read, the
// window a timeout sweep or manual release would hit on a live system.
type claimStealingStore struct {
	store.Store
	caseID uuid.UUID
}

func (s *claimStealingStore) GetRiskProfile(ctx context.Context, customerID uuid.UUID) (*store.RiskProfile, error) {
	if _, err := s.Store.ConditionalUpdateStatus(ctx, s.caseID, store.StatusClaimed, store.StatusUnassigned, ""); err != nil {
		return nil, err
	}
	return s.Store.GetRiskProfile(ctx, customerID)
}

func TestSubmitLostClaimLeavesNoDecisionRecord(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	c := seedClaimedCase(t, ms, 0, 50, "rev-1")
	svc := NewService(&claimStealingStore{Store: ms, caseID: c.ID}, nil, nil, nil, discardLogger())

	_, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 0, Approved: true, Opinion: "documents in order"})
	if !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed, got %v", err)
	}

	decisions, _ := ms.GetDecisions(ctx, c.ID)
	if len(decisions) != 0 {
		t.Errorf("lost submission wrote %d decision record(s)", len(decisions))
	}
	stored, _ := ms.GetCase(ctx, c.ID)
	if stored.Status != store.StatusUnassigned || stored.Stage != 0 {
		t.Errorf("expected unassigned at stage 0 after the steal, got %+v", stored)
	}
}

func TestSubmitIllegalState(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, nil, nil, nil, discardLogger())
	ctx := context.Background()
	// Conservative case at tier 2 cannot arise from normal routing.
	c := seedClaimedCase(t, ms, 2, 20, "rev-1")

	_, err := svc.Submit(ctx, Submission{CaseID: c.ID, ReviewerID: "rev-1", Tier: 2, Approved: true})
	if !errors.Is(err, ErrIllegalWorkflowState) {
		t.Errorf("expected ErrIllegalWorkflowState, got %v", err)
	}
}
