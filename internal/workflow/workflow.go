// Package workflow advances audit cases through the reviewer tiers.
// The routing is a fixed decision table over (tier, approval, risk
// category); Decide is pure and Service.Submit applies its outcome to
// the store with conditional transitions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridianfs/caseflow/internal/events"
	"github.com/meridianfs/caseflow/internal/metrics"
	"github.com/meridianfs/caseflow/internal/risk"
	"github.com/meridianfs/caseflow/internal/store"
)

var (
	ErrCaseNotFound = errors.New("case not found")
	// ErrInvalidState marks a submission against a case that already
	// reached a terminal outcome.
	ErrInvalidState = errors.New("case already finalized")
	ErrNotClaimed   = errors.New("case is not claimed by this reviewer")
	ErrTierMismatch = errors.New("case is not at this reviewer tier")
	// ErrIllegalWorkflowState marks a (tier, category) combination the
	// routing table can never produce; seeing one means stored data was
	// corrupted outside the pipeline.
	ErrIllegalWorkflowState = errors.New("illegal workflow state")
)

// Decision is the routing outcome for one submitted review.
type Decision struct {
	Terminal  bool
	Outcome   store.Outcome
	NextStage int
}

// Decide routes a review by tier, approval and risk category.
// Rejection terminates at any tier. Conservative customers stop after
// tier 1, balanced after tier 2, aggressive after tier 3; tier 2 can
// therefore never hold a conservative case.
func Decide(tier int, approved bool, category risk.Category) (Decision, error) {
	if !approved {
		return Decision{Terminal: true, Outcome: store.OutcomeRejected}, nil
	}
	switch tier {
	case 0:
		return Decision{NextStage: 1}, nil
	case 1:
		if category == risk.Conservative {
			return Decision{Terminal: true, Outcome: store.OutcomeApproved}, nil
		}
		return Decision{NextStage: 2}, nil
	case 2:
		switch category {
		case risk.Balanced:
			return Decision{Terminal: true, Outcome: store.OutcomeApproved}, nil
		case risk.Aggressive:
			return Decision{NextStage: 3}, nil
		default:
			return Decision{}, fmt.Errorf("%w: %s case at tier 2", ErrIllegalWorkflowState, category)
		}
	case 3:
		return Decision{Terminal: true, Outcome: store.OutcomeApproved}, nil
	default:
		return Decision{}, fmt.Errorf("%w: tier %d", ErrIllegalWorkflowState, tier)
	}
}

// CompletionNotifier publishes the terminal summary for a finished
// case. Implemented by notify.Notifier.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, c *store.Case) error
}

// Submission is one reviewer's verdict on a claimed case.
type Submission struct {
	CaseID     uuid.UUID
	ReviewerID string
	Tier       int
	Approved   bool
	Opinion    string
}

// SubmissionResult reports where the case went. NotifyWarning carries a
// completion-notification failure; the decision itself stood.
type SubmissionResult struct {
	Terminal      bool          `json:"terminal"`
	Outcome       store.Outcome `json:"outcome,omitempty"`
	NextStage     int           `json:"next_stage,omitempty"`
	NotifyWarning string        `json:"notify_warning,omitempty"`
}

type Service struct {
	store    store.Store
	events   events.Client
	notifier CompletionNotifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(s store.Store, ev events.Client, n CompletionNotifier, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{store: s, events: ev, notifier: n, metrics: m, logger: logger}
}

// Submit records a reviewer's verdict and advances or terminates the
// case. The conditional transition decides whether this submission
// still owns the case; the decision record is appended only when it
// does, so a submission that loses the case to a concurrent release
// reports ErrNotClaimed and leaves the audit trail untouched.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmissionResult, error) {
	c, err := s.store.GetCase(ctx, sub.CaseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	if c.Status == store.StatusTerminal {
		return nil, fmt.Errorf("%w: outcome %s", ErrInvalidState, c.Outcome)
	}
	if c.Status != store.StatusClaimed || c.ClaimedBy != sub.ReviewerID {
		return nil, ErrNotClaimed
	}
	if c.Stage != sub.Tier {
		return nil, fmt.Errorf("%w: case at stage %d, submission for tier %d", ErrTierMismatch, c.Stage, sub.Tier)
	}

	profile, err := s.store.GetRiskProfile(ctx, c.CustomerID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: case %s has no risk profile", ErrIllegalWorkflowState, c.ID)
	}
	category, err := risk.Classify(profile.Score)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalWorkflowState, err)
	}

	decision, err := Decide(sub.Tier, sub.Approved, category)
	if err != nil {
		return nil, err
	}

	record := &store.DecisionRecord{
		CaseID:     c.ID,
		CustomerID: c.CustomerID,
		Stage:      sub.Tier,
		Score:      profile.Score,
		Opinion:    sub.Opinion,
		Approved:   sub.Approved,
	}
	if decision.Terminal {
		return s.finalize(ctx, c, decision, record)
	}
	return s.forward(ctx, c, decision, record)
}

func (s *Service) forward(ctx context.Context, c *store.Case, d Decision, record *store.DecisionRecord) (*SubmissionResult, error) {
	ok, err := s.store.ForwardStage(ctx, c.ID, d.NextStage)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotClaimed
	}
	if err := s.store.CreateDecision(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info("case forwarded", "case_id", c.ID, "from_stage", c.Stage, "to_stage", d.NextStage)
	if s.events != nil {
		_ = s.events.Publish(events.SubjectCaseForwarded(c.ID.String()), events.CaseForwardedEvent{
			CaseID:    c.ID.String(),
			FromStage: c.Stage,
			ToStage:   d.NextStage,
		})
	}
	return &SubmissionResult{NextStage: d.NextStage}, nil
}

func (s *Service) finalize(ctx context.Context, c *store.Case, d Decision, record *store.DecisionRecord) (*SubmissionResult, error) {
	ok, err := s.store.Terminate(ctx, c.ID, d.Outcome)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotClaimed
	}
	if err := s.store.CreateDecision(ctx, record); err != nil {
		return nil, err
	}
	s.metrics.IncTerminal(string(d.Outcome))
	s.logger.Info("case finalized", "case_id", c.ID, "outcome", d.Outcome, "stage", c.Stage)

	result := &SubmissionResult{Terminal: true, Outcome: d.Outcome}
	if s.notifier != nil {
		final := *c
		final.Status = store.StatusTerminal
		final.Outcome = d.Outcome
		if err := s.notifier.NotifyCompletion(ctx, &final); err != nil {
			// The outcome stands; delivery is retried out of band, not here.
			s.metrics.IncNotifyFailures()
			s.logger.Error("completion notification failed", "case_id", c.ID, "error", err)
			result.NotifyWarning = err.Error()
		}
	}
	if s.events != nil {
		_ = s.events.Publish(events.SubjectCaseCompleted(c.ID.String()), map[string]string{
			"case_id": c.ID.String(),
			"outcome": string(d.Outcome),
		})
	}
	return result, nil
}
