// Package notify publishes terminal case summaries for downstream
// consumers (statements, customer messaging, compliance archive).
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianfs/caseflow/internal/events"
	"github.com/meridianfs/caseflow/internal/risk"
	"github.com/meridianfs/caseflow/internal/store"
)

var ErrDeliveryFailed = errors.New("completion notification delivery failed")

var stageNames = map[int]string{
	0: "junior review",
	1: "intermediate review",
	2: "senior review",
	3: "investment committee",
}

// StageName returns the human label for a reviewer tier.
func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return fmt.Sprintf("stage %d", stage)
}

// Summary is the published completion record. Decisions are ordered by
// stage ascending, mirroring the path the case took.
type Summary struct {
	MessageID   string            `json:"message_id"`
	CaseID      string            `json:"case_id"`
	CustomerID  string            `json:"customer_id"`
	Customer    string            `json:"customer,omitempty"`
	Outcome     store.Outcome     `json:"outcome"`
	FinalStage  string            `json:"final_stage"`
	Score       int               `json:"score"`
	Category    risk.Category     `json:"category,omitempty"`
	Decisions   []SummaryDecision `json:"decisions"`
	CompletedAt time.Time         `json:"completed_at"`
}

type SummaryDecision struct {
	Stage    string `json:"stage"`
	Approved bool   `json:"approved"`
	Opinion  string `json:"opinion,omitempty"`
}

type Notifier struct {
	store  store.Store
	events events.Client
	logger *slog.Logger
}

func New(s store.Store, ev events.Client, logger *slog.Logger) *Notifier {
	return &Notifier{store: s, events: ev, logger: logger}
}

// NotifyCompletion assembles and publishes the summary for a finished
// case. Errors wrap ErrDeliveryFailed; callers treat them as warnings,
// never as a reason to undo the case outcome.
func (n *Notifier) NotifyCompletion(ctx context.Context, c *store.Case) error {
	summary, err := n.buildSummary(ctx, c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if n.events == nil {
		n.logger.Warn("events client not configured, completion summary dropped", "case_id", c.ID)
		return fmt.Errorf("%w: no events client", ErrDeliveryFailed)
	}
	if err := n.events.Publish(events.SubjectCompletion, summary); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	n.logger.Info("completion summary published", "case_id", c.ID, "outcome", c.Outcome, "message_id", summary.MessageID)
	return nil
}

func (n *Notifier) buildSummary(ctx context.Context, c *store.Case) (*Summary, error) {
	summary := &Summary{
		MessageID:   uuid.NewString(),
		CaseID:      c.ID.String(),
		CustomerID:  c.CustomerID.String(),
		Outcome:     c.Outcome,
		FinalStage:  StageName(c.Stage),
		CompletedAt: time.Now().UTC(),
	}

	customer, err := n.store.GetCustomer(ctx, c.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		summary.Customer = customer.Name
	}

	profile, err := n.store.GetRiskProfile(ctx, c.CustomerID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		summary.Score = profile.Score
		if category, err := risk.Classify(profile.Score); err == nil {
			summary.Category = category
		}
	}

	decisions, err := n.store.GetDecisions(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	summary.Decisions = make([]SummaryDecision, 0, len(decisions))
	for _, d := range decisions {
		summary.Decisions = append(summary.Decisions, SummaryDecision{
			Stage:    StageName(d.Stage),
			Approved: d.Approved,
			Opinion:  d.Opinion,
		})
	}
	return summary, nil
}
