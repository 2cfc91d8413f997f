// Package intake accepts customer risk questionnaires and opens audit
// cases. A new case parks in awaiting_input while the external scoring
// worker produces a strategy note; the worker's reply (or its failure)
// moves the case into the claimable pool.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianfs/caseflow/internal/events"
	"github.com/meridianfs/caseflow/internal/metrics"
	"github.com/meridianfs/caseflow/internal/risk"
	"github.com/meridianfs/caseflow/internal/store"
)

var (
	ErrCustomerExists = errors.New("customer already registered")
	ErrCaseExists     = errors.New("customer already has an open case")
	ErrMissingField   = errors.New("missing required field")
)

// Questionnaire is the intake payload: customer identity plus the
// scored risk answers.
type Questionnaire struct {
	Name                 string                 `json:"name"`
	Phone                string                 `json:"phone"`
	NationalID           string                 `json:"national_id"`
	Email                string                 `json:"email,omitempty"`
	Occupation           string                 `json:"occupation,omitempty"`
	AnnualIncome         int                    `json:"annual_income"`
	InvestmentAmount     decimal.Decimal        `json:"investment_amount"`
	InvestmentExperience string                 `json:"investment_experience,omitempty"`
	MaxLoss              int                    `json:"max_loss"`
	InvestmentTarget     string                 `json:"investment_target,omitempty"`
	InvestmentHorizon    string                 `json:"investment_horizon,omitempty"`
	Score                int                    `json:"score"`
	Answers              map[string]interface{} `json:"answers,omitempty"`
}

// IntakeResult reports the opened case and the classified risk band.
type IntakeResult struct {
	CaseID     uuid.UUID        `json:"case_id"`
	CustomerID uuid.UUID        `json:"customer_id"`
	Category   risk.Category    `json:"category"`
	Status     store.CaseStatus `json:"status"`
}

type Service struct {
	store   store.Store
	events  events.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(s store.Store, ev events.Client, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{store: s, events: ev, metrics: m, logger: logger}
}

// CreateQuestionnaire registers the customer, opens their audit case
// and requests external scoring. A resubmission is rejected before
// anything is written: while the earlier case is still open it fails
// with ErrCaseExists, otherwise the duplicate registration fails with
// ErrCustomerExists. If the scoring request cannot be published the
// case goes straight to the claimable pool instead of waiting on a
// reply that will never come.
func (s *Service) CreateQuestionnaire(ctx context.Context, q *Questionnaire) (*IntakeResult, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	category, err := risk.Classify(q.Score)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindCustomerByPhone(ctx, q.Phone)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if existing, err = s.store.FindCustomerByNationalID(ctx, q.NationalID); err != nil {
			return nil, err
		}
	}
	if existing != nil {
		open, err := s.hasOpenCase(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		if open {
			return nil, fmt.Errorf("%w: customer %s", ErrCaseExists, existing.ID)
		}
		return nil, fmt.Errorf("%w: phone %s", ErrCustomerExists, q.Phone)
	}

	customer := &store.Customer{
		Name:         q.Name,
		Phone:        q.Phone,
		NationalID:   q.NationalID,
		Email:        q.Email,
		Occupation:   q.Occupation,
		InvestAmount: q.InvestmentAmount,
	}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	if err := s.store.CreateRiskProfile(ctx, &store.RiskProfile{
		CustomerID:           customer.ID,
		AnnualIncome:         q.AnnualIncome,
		InvestmentAmount:     q.InvestmentAmount,
		InvestmentExperience: q.InvestmentExperience,
		MaxLoss:              q.MaxLoss,
		InvestmentTarget:     q.InvestmentTarget,
		InvestmentHorizon:    q.InvestmentHorizon,
		Score:                q.Score,
	}); err != nil {
		return nil, err
	}

	c := &store.Case{CustomerID: customer.ID, Stage: 0, Status: store.StatusAwaitingInput}
	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("audit case opened", "case_id", c.ID, "customer_id", customer.ID, "category", category)
	if s.events != nil {
		_ = s.events.Publish(events.SubjectCaseCreated(c.ID.String()), map[string]string{
			"case_id":     c.ID.String(),
			"customer_id": customer.ID.String(),
		})
	}

	status := c.Status
	if err := s.requestScoring(c, customer, q); err != nil {
		// No reply will ever arrive; release the case now.
		s.logger.Warn("scoring request failed, case released to pool", "case_id", c.ID, "error", err)
		if _, ferr := s.store.MarkScoringFailed(ctx, c.ID, "scoring request not delivered"); ferr != nil {
			return nil, ferr
		}
		s.metrics.IncScoringFallbacks()
		status = store.StatusUnassigned
	}

	return &IntakeResult{CaseID: c.ID, CustomerID: customer.ID, Category: category, Status: status}, nil
}

func (s *Service) requestScoring(c *store.Case, customer *store.Customer, q *Questionnaire) error {
	if s.events == nil {
		return errors.New("events client not configured")
	}
	return s.events.Publish(events.SubjectScoringRequest, events.ScoringRequestEvent{
		CaseID:           c.ID.String(),
		CustomerID:       customer.ID.String(),
		Score:            q.Score,
		InvestorType:     q.InvestmentExperience,
		InvestmentAmount: q.InvestmentAmount.String(),
		AnnualIncome:     q.AnnualIncome,
		MaxLoss:          q.MaxLoss,
		Occupation:       q.Occupation,
		Answers:          q.Answers,
		SubmittedAt:      time.Now().UTC(),
	})
}

// SetupSubscriptions wires the scoring-result consumer. Results for
// unknown cases or cases that already left awaiting_input are dropped
// with a warning; replays must not clobber live state.
func (s *Service) SetupSubscriptions(ctx context.Context) error {
	if s.events == nil {
		return nil
	}
	return s.events.Subscribe(events.SubjectScoringResult, func(_ string, data []byte) {
		var ev events.ScoringResultEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Error("malformed scoring result", "error", err)
			return
		}
		s.handleScoringResult(ctx, &ev)
	})
}

func (s *Service) handleScoringResult(ctx context.Context, ev *events.ScoringResultEvent) {
	caseID, err := uuid.Parse(ev.CaseID)
	if err != nil {
		s.logger.Warn("scoring result with bad case id", "case_id", ev.CaseID)
		return
	}
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		s.logger.Error("scoring result lookup failed", "case_id", caseID, "error", err)
		return
	}
	if c == nil {
		s.logger.Warn("scoring result for unknown case dropped", "case_id", caseID)
		return
	}
	if c.Status != store.StatusAwaitingInput {
		s.logger.Warn("stale scoring result dropped", "case_id", caseID, "status", c.Status)
		return
	}

	if ev.Error != "" {
		if _, err := s.store.MarkScoringFailed(ctx, caseID, "scoring failed: "+ev.Error); err != nil {
			s.logger.Error("scoring fallback failed", "case_id", caseID, "error", err)
			return
		}
		s.metrics.IncScoringFallbacks()
		s.logger.Warn("case released after scoring error", "case_id", caseID, "error", ev.Error)
		return
	}

	ok, err := s.store.RecordScoringResult(ctx, caseID, ev.Strategy)
	if err != nil {
		s.logger.Error("failed to record scoring result", "case_id", caseID, "error", err)
		return
	}
	if !ok {
		s.logger.Warn("scoring result lost race with fallback", "case_id", caseID)
		return
	}
	s.logger.Info("scoring result recorded, case claimable", "case_id", caseID)
}

func (s *Service) hasOpenCase(ctx context.Context, customerID uuid.UUID) (bool, error) {
	cases, err := s.store.GetCasesByCustomer(ctx, customerID)
	if err != nil {
		return false, err
	}
	for _, c := range cases {
		if c.Status != store.StatusTerminal {
			return true, nil
		}
	}
	return false, nil
}

func (q *Questionnaire) validate() error {
	switch {
	case q.Name == "":
		return fmt.Errorf("%w: name", ErrMissingField)
	case q.Phone == "":
		return fmt.Errorf("%w: phone", ErrMissingField)
	case q.NationalID == "":
		return fmt.Errorf("%w: national_id", ErrMissingField)
	}
	return nil
}
