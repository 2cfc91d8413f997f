package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CaseStatus string

const (
	// StatusAwaitingInput marks a case parked while the external scoring
	// step runs; it is not claimable until the result (or a failure
	// fallback) moves it to unassigned.
	StatusAwaitingInput CaseStatus = "awaiting_input"
	StatusUnassigned    CaseStatus = "unassigned"
	StatusClaimed       CaseStatus = "claimed"
	StatusTerminal      CaseStatus = "terminal"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Case is one audit case moving through the reviewer tiers.
// claimed_by is set exactly while status is claimed.
type Case struct {
	ID          uuid.UUID  `json:"case_id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	Stage       int        `json:"stage"`
	Status      CaseStatus `json:"status"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	ScoringNote string     `json:"scoring_note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Customer struct {
	ID           uuid.UUID       `json:"customer_id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	NationalID   string          `json:"national_id"`
	Email        string          `json:"email,omitempty"`
	Occupation   string          `json:"occupation,omitempty"`
	InvestAmount decimal.Decimal `json:"invest_amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RiskProfile is the questionnaire-derived risk assessment for one
// customer. Immutable once written; the core only reads it.
type RiskProfile struct {
	CustomerID           uuid.UUID       `json:"customer_id"`
	AnnualIncome         int             `json:"annual_income"`
	InvestmentAmount     decimal.Decimal `json:"investment_amount"`
	InvestmentExperience string          `json:"investment_experience,omitempty"`
	MaxLoss              int             `json:"max_loss"`
	InvestmentTarget     string          `json:"investment_target,omitempty"`
	InvestmentHorizon    string          `json:"investment_horizon,omitempty"`
	Score                int             `json:"score"`
	CreatedAt            time.Time       `json:"created_at"`
}

// DecisionRecord is one reviewer's submitted opinion at one stage.
// Append-only; ordered by stage ascending for a case's history.
type DecisionRecord struct {
	ID         uuid.UUID `json:"id"`
	CaseID     uuid.UUID `json:"case_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Stage      int       `json:"stage"`
	Score      int       `json:"score"`
	Opinion    string    `json:"opinion,omitempty"`
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"created_at"`
}

type CaseStats struct {
	TotalAwaitingInput int `json:"total_awaiting_input"`
	TotalUnassigned    int `json:"total_unassigned"`
	TotalClaimed       int `json:"total_claimed"`
	TotalTerminal      int `json:"total_terminal"`
	TotalApproved      int `json:"total_approved"`
	TotalRejected      int `json:"total_rejected"`
}

// Store is the persistence boundary for the case pipeline. All status
// transitions are conditional updates keyed on the expected prior
// status: a single atomic statement whose boolean return says whether
// this caller won the row. Concurrent callers racing for the same case
// see exactly one true.
type Store interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id uuid.UUID) (*Case, error)
	GetCasesByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Case, error)

	// FindByTierAndStatus returns up to limit cases at the given stage
	// and status, oldest created first, excluding the given ids.
	FindByTierAndStatus(ctx context.Context, tier int, status CaseStatus, excludeIDs []uuid.UUID, limit int) ([]*Case, error)
	FindClaimedByReviewer(ctx context.Context, tier int, reviewerID string) ([]*Case, error)
	// FindStaleClaims returns claimed cases whose last update is before
	// cutoff, oldest first.
	FindStaleClaims(ctx context.Context, cutoff time.Time) ([]*Case, error)

	// ConditionalUpdateStatus moves a case from expected to next and
	// sets claimed_by to claimant (empty clears it). Returns false if
	// the case was no longer in the expected status.
	ConditionalUpdateStatus(ctx context.Context, caseID uuid.UUID, expected, next CaseStatus, claimant string) (bool, error)
	// ForwardStage moves a claimed case back to unassigned at nextStage,
	// clearing the claimant. Returns false if the case was not claimed.
	ForwardStage(ctx context.Context, caseID uuid.UUID, nextStage int) (bool, error)
	// Terminate moves a claimed case to terminal with the final outcome.
	Terminate(ctx context.Context, caseID uuid.UUID, outcome Outcome) (bool, error)
	// RecordScoringResult stores the external scoring strategy text and
	// releases an awaiting case into the claimable pool.
	RecordScoringResult(ctx context.Context, caseID uuid.UUID, note string) (bool, error)
	// MarkScoringFailed annotates a scoring failure and releases an
	// awaiting case into the claimable pool so it is not stuck.
	MarkScoringFailed(ctx context.Context, caseID uuid.UUID, note string) (bool, error)

	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
	GetCustomers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Customer, error)
	// FindCustomerByPhone and FindCustomerByNationalID return nil when
	// no customer matches.
	FindCustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	FindCustomerByNationalID(ctx context.Context, nationalID string) (*Customer, error)

	CreateRiskProfile(ctx context.Context, p *RiskProfile) error
	GetRiskProfile(ctx context.Context, customerID uuid.UUID) (*RiskProfile, error)
	GetRiskProfiles(ctx context.Context, customerIDs []uuid.UUID) (map[uuid.UUID]*RiskProfile, error)

	CreateDecision(ctx context.Context, d *DecisionRecord) error
	GetDecisions(ctx context.Context, caseID uuid.UUID) ([]*DecisionRecord, error)

	GetStats(ctx context.Context) (*CaseStats, error)

	Close() error
}
