package events

import "time"

// ScoringRequestEvent asks the external scoring worker for a strategy.
// It carries only non-sensitive questionnaire fields - no name, no
// national id.
type ScoringRequestEvent struct {
	CaseID           string                 `json:"case_id"`
	CustomerID       string                 `json:"customer_id"`
	Score            int                    `json:"score"`
	InvestorType     string                 `json:"investor_type"`
	InvestmentAmount string                 `json:"investment_amount"`
	AnnualIncome     int                    `json:"annual_income"`
	MaxLoss          int                    `json:"max_loss"`
	Occupation       string                 `json:"occupation,omitempty"`
	Answers          map[string]interface{} `json:"answers,omitempty"`
	SubmittedAt      time.Time              `json:"submitted_at"`
}

// ScoringResultEvent is the worker's asynchronous reply. Error set
// means the worker gave up; the case falls back to the claimable pool.
type ScoringResultEvent struct {
	CaseID   string `json:"case_id"`
	Strategy string `json:"strategy,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CaseClaimedEvent struct {
	CaseID     string `json:"case_id"`
	Tier       int    `json:"tier"`
	ReviewerID string `json:"reviewer_id"`
}

type CaseReleasedEvent struct {
	CaseID string `json:"case_id"`
}

type CaseForwardedEvent struct {
	CaseID    string `json:"case_id"`
	FromStage int    `json:"from_stage"`
	ToStage   int    `json:"to_stage"`
}

type CaseFallbackEvent struct {
	CaseID string `json:"case_id"`
	Reason string `json:"reason"`
}
