package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const caseColumns = `case_id, customer_id, stage, status, claimed_by, outcome, scoring_note,
	created_at, updated_at`

func (s *PostgresStore) CreateCase(ctx context.Context, c *Case) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO audit_cases (customer_id, stage, status, scoring_note)
		VALUES ($1, $2, $3, $4)
		RETURNING case_id, created_at, updated_at`,
		c.CustomerID, c.Stage, c.Status, c.ScoringNote,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (s *PostgresStore) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+caseColumns+`
		FROM audit_cases WHERE case_id = $1`, id)
	c, err := scanCase(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) GetCasesByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Case, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+caseColumns+`
		FROM audit_cases WHERE customer_id = $1
		ORDER BY created_at ASC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (s *PostgresStore) FindByTierAndStatus(ctx context.Context, tier int, status CaseStatus, excludeIDs []uuid.UUID, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 10
	}
	if excludeIDs == nil {
		excludeIDs = []uuid.UUID{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+caseColumns+`
		FROM audit_cases
		WHERE stage = $1 AND status = $2 AND NOT (case_id = ANY($3))
		ORDER BY created_at ASC
		LIMIT $4`, tier, status, excludeIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (s *PostgresStore) FindClaimedByReviewer(ctx context.Context, tier int, reviewerID string) ([]*Case, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+caseColumns+`
		FROM audit_cases
		WHERE stage = $1 AND status = 'claimed' AND claimed_by = $2
		ORDER BY created_at ASC`, tier, reviewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (s *PostgresStore) FindStaleClaims(ctx context.Context, cutoff time.Time) ([]*Case, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+caseColumns+`
		FROM audit_cases
		WHERE status = 'claimed' AND updated_at < $1
		ORDER BY updated_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCases(rows)
}

func (s *PostgresStore) ConditionalUpdateStatus(ctx context.Context, caseID uuid.UUID, expected, next CaseStatus, claimant string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE audit_cases
		SET status = $3, claimed_by = NULLIF($4, ''), updated_at = now()
		WHERE case_id = $1 AND status = $2`,
		caseID, expected, next, claimant)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ForwardStage(ctx context.Context, caseID uuid.UUID, nextStage int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE audit_cases
		SET status = 'unassigned', stage = $2, claimed_by = NULL, updated_at = now()
		WHERE case_id = $1 AND status = 'claimed'`,
		caseID, nextStage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Terminate(ctx context.Context, caseID uuid.UUID, outcome Outcome) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE audit_cases
		SET status = 'terminal', outcome = $2, claimed_by = NULL, updated_at = now()
		WHERE case_id = $1 AND status = 'claimed'`,
		caseID, outcome)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordScoringResult(ctx context.Context, caseID uuid.UUID, note string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE audit_cases
		SET status = 'unassigned', scoring_note = $2, updated_at = now()
		WHERE case_id = $1 AND status = 'awaiting_input'`,
		caseID, note)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkScoringFailed(ctx context.Context, caseID uuid.UUID, note string) (bool, error) {
	// Same transition as a scoring result: the case re-enters the pool
	// rather than staying stuck behind a dead external step.
	return s.RecordScoringResult(ctx, caseID, note)
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *Customer) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO customers (name, phone, national_id, email, occupation, invest_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING customer_id, created_at`,
		c.Name, c.Phone, c.NationalID, c.Email, c.Occupation, c.InvestAmount,
	).Scan(&c.ID, &c.CreatedAt)
}

const customerColumns = `customer_id, name, phone, national_id, email, occupation, invest_amount, created_at`

func (s *PostgresStore) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE customer_id = $1`, id)
	c, err := scanCustomer(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) GetCustomers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Customer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE customer_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Customer)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE phone = $1`, phone)
	c, err := scanCustomer(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) FindCustomerByNationalID(ctx context.Context, nationalID string) (*Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE national_id = $1`, nationalID)
	c, err := scanCustomer(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

const riskProfileColumns = `customer_id, annual_income, investment_amount, investment_experience,
	max_loss, investment_target, investment_horizon, score, created_at`

func (s *PostgresStore) CreateRiskProfile(ctx context.Context, p *RiskProfile) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO risk_profiles (customer_id, annual_income, investment_amount, investment_experience,
			max_loss, investment_target, investment_horizon, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		p.CustomerID, p.AnnualIncome, p.InvestmentAmount, p.InvestmentExperience,
		p.MaxLoss, p.InvestmentTarget, p.InvestmentHorizon, p.Score,
	).Scan(&p.CreatedAt)
}

func (s *PostgresStore) GetRiskProfile(ctx context.Context, customerID uuid.UUID) (*RiskProfile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+riskProfileColumns+`
		FROM risk_profiles WHERE customer_id = $1
		ORDER BY created_at DESC LIMIT 1`, customerID)
	p, err := scanRiskProfile(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetRiskProfiles(ctx context.Context, customerIDs []uuid.UUID) (map[uuid.UUID]*RiskProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (customer_id) `+riskProfileColumns+`
		FROM risk_profiles WHERE customer_id = ANY($1)
		ORDER BY customer_id, created_at DESC`, customerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*RiskProfile)
	for rows.Next() {
		p, err := scanRiskProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.CustomerID] = p
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateDecision(ctx context.Context, d *DecisionRecord) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO decision_records (case_id, customer_id, stage, score, opinion, approved)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		d.CaseID, d.CustomerID, d.Stage, d.Score, d.Opinion, d.Approved,
	).Scan(&d.ID, &d.CreatedAt)
}

func (s *PostgresStore) GetDecisions(ctx context.Context, caseID uuid.UUID) ([]*DecisionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, customer_id, stage, score, opinion, approved, created_at
		FROM decision_records WHERE case_id = $1
		ORDER BY stage ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*DecisionRecord
	for rows.Next() {
		d := &DecisionRecord{}
		var opinion sql.NullString
		if err := rows.Scan(&d.ID, &d.CaseID, &d.CustomerID, &d.Stage, &d.Score, &opinion, &d.Approved, &d.CreatedAt); err != nil {
			return nil, err
		}
		if opinion.Valid {
			d.Opinion = opinion.String
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (s *PostgresStore) GetStats(ctx context.Context) (*CaseStats, error) {
	stats := &CaseStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'awaiting_input' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'unassigned' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'claimed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'terminal' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'approved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'rejected' THEN 1 ELSE 0 END), 0)
		FROM audit_cases`,
	).Scan(&stats.TotalAwaitingInput, &stats.TotalUnassigned, &stats.TotalClaimed,
		&stats.TotalTerminal, &stats.TotalApproved, &stats.TotalRejected)
	return stats, err
}

func scanCase(row pgx.Row) (*Case, error) {
	c := &Case{}
	var claimedBy, scoringNote, outcome sql.NullString
	if err := row.Scan(
		&c.ID, &c.CustomerID, &c.Stage, &c.Status, &claimedBy, &outcome, &scoringNote,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if claimedBy.Valid {
		c.ClaimedBy = claimedBy.String
	}
	if outcome.Valid {
		c.Outcome = Outcome(outcome.String)
	}
	if scoringNote.Valid {
		c.ScoringNote = scoringNote.String
	}
	return c, nil
}

func scanCases(rows pgx.Rows) ([]*Case, error) {
	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	c := &Customer{}
	var email, occupation sql.NullString
	if err := row.Scan(
		&c.ID, &c.Name, &c.Phone, &c.NationalID, &email, &occupation, &c.InvestAmount, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	if email.Valid {
		c.Email = email.String
	}
	if occupation.Valid {
		c.Occupation = occupation.String
	}
	return c, nil
}

func scanRiskProfile(row pgx.Row) (*RiskProfile, error) {
	p := &RiskProfile{}
	var experience, target, horizon sql.NullString
	if err := row.Scan(
		&p.CustomerID, &p.AnnualIncome, &p.InvestmentAmount, &experience,
		&p.MaxLoss, &target, &horizon, &p.Score, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	if experience.Valid {
		p.InvestmentExperience = experience.String
	}
	if target.Valid {
		p.InvestmentTarget = target.String
	}
	if horizon.Valid {
		p.InvestmentHorizon = horizon.String
	}
	return p, nil
}
