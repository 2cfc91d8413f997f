package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs unit and
// concurrency tests and keeps the same conditional-update semantics as
// the Postgres implementation: each transition is decided under the
// lock, so concurrent callers racing for a case see exactly one true.
type MemoryStore struct {
	mu        sync.Mutex
	cases     map[uuid.UUID]*Case
	seqs      map[uuid.UUID]int64 // insertion order, tie-break for equal timestamps
	nextSeq   int64
	customers map[uuid.UUID]*Customer
	profiles  map[uuid.UUID]*RiskProfile
	decisions []*DecisionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:     make(map[uuid.UUID]*Case),
		seqs:      make(map[uuid.UUID]int64),
		customers: make(map[uuid.UUID]*Customer),
		profiles:  make(map[uuid.UUID]*RiskProfile),
	}
}

func (s *MemoryStore) CreateCase(_ context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.cases[c.ID] = &cp
	s.nextSeq++
	s.seqs[c.ID] = s.nextSeq
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, id uuid.UUID) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetCasesByCustomer(_ context.Context, customerID uuid.UUID) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Case
	for _, c := range s.cases {
		if c.CustomerID == customerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	s.sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) FindByTierAndStatus(_ context.Context, tier int, status CaseStatus, excludeIDs []uuid.UUID, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 10
	}
	excluded := make(map[uuid.UUID]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Case
	for _, c := range s.cases {
		if c.Stage == tier && c.Status == status && !excluded[c.ID] {
			cp := *c
			out = append(out, &cp)
		}
	}
	s.sortByCreatedAt(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindClaimedByReviewer(_ context.Context, tier int, reviewerID string) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Case
	for _, c := range s.cases {
		if c.Stage == tier && c.Status == StatusClaimed && c.ClaimedBy == reviewerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	s.sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) FindStaleClaims(_ context.Context, cutoff time.Time) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Case
	for _, c := range s.cases {
		if c.Status == StatusClaimed && c.UpdatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	s.sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) ConditionalUpdateStatus(_ context.Context, caseID uuid.UUID, expected, next CaseStatus, claimant string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	c.ClaimedBy = claimant
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ForwardStage(_ context.Context, caseID uuid.UUID, nextStage int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok || c.Status != StatusClaimed {
		return false, nil
	}
	c.Status = StatusUnassigned
	c.Stage = nextStage
	c.ClaimedBy = ""
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) Terminate(_ context.Context, caseID uuid.UUID, outcome Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok || c.Status != StatusClaimed {
		return false, nil
	}
	c.Status = StatusTerminal
	c.Outcome = outcome
	c.ClaimedBy = ""
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) RecordScoringResult(_ context.Context, caseID uuid.UUID, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok || c.Status != StatusAwaitingInput {
		return false, nil
	}
	c.Status = StatusUnassigned
	c.ScoringNote = note
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) MarkScoringFailed(ctx context.Context, caseID uuid.UUID, note string) (bool, error) {
	return s.RecordScoringResult(ctx, caseID, note)
}

func (s *MemoryStore) CreateCustomer(_ context.Context, c *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCustomer(_ context.Context, id uuid.UUID) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetCustomers(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]*Customer)
	for _, id := range ids {
		if c, ok := s.customers[id]; ok {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemoryStore) FindCustomerByPhone(_ context.Context, phone string) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.Phone == phone {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindCustomerByNationalID(_ context.Context, nationalID string) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.NationalID == nationalID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateRiskProfile(_ context.Context, p *RiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = time.Now()
	cp := *p
	s.profiles[p.CustomerID] = &cp
	return nil
}

func (s *MemoryStore) GetRiskProfile(_ context.Context, customerID uuid.UUID) (*RiskProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[customerID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetRiskProfiles(_ context.Context, customerIDs []uuid.UUID) (map[uuid.UUID]*RiskProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]*RiskProfile)
	for _, id := range customerIDs {
		if p, ok := s.profiles[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateDecision(_ context.Context, d *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	cp := *d
	s.decisions = append(s.decisions, &cp)
	return nil
}

func (s *MemoryStore) GetDecisions(_ context.Context, caseID uuid.UUID) ([]*DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DecisionRecord
	for _, d := range s.decisions {
		if d.CaseID == caseID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

func (s *MemoryStore) GetStats(_ context.Context) (*CaseStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &CaseStats{}
	for _, c := range s.cases {
		switch c.Status {
		case StatusAwaitingInput:
			stats.TotalAwaitingInput++
		case StatusUnassigned:
			stats.TotalUnassigned++
		case StatusClaimed:
			stats.TotalClaimed++
		case StatusTerminal:
			stats.TotalTerminal++
		}
		switch c.Outcome {
		case OutcomeApproved:
			stats.TotalApproved++
		case OutcomeRejected:
			stats.TotalRejected++
		}
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) sortByCreatedAt(cases []*Case) {
	sort.SliceStable(cases, func(i, j int) bool {
		if cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return s.seqs[cases[i].ID] < s.seqs[cases[j].ID]
		}
		return cases[i].CreatedAt.Before(cases[j].CreatedAt)
	})
}
