package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianfs/caseflow/internal/events"
	"github.com/meridianfs/caseflow/internal/risk"
	"github.com/meridianfs/caseflow/internal/store"
)

type mockEvents struct {
	published []struct {
		subject string
		data    interface{}
	}
	handlers map[string]func(string, []byte)
	err      error
}

func newMockEvents() *mockEvents {
	return &mockEvents{handlers: make(map[string]func(string, []byte))}
}

func (m *mockEvents) Publish(subject string, data interface{}) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, struct {
		subject string
		data    interface{}
	}{subject, data})
	return nil
}

func (m *mockEvents) Subscribe(subject string, handler func(string, []byte)) error {
	m.handlers[subject] = handler
	return nil
}

func (m *mockEvents) Close() {}

func (m *mockEvents) deliver(t *testing.T, subject string, payload interface{}) {
	t.Helper()
	h, ok := m.handlers[subject]
	if !ok {
		t.Fatalf("no handler for %s", subject)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	h(subject, data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleQuestionnaire() *Questionnaire {
	return &Questionnaire{
		Name:             "Wei Ling",
		Phone:            "13800000001",
		NationalID:       "110101199001011234",
		AnnualIncome:     300000,
		InvestmentAmount: decimal.NewFromInt(500000),
		MaxLoss:          20,
		Score:            55,
	}
}

func TestCreateQuestionnaireOpensAwaitingCase(t *testing.T) {
	ms := store.NewMemoryStore()
	me := newMockEvents()
	svc := New(ms, me, nil, discardLogger())
	ctx := context.Background()

	res, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Category != risk.Balanced {
		t.Errorf("expected balanced, got %s", res.Category)
	}
	if res.Status != store.StatusAwaitingInput {
		t.Errorf("expected awaiting_input, got %s", res.Status)
	}

	c, _ := ms.GetCase(ctx, res.CaseID)
	if c == nil || c.Stage != 0 || c.Status != store.StatusAwaitingInput {
		t.Fatalf("unexpected case: %+v", c)
	}
	profile, _ := ms.GetRiskProfile(ctx, res.CustomerID)
	if profile == nil || profile.Score != 55 {
		t.Errorf("missing profile: %+v", profile)
	}

	var sawScoringRequest bool
	for _, p := range me.published {
		if p.subject == events.SubjectScoringRequest {
			sawScoringRequest = true
			req := p.data.(events.ScoringRequestEvent)
			if req.CaseID != res.CaseID.String() || req.Score != 55 {
				t.Errorf("bad scoring request: %+v", req)
			}
		}
	}
	if !sawScoringRequest {
		t.Error("expected a scoring request publish")
	}
}

func TestCreateQuestionnaireValidation(t *testing.T) {
	svc := New(store.NewMemoryStore(), nil, nil, discardLogger())
	ctx := context.Background()

	q := sampleQuestionnaire()
	q.Name = ""
	if _, err := svc.CreateQuestionnaire(ctx, q); !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}

	q = sampleQuestionnaire()
	q.Score = 120
	if _, err := svc.CreateQuestionnaire(ctx, q); !errors.Is(err, risk.ErrInvalidScore) {
		t.Errorf("expected ErrInvalidScore, got %v", err)
	}
}

func TestCreateQuestionnaireResubmission(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := New(ms, newMockEvents(), nil, discardLogger())
	ctx := context.Background()

	res, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire())
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	// While the first case is still moving through the pipeline any
	// resubmission is rejected as a duplicate open case.
	if _, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire()); !errors.Is(err, ErrCaseExists) {
		t.Errorf("expected ErrCaseExists, got %v", err)
	}
	q := sampleQuestionnaire()
	q.Phone = "13800000002" // same national id
	if _, err := svc.CreateQuestionnaire(ctx, q); !errors.Is(err, ErrCaseExists) {
		t.Errorf("expected ErrCaseExists on national id, got %v", err)
	}
	if stats, _ := ms.GetStats(ctx); stats.TotalAwaitingInput != 1 {
		t.Errorf("resubmission must not open a second case: %+v", stats)
	}

	// Walk the case to terminal; the customer record then blocks a
	// repeat registration rather than the case.
	if ok, _ := ms.RecordScoringResult(ctx, res.CaseID, "scored"); !ok {
		t.Fatal("release to pool failed")
	}
	if ok, _ := ms.ConditionalUpdateStatus(ctx, res.CaseID, store.StatusUnassigned, store.StatusClaimed, "rev-1"); !ok {
		t.Fatal("claim failed")
	}
	if ok, _ := ms.Terminate(ctx, res.CaseID, store.OutcomeApproved); !ok {
		t.Fatal("terminate failed")
	}

	if _, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire()); !errors.Is(err, ErrCustomerExists) {
		t.Errorf("expected ErrCustomerExists once the case closed, got %v", err)
	}
}

func TestCreateQuestionnaireNoEventsFallsBack(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := New(ms, nil, nil, discardLogger())
	ctx := context.Background()

	res, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != store.StatusUnassigned {
		t.Errorf("expected immediate release to pool, got %s", res.Status)
	}
	c, _ := ms.GetCase(ctx, res.CaseID)
	if c.Status != store.StatusUnassigned {
		t.Errorf("expected unassigned, got %s", c.Status)
	}
}

func TestScoringResultReleasesCase(t *testing.T) {
	ms := store.NewMemoryStore()
	me := newMockEvents()
	svc := New(ms, me, nil, discardLogger())
	ctx := context.Background()

	if err := svc.SetupSubscriptions(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire())
	if err != nil {
		t.Fatal(err)
	}

	me.deliver(t, events.SubjectScoringResult, events.ScoringResultEvent{
		CaseID:   res.CaseID.String(),
		Strategy: "balanced allocation, 60/40 bonds",
	})

	c, _ := ms.GetCase(ctx, res.CaseID)
	if c.Status != store.StatusUnassigned {
		t.Errorf("expected unassigned, got %s", c.Status)
	}
	if c.ScoringNote != "balanced allocation, 60/40 bonds" {
		t.Errorf("missing strategy note: %q", c.ScoringNote)
	}
}

func TestScoringErrorReleasesCase(t *testing.T) {
	ms := store.NewMemoryStore()
	me := newMockEvents()
	svc := New(ms, me, nil, discardLogger())
	ctx := context.Background()

	if err := svc.SetupSubscriptions(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire())
	if err != nil {
		t.Fatal(err)
	}

	me.deliver(t, events.SubjectScoringResult, events.ScoringResultEvent{
		CaseID: res.CaseID.String(),
		Error:  "model timeout",
	})

	c, _ := ms.GetCase(ctx, res.CaseID)
	if c.Status != store.StatusUnassigned {
		t.Errorf("expected unassigned after fallback, got %s", c.Status)
	}
	if c.ScoringNote == "" {
		t.Error("expected failure note on case")
	}
}

func TestStaleScoringResultDropped(t *testing.T) {
	ms := store.NewMemoryStore()
	me := newMockEvents()
	svc := New(ms, me, nil, discardLogger())
	ctx := context.Background()

	if err := svc.SetupSubscriptions(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := svc.CreateQuestionnaire(ctx, sampleQuestionnaire())
	if err != nil {
		t.Fatal(err)
	}

	me.deliver(t, events.SubjectScoringResult, events.ScoringResultEvent{
		CaseID:   res.CaseID.String(),
		Strategy: "first",
	})
	// Replay after the case left awaiting_input: must not clobber.
	me.deliver(t, events.SubjectScoringResult, events.ScoringResultEvent{
		CaseID:   res.CaseID.String(),
		Strategy: "replayed",
	})

	c, _ := ms.GetCase(ctx, res.CaseID)
	if c.ScoringNote != "first" {
		t.Errorf("replay clobbered the note: %q", c.ScoringNote)
	}

	// Unknown case id is dropped quietly.
	me.deliver(t, events.SubjectScoringResult, events.ScoringResultEvent{
		CaseID:   "0b9fcb2e-9c2f-4f3f-9a44-000000000000",
		Strategy: "orphan",
	})
}
