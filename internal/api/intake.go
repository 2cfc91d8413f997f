package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianfs/caseflow/internal/intake"
	"github.com/meridianfs/caseflow/internal/notify"
	"github.com/meridianfs/caseflow/internal/risk"
	"github.com/meridianfs/caseflow/internal/store"
)

type IntakeHandler struct {
	intake *intake.Service
	store  store.Store
}

func NewIntakeHandler(in *intake.Service, s store.Store) *IntakeHandler {
	return &IntakeHandler{intake: in, store: s}
}

func (h *IntakeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var q intake.Questionnaire
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.intake.CreateQuestionnaire(r.Context(), &q)
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrMissingField), errors.Is(err, risk.ErrInvalidScore):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, intake.ErrCustomerExists), errors.Is(err, intake.ErrCaseExists):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type CaseStatusView struct {
	CaseID    string           `json:"case_id"`
	Status    store.CaseStatus `json:"status"`
	Stage     int              `json:"stage"`
	Label     string           `json:"label"`
	Outcome   store.Outcome    `json:"outcome,omitempty"`
	Decisions []HistoryEntry   `json:"decisions,omitempty"`
}

func (h *IntakeHandler) Status(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer id"})
		return
	}

	cases, err := h.store.GetCasesByCustomer(r.Context(), customerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(cases) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no cases for customer"})
		return
	}

	views := make([]CaseStatusView, 0, len(cases))
	for _, c := range cases {
		view := CaseStatusView{
			CaseID:  c.ID.String(),
			Status:  c.Status,
			Stage:   c.Stage,
			Label:   notify.StageName(c.Stage),
			Outcome: c.Outcome,
		}
		// Finished cases carry their full review trail.
		if c.Status == store.StatusTerminal {
			decisions, err := h.store.GetDecisions(r.Context(), c.ID)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			for _, d := range decisions {
				view.Decisions = append(view.Decisions, HistoryEntry{
					Stage:    d.Stage,
					Label:    notify.StageName(d.Stage),
					Approved: d.Approved,
					Opinion:  d.Opinion,
					Score:    d.Score,
				})
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}
