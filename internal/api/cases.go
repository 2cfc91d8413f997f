package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianfs/caseflow/internal/assign"
	"github.com/meridianfs/caseflow/internal/identity"
	"github.com/meridianfs/caseflow/internal/notify"
	"github.com/meridianfs/caseflow/internal/store"
	"github.com/meridianfs/caseflow/internal/workflow"
)

type CasesHandler struct {
	store    store.Store
	engine   *assign.Engine
	workflow *workflow.Service
	identity identity.Client
}

func NewCasesHandler(s store.Store, e *assign.Engine, wf *workflow.Service, id identity.Client) *CasesHandler {
	return &CasesHandler{store: s, engine: e, workflow: wf, identity: id}
}

type ClaimRequest struct {
	Tier       int      `json:"tier"`
	BatchSize  int      `json:"batch_size,omitempty"`
	ExcludeIDs []string `json:"exclude_ids,omitempty"`
}

func (h *CasesHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	reviewerID := r.Header.Get(reviewerHeader)

	if !h.authorizeTier(w, r, reviewerID, req.Tier) {
		return
	}

	excludeIDs := make([]uuid.UUID, 0, len(req.ExcludeIDs))
	for _, raw := range req.ExcludeIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid exclude id: " + raw})
			return
		}
		excludeIDs = append(excludeIDs, id)
	}

	claimed, err := h.engine.Claim(r.Context(), req.Tier, reviewerID, excludeIDs, req.BatchSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases": claimed,
		"count": len(claimed),
	})
}

func (h *CasesHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid case id"})
		return
	}

	ok, err := h.engine.Release(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		c, gerr := h.store.GetCase(r.Context(), id)
		if gerr == nil && c == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": "case is not claimed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type DecisionRequest struct {
	Tier     int    `json:"tier"`
	Approved bool   `json:"approved"`
	Opinion  string `json:"opinion,omitempty"`
}

func (h *CasesHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid case id"})
		return
	}
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	reviewerID := r.Header.Get(reviewerHeader)

	result, err := h.workflow.Submit(r.Context(), workflow.Submission{
		CaseID:     id,
		ReviewerID: reviewerID,
		Tier:       req.Tier,
		Approved:   req.Approved,
		Opinion:    req.Opinion,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type HistoryEntry struct {
	Stage    int    `json:"stage"`
	Label    string `json:"label"`
	Approved bool   `json:"approved"`
	Opinion  string `json:"opinion,omitempty"`
	Score    int    `json:"score"`
}

func (h *CasesHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid case id"})
		return
	}

	c, err := h.store.GetCase(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
		return
	}

	decisions, err := h.store.GetDecisions(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	entries := make([]HistoryEntry, 0, len(decisions))
	for _, d := range decisions {
		entries = append(entries, HistoryEntry{
			Stage:    d.Stage,
			Label:    notify.StageName(d.Stage),
			Approved: d.Approved,
			Opinion:  d.Opinion,
			Score:    d.Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"case":      c,
		"decisions": entries,
	})
}

// authorizeTier checks the reviewer against the directory when one is
// configured. Without an identity client the header is trusted as-is.
func (h *CasesHandler) authorizeTier(w http.ResponseWriter, r *http.Request, reviewerID string, tier int) bool {
	if h.identity == nil {
		return true
	}
	reviewer, err := h.identity.GetReviewer(r.Context(), reviewerID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "reviewer lookup failed"})
		return false
	}
	if !reviewer.Active {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "reviewer is not active"})
		return false
	}
	if reviewer.Tier != tier {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "reviewer does not hold this tier"})
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assign.ErrInvalidTier):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, workflow.ErrCaseNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, workflow.ErrInvalidState),
		errors.Is(err, workflow.ErrNotClaimed),
		errors.Is(err, workflow.ErrTierMismatch):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, workflow.ErrIllegalWorkflowState):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
