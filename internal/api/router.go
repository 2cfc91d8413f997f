package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianfs/caseflow/internal/assign"
	"github.com/meridianfs/caseflow/internal/identity"
	"github.com/meridianfs/caseflow/internal/intake"
	"github.com/meridianfs/caseflow/internal/store"
	"github.com/meridianfs/caseflow/internal/workflow"
)

func NewRouter(s store.Store, in *intake.Service, e *assign.Engine, wf *workflow.Service, id identity.Client, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	intakeH := NewIntakeHandler(in, s)
	cases := NewCasesHandler(s, e, wf, id)
	admin := NewAdminHandler(s)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/questionnaires", intakeH.Create)
		r.Get("/customers/{id}/status", intakeH.Status)

		r.Group(func(r chi.Router) {
			r.Use(ReviewerIDMiddleware)

			r.Post("/cases/claim", cases.Claim)
			r.Post("/cases/{id}/release", cases.Release)
			r.Post("/cases/{id}/decision", cases.Decide)
			r.Get("/cases/{id}/history", cases.History)
		})

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Get("/stats", admin.Stats)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
