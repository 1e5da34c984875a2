package controller

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/chaser-backend/internal/consent"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/scheduler"
	"github.com/unclebandit/chaser-backend/internal/service"
)

// ChaseController serves the operator API.
type ChaseController struct {
	Chase       scheduler.Ticker
	Dispatcher  scheduler.QueueDispatcher
	Enrollments *service.EnrollmentService
	Gate        *consent.Gate
	Consent     repository.ConsentRepositoryInterface
	Now         func() time.Time
	Log         *slog.Logger
}

// Routes mounts the operator endpoints on r.
func (c *ChaseController) Routes(r chi.Router) {
	r.Post("/chase/tick", c.Tick)
	r.Post("/chase/dispatch", c.Dispatch)
	r.Post("/enrollments", c.CreateEnrollment)
	r.Get("/enrollments/{id}", c.GetEnrollmentDetails)
	r.Post("/enrollments/{id}/documents", c.RecordDocuments)
	r.Post("/enrollments/{id}/preview", c.PreviewNextChase)
	r.Get("/clients/{id}/consent", c.ConsentHistory)
	r.Post("/clients/{id}/opt-out", c.OptOut)
	r.Post("/clients/{id}/opt-in", c.OptIn)
}

func (c *ChaseController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Tick runs a chase tick now, or at the RFC 3339 instant given as ?at=.
func (c *ChaseController) Tick(w http.ResponseWriter, r *http.Request) {
	at := c.now()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid at: "+err.Error(), http.StatusBadRequest)
			return
		}
		at = t
	}
	summary, err := c.Chase.Tick(r.Context(), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (c *ChaseController) Dispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := c.Dispatcher.DispatchQueued(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (c *ChaseController) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var body service.NewEnrollmentRequest
	if !decode(w, r, &body) {
		return
	}
	e, err := c.Enrollments.Enroll(r.Context(), body, c.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (c *ChaseController) GetEnrollmentDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.Enrollments.GetEnrollmentDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *ChaseController) RecordDocuments(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if !decode(w, r, &body) {
		return
	}
	if len(body.DocumentIDs) == 0 {
		http.Error(w, "document_ids is required", http.StatusBadRequest)
		return
	}
	e, err := c.Enrollments.RecordDocuments(r.Context(), chi.URLParam(r, "id"), body.DocumentIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// PreviewNextChase renders the next chase. The body is optional and may
// override the escalation level.
func (c *ChaseController) PreviewNextChase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level *model.Level `json:"level"`
	}
	if r.ContentLength > 0 && !decode(w, r, &body) {
		return
	}
	preview, err := c.Enrollments.PreviewNextChase(r.Context(), chi.URLParam(r, "id"), body.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (c *ChaseController) ConsentHistory(w http.ResponseWriter, r *http.Request) {
	history, err := c.Consent.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": history})
}

type consentChangeBody struct {
	PracticeID string        `json:"practice_id"`
	Channel    model.Channel `json:"channel"`
	Actor      string        `json:"actor"`
}

func (b consentChangeBody) valid() bool {
	return b.PracticeID != "" && b.Channel.Valid() && b.Actor != ""
}

// OptOut records a staff-entered opt-out.
func (c *ChaseController) OptOut(w http.ResponseWriter, r *http.Request) {
	var body consentChangeBody
	if !decode(w, r, &body) {
		return
	}
	if !body.valid() {
		http.Error(w, "practice_id, a known channel and actor are required", http.StatusBadRequest)
		return
	}
	res, err := c.Gate.ProcessOptOut(r.Context(), consent.OptOutRequest{
		ClientID:   chi.URLParam(r, "id"),
		PracticeID: body.PracticeID,
		Channel:    body.Channel,
		Method:     model.MethodStaff,
		Actor:      body.Actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *ChaseController) OptIn(w http.ResponseWriter, r *http.Request) {
	var body consentChangeBody
	if !decode(w, r, &body) {
		return
	}
	if !body.valid() {
		http.Error(w, "practice_id, a known channel and actor are required", http.StatusBadRequest)
		return
	}
	err := c.Gate.ProcessOptIn(r.Context(), consent.OptInRequest{
		ClientID:   chi.URLParam(r, "id"),
		PracticeID: body.PracticeID,
		Channel:    body.Channel,
		Method:     model.MethodStaff,
		Actor:      body.Actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
