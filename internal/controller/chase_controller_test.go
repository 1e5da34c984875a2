package controller_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/chaser-backend/internal/audit"
	"github.com/unclebandit/chaser-backend/internal/consent"
	"github.com/unclebandit/chaser-backend/internal/controller"
	"github.com/unclebandit/chaser-backend/internal/deeplink"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/sender"
	"github.com/unclebandit/chaser-backend/internal/service"
)

var testNow = time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*httptest.Server, *repository.Memory) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemory()
	store.PutPractice(model.Practice{
		ID: "p1", Name: "Acme Accounting", BusinessHoursStart: "09:00", BusinessHoursEnd: "17:00",
		Timezone: "UTC", EmailFrom: "docs@acme.example",
	})
	store.PutCampaign(model.Campaign{ID: "c1", PracticeID: "p1", CadenceDays: 7, EscalateAfter: 3, MaxChases: 5})
	store.PutClient(model.Client{ID: "cl1", PracticeID: "p1", FirstName: "Ada", Email: "ada@example.com", ChaseEnabled: true})

	now := func() time.Time { return testNow }
	links := deeplink.NewIssuer(store.DeepLinks(), "https://portal.example.com", 0)
	ctrl := &controller.ChaseController{
		Chase: &service.ChaseService{
			EnrollmentRepo: store.Enrollments(), ClientRepo: store.Clients(), PracticeRepo: store.Practices(),
			Links: links, Log: quiet,
		},
		Dispatcher: &service.Dispatcher{
			MessageRepo: store.OutboundMessages(), ClientRepo: store.Clients(), PracticeRepo: store.Practices(),
			EnrollmentRepo: store.Enrollments(), Links: links, Email: sender.DryRun{Log: quiet}, Now: now, Log: quiet,
		},
		Enrollments: &service.EnrollmentService{
			EnrollmentRepo: store.Enrollments(), MessageRepo: store.OutboundMessages(), ClientRepo: store.Clients(),
			PracticeRepo: store.Practices(), ClassificationRepo: store.Classifications(), Log: quiet,
		},
		Gate: &consent.Gate{
			Clients: store.Clients(), Records: store.Consent(), Messages: store.OutboundMessages(),
			Enrollments: store.Enrollments(), Audit: audit.Discard{}, Log: quiet, Now: now,
		},
		Consent: store.Consent(),
		Now:     now,
		Log:     quiet,
	}
	r := chi.NewRouter()
	r.Route("/api/v1", ctrl.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestEnrollTickDispatchDetails(t *testing.T) {
	srv, store := newServer(t)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/enrollments",
		`{"practice_id":"p1","campaign_id":"c1","client_id":"cl1","required_docs":["w2","1099"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = do(t, srv, http.MethodPost, "/api/v1/chase/tick", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["processed"])

	resp, body = do(t, srv, http.MethodPost, "/api/v1/chase/dispatch", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["sent"])

	resp, body = do(t, srv, http.MethodGet, "/api/v1/enrollments/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["outstanding"])
	stats, _ := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["sent"])

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].ExternalID, "dry-"))
}

func TestTick_AtParameter(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := do(t, srv, http.MethodPost, "/api/v1/chase/tick?at=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/chase/tick?at=2026-02-10T11:00:00Z", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["processed"])
}

func TestCreateEnrollment_Validation(t *testing.T) {
	srv, _ := newServer(t)

	resp, _ := do(t, srv, http.MethodPost, "/api/v1/enrollments", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/enrollments", `{"practice_id":"p1","campaign_id":"c1","client_id":"cl1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/enrollments",
		`{"practice_id":"p1","campaign_id":"c1","client_id":"ghost","required_docs":["w2"]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetEnrollmentDetails_NotFound(t *testing.T) {
	srv, _ := newServer(t)
	resp, body := do(t, srv, http.MethodGet, "/api/v1/enrollments/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "nope")
}

func TestPreviewNextChase(t *testing.T) {
	srv, store := newServer(t)
	due := testNow
	require.NoError(t, store.Enrollments().Create(context.Background(), &model.Enrollment{
		ID: "e1", PracticeID: "p1", CampaignID: "c1", ClientID: "cl1", ChasesDelivered: 1,
		NextChaseAt: &due, RequiredDocs: model.NewDocSet("w2"),
	}))

	resp, body := do(t, srv, http.MethodPost, "/api/v1/enrollments/e1/preview", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reminder", body["level"])

	resp, body = do(t, srv, http.MethodPost, "/api/v1/enrollments/e1/preview", `{"level":"escalate"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "escalate", body["level"])
	assert.Contains(t, body["subject"], "Final notice")
}

func TestOptOutAndHistory(t *testing.T) {
	srv, store := newServer(t)
	due := testNow
	require.NoError(t, store.Enrollments().Create(context.Background(), &model.Enrollment{
		ID: "e1", PracticeID: "p1", CampaignID: "c1", ClientID: "cl1", NextChaseAt: &due, RequiredDocs: model.NewDocSet("w2"),
	}))

	resp, _ := do(t, srv, http.MethodPost, "/api/v1/clients/cl1/opt-out", `{"practice_id":"p1","channel":"fax","actor":"staff:1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/clients/cl1/opt-out", `{"practice_id":"p1","channel":"email","actor":"staff:1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["all_channels_revoked"])
	assert.Equal(t, float64(1), body["enrollments_paused"])

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/clients/cl1/opt-in", `{"practice_id":"p1","channel":"email","actor":"staff:1"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/api/v1/clients/cl1/consent", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history, _ := body["data"].([]any)
	require.Len(t, history, 2)
	first, _ := history[0].(map[string]any)
	assert.Equal(t, "revoked", first["status"])
	assert.Equal(t, model.MethodStaff, first["method"])

	e, err := store.Enrollments().GetByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentPaused, e.Status)

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/clients/ghost/opt-out", `{"practice_id":"p1","channel":"email","actor":"staff:1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
