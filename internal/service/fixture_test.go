package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/chaser-backend/internal/deeplink"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/sender"
	"github.com/unclebandit/chaser-backend/internal/service"
	"github.com/unclebandit/chaser-backend/internal/session"
)

// Tuesday, mid-morning.
var testNow = time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type zeroRand struct{}

func (zeroRand) IntN(int) int { return 0 }

type fakeEmail struct {
	mu    sync.Mutex
	calls []string
	texts []string
	err   error
	block bool
	// entered, when set, receives once per call before the call blocks.
	entered chan struct{}
}

func (f *fakeEmail) SendEmail(ctx context.Context, to, from, subject, text, html string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, to)
	f.texts = append(f.texts, text)
	n := len(f.calls)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("ses-%d", n), nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeChat struct {
	mu   sync.Mutex
	sent []chatCall
}

type chatCall struct {
	Text       string
	TemplateID string
	Variables  map[string]string
}

func (f *fakeChat) SendChatMessage(ctx context.Context, msg sender.ChatMessage) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatCall{Text: msg.Text, TemplateID: msg.TemplateID, Variables: msg.Variables})
	return "chat-1", 5, nil
}

type harness struct {
	store      *repository.Memory
	chase      *service.ChaseService
	dispatcher *service.Dispatcher
	email      *fakeEmail
	chat       *fakeChat
	sessions   *session.Tracker
}

// newHarness seeds one practice, one campaign (weekly, urgent after 3, max 5)
// and one email-only client.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemory()
	store.PutPractice(model.Practice{
		ID: "p1", Name: "Acme Accounting", DefaultChannel: model.ChannelEmail,
		BusinessHoursStart: "09:00", BusinessHoursEnd: "17:00", Timezone: "UTC",
		EmailFrom: "docs@acme.example", ChatSender: "+15550100",
		ChatTemplates: map[model.Level]string{
			model.LevelGentle: "tpl_gentle", model.LevelReminder: "tpl_reminder",
		},
	})
	store.PutCampaign(model.Campaign{ID: "c1", PracticeID: "p1", Name: "Tax year", CadenceDays: 7, EscalateAfter: 3, MaxChases: 5})
	store.PutClient(model.Client{ID: "cl1", PracticeID: "p1", FirstName: "Ada", Email: "ada@example.com", ChaseEnabled: true})

	links := deeplink.NewIssuer(store.DeepLinks(), "https://portal.example.com", 0)
	sessions := session.NewTracker(session.NewMemoryStore())
	email := &fakeEmail{}
	chat := &fakeChat{}
	return &harness{
		store: store,
		chase: &service.ChaseService{
			EnrollmentRepo: store.Enrollments(),
			ClientRepo:     store.Clients(),
			PracticeRepo:   store.Practices(),
			Links:          links,
			Rand:           zeroRand{},
			Workers:        4,
			Log:            quiet,
		},
		dispatcher: &service.Dispatcher{
			MessageRepo:    store.OutboundMessages(),
			ClientRepo:     store.Clients(),
			PracticeRepo:   store.Practices(),
			EnrollmentRepo: store.Enrollments(),
			Links:          links,
			Sessions:       sessions,
			Email:          email,
			Chat:           chat,
			EmailCostMinor: 1,
			Workers:        2,
			Now:            func() time.Time { return testNow },
			Log:            quiet,
		},
		email:    email,
		chat:     chat,
		sessions: sessions,
	}
}

func (h *harness) enroll(t *testing.T, id string, chases int, level model.Level) {
	t.Helper()
	due := testNow.Add(-time.Hour)
	require.NoError(t, h.store.Enrollments().Create(context.Background(), &model.Enrollment{
		ID: id, PracticeID: "p1", CampaignID: "c1", ClientID: "cl1",
		ChasesDelivered: chases, EscalationLevel: level, NextChaseAt: &due,
		RequiredDocs: model.NewDocSet("w2", "1099"),
	}))
}

func (h *harness) onlyMessage(t *testing.T) model.OutboundMessage {
	t.Helper()
	msgs := h.store.Messages()
	require.Len(t, msgs, 1)
	return msgs[0]
}
