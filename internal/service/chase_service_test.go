package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/queue"
	"github.com/unclebandit/chaser-backend/internal/service"
)

func TestTick_FirstChase(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "e1", 0, model.LevelGentle)

	summary, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, service.TickSummary{Processed: 1}, summary)

	msg := h.onlyMessage(t)
	assert.Equal(t, model.MessageQueued, msg.Status)
	assert.Equal(t, model.ChannelEmail, msg.Channel)
	assert.Equal(t, model.LevelGentle, msg.EscalationLevel)
	assert.Equal(t, 1, msg.ChaseNumber)
	assert.Equal(t, "Documents needed by Acme Accounting", msg.Subject)
	assert.Contains(t, msg.BodyText, "Hi Ada")
	assert.Contains(t, msg.BodyText, "2 documents")
	assert.Contains(t, msg.BodyText, "https://portal.example.com/u/")
	assert.Contains(t, msg.BodyHTML, "<a href=")

	e, err := h.store.Enrollments().GetByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.ChasesDelivered)
	require.NotNil(t, e.LastChasedAt)
	assert.True(t, e.LastChasedAt.Equal(testNow))
	require.NotNil(t, e.NextChaseAt)
	assert.Equal(t, time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC), *e.NextChaseAt)
}

func TestTick_IdempotentAtSameInstant(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "e1", 0, model.LevelGentle)
	h.enroll(t, "e2", 2, model.LevelFirm)

	_, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)
	again, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, service.TickSummary{}, again)
	assert.Len(t, h.store.Messages(), 2)
}

func TestTick_ConcurrentTicksChaseOnce(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"e1", "e2", "e3"} {
		h.enroll(t, id, 0, model.LevelGentle)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.chase.Tick(context.Background(), testNow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.store.Messages(), 3)
}

func TestTick_EscalationLevels(t *testing.T) {
	tests := []struct {
		name    string
		chases  int
		stored  model.Level
		want    model.Level
		subject string
	}{
		{"second chase is a reminder", 1, model.LevelGentle, model.LevelReminder, "Reminder:"},
		{"at escalate-after is urgent", 3, model.LevelFirm, model.LevelUrgent, "Urgent:"},
		{"past escalate-after escalates", 4, model.LevelUrgent, model.LevelEscalate, "Final notice"},
		{"stored level never regresses", 1, model.LevelUrgent, model.LevelUrgent, "Urgent:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.enroll(t, "e1", tt.chases, tt.stored)

			_, err := h.chase.Tick(context.Background(), testNow)
			require.NoError(t, err)

			msg := h.onlyMessage(t)
			assert.Equal(t, tt.want, msg.EscalationLevel)
			assert.True(t, strings.HasPrefix(msg.Subject, tt.subject), msg.Subject)
			assert.Equal(t, tt.chases+1, msg.ChaseNumber)
		})
	}
}

func TestTick_LastChaseStopsScheduling(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "e1", 4, model.LevelUrgent)

	_, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)

	e, err := h.store.Enrollments().GetByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 5, e.ChasesDelivered)
	assert.Nil(t, e.NextChaseAt)
	assert.Equal(t, model.EnrollmentActive, e.Status)

	summary, err := h.chase.Tick(context.Background(), testNow.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, service.TickSummary{}, summary)
	assert.Len(t, h.store.Messages(), 1)
}

func TestTick_MaxAlreadyReachedGoesDormant(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "e1", 5, model.LevelEscalate)

	summary, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, service.TickSummary{}, summary)
	assert.Empty(t, h.store.Messages())

	e, err := h.store.Enrollments().GetByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Nil(t, e.NextChaseAt)
}

func TestTick_NothingOutstandingCompletes(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "e1", 1, model.LevelGentle)
	require.NoError(t, h.store.Enrollments().RecordReceived(context.Background(), "e1", []string{"w2", "1099"}))

	summary, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, service.TickSummary{Completed: 1}, summary)

	e, err := h.store.Enrollments().GetByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentCompleted, e.Status)
	assert.Empty(t, h.store.Messages())
}

func TestTick_InvalidConfigCountsError(t *testing.T) {
	h := newHarness(t)
	h.store.PutCampaign(model.Campaign{ID: "c2", PracticeID: "p1", CadenceDays: 0, EscalateAfter: 3, MaxChases: 5})
	h.enroll(t, "e1", 0, model.LevelGentle)
	due := testNow.Add(-time.Hour)
	require.NoError(t, h.store.Enrollments().Create(context.Background(), &model.Enrollment{
		ID: "e2", PracticeID: "p1", CampaignID: "c2", ClientID: "cl1", NextChaseAt: &due,
		RequiredDocs: model.NewDocSet("w2"),
	}))

	summary, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, service.TickSummary{Processed: 1, Errors: 1}, summary)

	e, err := h.store.Enrollments().GetByID(context.Background(), "e2")
	require.NoError(t, err)
	assert.Equal(t, 0, e.ChasesDelivered)
}

func TestTick_BrokenEnrollmentsDoNotStarveLaterPages(t *testing.T) {
	h := newHarness(t)
	h.chase.BatchSize = 1
	h.store.PutCampaign(model.Campaign{ID: "c2", PracticeID: "p1", CadenceDays: 0, EscalateAfter: 3, MaxChases: 5})
	stale := testNow.Add(-48 * time.Hour)
	require.NoError(t, h.store.Enrollments().Create(context.Background(), &model.Enrollment{
		ID: "broken", PracticeID: "p1", CampaignID: "c2", ClientID: "cl1", NextChaseAt: &stale,
		RequiredDocs: model.NewDocSet("w2"),
	}))
	h.enroll(t, "healthy", 0, model.LevelGentle)

	summary, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, service.TickSummary{Processed: 1, Errors: 1}, summary)

	e, err := h.store.Enrollments().GetByID(context.Background(), "healthy")
	require.NoError(t, err)
	assert.Equal(t, 1, e.ChasesDelivered)
}

func TestTick_SkipsWeekendsInPracticeTimezone(t *testing.T) {
	h := newHarness(t)
	h.store.PutPractice(model.Practice{
		ID: "p1", Name: "Acme Accounting", BusinessHoursStart: "09:00", BusinessHoursEnd: "17:00",
		Timezone: "America/New_York", EmailFrom: "docs@acme.example",
	})
	h.store.PutCampaign(model.Campaign{ID: "c1", PracticeID: "p1", CadenceDays: 4, EscalateAfter: 3, MaxChases: 5, SkipWeekends: true})
	h.enroll(t, "e1", 0, model.LevelGentle)

	_, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)

	e, err := h.store.Enrollments().GetByID(context.Background(), "e1")
	require.NoError(t, err)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	next := e.NextChaseAt.In(ny)
	// Tuesday + 4 days is Saturday, pushed to Monday.
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
}

func TestTick_PublishesDispatchJobs(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "e1", 0, model.LevelGentle)

	q := queue.NewInMemoryQueue(quiet)
	worker := service.NewWorker(h.dispatcher, q, quiet)
	require.NoError(t, worker.Start(context.Background()))
	h.chase.Queue = q

	_, err := h.chase.Tick(context.Background(), testNow)
	require.NoError(t, err)
	q.Wait()

	msg := h.onlyMessage(t)
	assert.Equal(t, model.MessageSent, msg.Status)
	assert.Equal(t, "ses-1", msg.ExternalID)
	assert.Equal(t, 1, h.email.count())
}
