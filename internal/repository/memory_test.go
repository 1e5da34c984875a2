package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/model"
)

func seedEnrollment(t *testing.T, m *Memory, now time.Time) {
	t.Helper()
	due := now.Add(-time.Minute)
	require.NoError(t, m.Enrollments().Create(context.Background(), &model.Enrollment{
		ID: "e1", PracticeID: "p1", CampaignID: "c1", ClientID: "cl1",
		NextChaseAt:  &due,
		RequiredDocs: model.NewDocSet("w2", "bank"),
	}))
}

func TestMemory_RecordChaseOnlyOnce(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	seedEnrollment(t, m, now)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adv, msg := chaseFixture(now)
			msg.ID = string(rune('a' + i))
			ok, err := m.Enrollments().RecordChase(context.Background(), adv, msg)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.Len(t, m.Messages(), 1)
	e, err := m.Enrollments().GetByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.ChasesDelivered)
	assert.Equal(t, now, *e.LastChasedAt)
}

func TestMemory_ClaimAndTerminalTransitions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	seedEnrollment(t, m, now)
	adv, msg := chaseFixture(now)
	ok, err := m.Enrollments().RecordChase(ctx, adv, msg)
	require.NoError(t, err)
	require.True(t, ok)

	msgs := m.OutboundMessages()
	first, _ := msgs.Claim(ctx, "m1", now, time.Minute)
	second, _ := msgs.Claim(ctx, "m1", now.Add(30*time.Second), time.Minute)
	expired, _ := msgs.Claim(ctx, "m1", now.Add(2*time.Minute), time.Minute)
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, expired)

	sent, err := msgs.MarkSent(ctx, "m1", model.SendResult{ExternalID: "x1", SentAt: now})
	require.NoError(t, err)
	assert.True(t, sent)

	failed, err := msgs.MarkFailed(ctx, "m1", "late", now)
	require.NoError(t, err)
	assert.False(t, failed)

	read, err := msgs.AdvanceDeliveryStatus(ctx, "x1", model.MessageRead, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, read)
	delivered, err := msgs.AdvanceDeliveryStatus(ctx, "x1", model.MessageDelivered, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, delivered)

	got, err := msgs.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MessageRead, got.Status)
	assert.NotNil(t, got.DeliveredAt)
}

func TestMemory_CancelAndPauseForClient(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	seedEnrollment(t, m, now)
	adv, msg := chaseFixture(now)
	_, err := m.Enrollments().RecordChase(ctx, adv, msg)
	require.NoError(t, err)

	n, err := m.OutboundMessages().CancelQueuedForClient(ctx, "cl1", model.ChannelSMS, now)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = m.OutboundMessages().CancelQueuedForClient(ctx, "cl1", model.ChannelEmail, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	paused, err := m.Enrollments().PauseActiveForClient(ctx, "cl1", "opted out", now)
	require.NoError(t, err)
	assert.Equal(t, 1, paused)
	e, _ := m.Enrollments().GetByID(ctx, "e1")
	assert.Equal(t, model.EnrollmentPaused, e.Status)
	assert.Nil(t, e.NextChaseAt)

	due, err := m.Enrollments().ListDue(ctx, now.AddDate(1, 0, 0), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemory_GetByAddress(t *testing.T) {
	m := NewMemory()
	m.PutClient(model.Client{ID: "cl1", ChatAddress: "+447700900001"})
	m.PutClient(model.Client{ID: "cl2", Phone: "+447700900002"})

	c, err := m.Clients().GetByAddress(context.Background(), model.ChannelChat, "+447700900001")
	require.NoError(t, err)
	assert.Equal(t, "cl1", c.ID)

	_, err = m.Clients().GetByAddress(context.Background(), model.ChannelChat, "+447700900002")
	assert.Error(t, err)
}

func TestMemory_ListDuePagesByCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	early, late := now.Add(-2*time.Hour), now.Add(-time.Hour)
	for _, e := range []model.Enrollment{
		{ID: "b", NextChaseAt: &early},
		{ID: "a", NextChaseAt: &early},
		{ID: "c", NextChaseAt: &late},
	} {
		e.RequiredDocs = model.NewDocSet("w2")
		require.NoError(t, m.Enrollments().Create(ctx, &e))
	}

	var seen []string
	var after *DueCursor
	for {
		page, err := m.Enrollments().ListDue(ctx, now, after, 2)
		require.NoError(t, err)
		for _, e := range page {
			seen = append(seen, e.ID)
		}
		if len(page) < 2 {
			break
		}
		after = CursorAfter(page[len(page)-1])
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestMemory_PracticeAndCampaignNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Practices().GetPractice(context.Background(), "p9")
	assert.True(t, appErrors.IsNotFound(err))
	_, err = m.Practices().GetCampaign(context.Background(), "c9")
	assert.True(t, appErrors.IsNotFound(err))
}
