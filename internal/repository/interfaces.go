package repository

import (
	"context"
	"time"

	"github.com/unclebandit/chaser-backend/internal/model"
)

type EnrollmentRepositoryInterface interface {
	Create(ctx context.Context, e *model.Enrollment) error
	GetByID(ctx context.Context, id string) (*model.Enrollment, error)
	// ListDue returns active enrollments whose next chase is at or before now,
	// ordered by (next_chase_at, id) and starting strictly after the cursor
	// when one is given.
	ListDue(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]*model.Enrollment, error)
	// RecordChase advances the enrollment and inserts the queued message in one
	// write. It returns false, with nothing written, when the enrollment is no
	// longer in the state adv expects (another tick got there first).
	RecordChase(ctx context.Context, adv model.ChaseAdvance, msg *model.OutboundMessage) (bool, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkDormant clears the next chase of an active enrollment that has
	// already reached its campaign's max chases.
	MarkDormant(ctx context.Context, id string, now time.Time) (bool, error)
	// PauseActiveForClient pauses every active enrollment of the client and
	// clears their next chase. It returns how many were paused.
	PauseActiveForClient(ctx context.Context, clientID, reason string, now time.Time) (int, error)
	RecordReceived(ctx context.Context, id string, documentIDs []string) error
}

// DueCursor is the position of the last enrollment of a ListDue page.
type DueCursor struct {
	NextChaseAt time.Time
	ID          string
}

// CursorAfter returns the cursor positioned at e.
func CursorAfter(e *model.Enrollment) *DueCursor {
	c := &DueCursor{ID: e.ID}
	if e.NextChaseAt != nil {
		c.NextChaseAt = *e.NextChaseAt
	}
	return c
}

type OutboundMessageRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.OutboundMessage, error)
	ListQueuedIDs(ctx context.Context, limit int) ([]string, error)
	// Claim marks a queued message as being dispatched. Only one caller gets
	// true until the claim is older than ttl.
	Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error)
	MarkSent(ctx context.Context, id string, res model.SendResult) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error)
	MarkOptedOut(ctx context.Context, id string, now time.Time) (bool, error)
	CancelQueuedForClient(ctx context.Context, clientID string, channel model.Channel, now time.Time) (int, error)
	// AdvanceDeliveryStatus moves a sent message forward to delivered or read
	// from a provider callback. Backward moves are ignored.
	AdvanceDeliveryStatus(ctx context.Context, externalID string, status model.MessageStatus, at time.Time) (bool, error)
	StatsForEnrollment(ctx context.Context, enrollmentID string) (map[string]int, error)
}

type ClientRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Client, error)
	GetByAddress(ctx context.Context, channel model.Channel, address string) (*model.Client, error)
	SetConsent(ctx context.Context, clientID string, channel model.Channel, status model.ConsentStatus) error
}

type ConsentRepositoryInterface interface {
	Append(ctx context.Context, rec *model.ConsentRecord) error
	History(ctx context.Context, clientID string) ([]model.ConsentRecord, error)
}

type PracticeRepositoryInterface interface {
	GetPractice(ctx context.Context, id string) (*model.Practice, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
}

type DeepLinkRepositoryInterface interface {
	FindUsable(ctx context.Context, clientID, enrollmentID string, now time.Time) (*model.DeepLink, error)
	Insert(ctx context.Context, link *model.DeepLink) error
}

type AuditRepositoryInterface interface {
	Insert(ctx context.Context, ev *model.AuditEvent) error
}

type ClassificationRepositoryInterface interface {
	ListForEnrollment(ctx context.Context, enrollmentID string) ([]model.DocumentClassification, error)
}
