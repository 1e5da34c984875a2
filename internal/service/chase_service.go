package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/chaser-backend/internal/escalation"
	"github.com/unclebandit/chaser-backend/internal/metrics"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/queue"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/schedule"
)

// LinkIssuer returns the portal upload link for a client's enrollment.
type LinkIssuer interface {
	GetOrCreateLink(ctx context.Context, practiceID, clientID, enrollmentID string, now time.Time) (string, error)
}

// Publisher is the part of queue.Queue the tick needs.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Tick outcomes, also used as metric labels.
const (
	outcomeChased    = "chased"
	outcomeCompleted = "completed"
	outcomeDormant   = "dormant"
	outcomeSkipped   = "skipped"
	outcomeError     = "error"
)

type TickSummary struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Completed int `json:"completed"`
}

// ChaseService runs the periodic chase tick.
type ChaseService struct {
	EnrollmentRepo repository.EnrollmentRepositoryInterface
	ClientRepo     repository.ClientRepositoryInterface
	PracticeRepo   repository.PracticeRepositoryInterface
	Links          LinkIssuer
	Queue          Publisher
	Rand           schedule.RandSource
	Workers        int
	BatchSize      int
	Log            *slog.Logger
}

func (s *ChaseService) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Tick chases every enrollment due at now. Enrollments are handled
// independently: a failure is counted and the rest carry on. Due enrollments
// are read in pages by (next_chase_at, id), so rows that keep failing cannot
// hide the ones behind them. Only a failure to list due enrollments is
// returned as an error.
func (s *ChaseService) Tick(ctx context.Context, now time.Time) (TickSummary, error) {
	var summary TickSummary
	now = now.UTC()

	batch := s.BatchSize
	if batch <= 0 {
		batch = 500
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	cache := newConfigCache(s.PracticeRepo)
	var (
		mu    sync.Mutex
		total int
		after *repository.DueCursor
	)
	for {
		due, err := s.EnrollmentRepo.ListDue(ctx, now, after, batch)
		if err != nil {
			return summary, fmt.Errorf("list due enrollments: %w", err)
		}
		total += len(due)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, e := range due {
			g.Go(func() error {
				outcome, err := s.chaseOne(gctx, cache, e, now)
				if err != nil {
					outcome = outcomeError
					s.logger().Error("chase failed", "enrollment_id", e.ID, "error", err)
				}
				metrics.TickEnrollments.WithLabelValues(outcome).Inc()

				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeChased:
					summary.Processed++
				case outcomeCompleted:
					summary.Completed++
				case outcomeError:
					summary.Errors++
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < batch || ctx.Err() != nil {
			break
		}
		after = repository.CursorAfter(due[len(due)-1])
	}

	s.logger().Info("chase tick finished",
		"due", total, "processed", summary.Processed, "completed", summary.Completed, "errors", summary.Errors)
	return summary, nil
}

func (s *ChaseService) chaseOne(ctx context.Context, cache *configCache, e *model.Enrollment, now time.Time) (string, error) {
	if e.Outstanding() == 0 {
		if _, err := s.EnrollmentRepo.MarkCompleted(ctx, e.ID, now); err != nil {
			return "", fmt.Errorf("complete enrollment: %w", err)
		}
		return outcomeCompleted, nil
	}

	campaign, err := cache.campaign(ctx, e.CampaignID)
	if err != nil {
		return "", err
	}
	if e.ChasesDelivered >= campaign.MaxChases {
		if _, err := s.EnrollmentRepo.MarkDormant(ctx, e.ID, now); err != nil {
			return "", fmt.Errorf("mark dormant: %w", err)
		}
		return outcomeDormant, nil
	}
	practice, err := cache.practice(ctx, e.PracticeID)
	if err != nil {
		return "", err
	}
	client, err := s.ClientRepo.GetByID(ctx, e.ClientID)
	if err != nil {
		return "", err
	}

	level := escalation.Max(escalation.EscalationLevel(e.ChasesDelivered, campaign.EscalateAfter), e.EscalationLevel)
	channel := escalation.SelectChannel(e.ChasesDelivered, client.PreferredChannel, practice.DefaultChannel)

	link, err := s.Links.GetOrCreateLink(ctx, practice.ID, client.ID, e.ID, now)
	if err != nil {
		return "", fmt.Errorf("deep link: %w", err)
	}
	subject, body := escalation.GenerateMessage(level, escalation.MessageContext{
		FirstName:    client.FirstName,
		PracticeName: practice.Name,
		Remaining:    e.Outstanding(),
		Deadline:     campaign.Deadline,
		Link:         link,
	})

	delivered := e.ChasesDelivered + 1
	var next *time.Time
	if delivered < campaign.MaxChases {
		t := practice.Hours.Next(now.In(practice.Location), campaign.CadenceDays, campaign.SkipWeekends, s.Rand).UTC()
		next = &t
	}

	msg := &model.OutboundMessage{
		ID:              uuid.NewString(),
		EnrollmentID:    e.ID,
		ClientID:        client.ID,
		PracticeID:      practice.ID,
		Channel:         channel,
		EscalationLevel: level,
		ChaseNumber:     delivered,
		BodyText:        body,
		QueuedAt:        now,
	}
	if channel == model.ChannelEmail {
		msg.Subject = subject
		msg.BodyHTML = escalation.RenderHTML(body, link)
	}

	ok, err := s.EnrollmentRepo.RecordChase(ctx, model.ChaseAdvance{
		EnrollmentID:    e.ID,
		ExpectedChases:  e.ChasesDelivered,
		ChasesDelivered: delivered,
		EscalationLevel: level,
		LastChasedAt:    now,
		NextChaseAt:     next,
	}, msg)
	if err != nil {
		return "", fmt.Errorf("record chase: %w", err)
	}
	if !ok {
		return outcomeSkipped, nil
	}

	if s.Queue != nil {
		if err := s.Queue.Publish(queue.DispatchTopic, queue.DispatchJob{MessageID: msg.ID}); err != nil {
			s.logger().Warn("dispatch publish failed, message stays queued", "message_id", msg.ID, "error", err)
		}
	}
	s.logger().Debug("chase queued", "enrollment_id", e.ID, "message_id", msg.ID,
		"chase", delivered, "level", level.String(), "channel", channel)
	return outcomeChased, nil
}
