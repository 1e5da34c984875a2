package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
)

// Actions recorded by the chase engine.
const (
	ActionConsentRevoked = "consent.revoked"
	ActionConsentGranted = "consent.granted"
)

// Logger records audit events. Log never blocks the caller and never fails.
type Logger interface {
	Log(ev model.AuditEvent)
}

// AsyncLogger buffers events and writes them through the audit repository on
// a background goroutine. Write failures are logged and dropped.
type AsyncLogger struct {
	repo    repository.AuditRepositoryInterface
	log     *slog.Logger
	events  chan model.AuditEvent
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

func NewAsyncLogger(repo repository.AuditRepositoryInterface, log *slog.Logger, buffer int) *AsyncLogger {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	l := &AsyncLogger{
		repo:    repo,
		log:     log,
		events:  make(chan model.AuditEvent, buffer),
		timeout: 5 * time.Second,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *AsyncLogger) Log(ev model.AuditEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case l.events <- ev:
	default:
		l.log.Warn("audit buffer full, dropping event", "action", ev.Action, "resource", ev.Resource)
	}
}

func (l *AsyncLogger) run() {
	defer l.wg.Done()
	for ev := range l.events {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.repo.Insert(ctx, &ev); err != nil {
			l.log.Error("audit write failed", "action", ev.Action, "resource", ev.Resource, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (l *AsyncLogger) Close() {
	l.once.Do(func() { close(l.events) })
	l.wg.Wait()
}

// Discard drops every event.
type Discard struct{}

func (Discard) Log(model.AuditEvent) {}

var (
	_ Logger = (*AsyncLogger)(nil)
	_ Logger = Discard{}
)
