// Package app wires configuration into the repositories, services and
// transports shared by the chaser binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/chaser-backend/internal/audit"
	"github.com/unclebandit/chaser-backend/internal/config"
	"github.com/unclebandit/chaser-backend/internal/consent"
	"github.com/unclebandit/chaser-backend/internal/controller"
	"github.com/unclebandit/chaser-backend/internal/db"
	"github.com/unclebandit/chaser-backend/internal/deeplink"
	"github.com/unclebandit/chaser-backend/internal/handler"
	"github.com/unclebandit/chaser-backend/internal/lock"
	"github.com/unclebandit/chaser-backend/internal/metrics"
	"github.com/unclebandit/chaser-backend/internal/queue"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/schedule"
	"github.com/unclebandit/chaser-backend/internal/scheduler"
	"github.com/unclebandit/chaser-backend/internal/sender"
	"github.com/unclebandit/chaser-backend/internal/service"
	"github.com/unclebandit/chaser-backend/internal/session"
)

// DispatchQueue is what the binaries need from a queue transport.
type DispatchQueue interface {
	queue.Queue
	Close() error
}

type App struct {
	Config *config.Config
	Log    *slog.Logger
	DB     *sql.DB
	Redis  *redis.Client
	Queue  DispatchQueue

	Sessions    *session.Tracker
	Tokens      *consent.TokenSigner
	Audit       *audit.AsyncLogger
	Gate        *consent.Gate
	Chase       *service.ChaseService
	Dispatcher  *service.Dispatcher
	Enrollments *service.EnrollmentService
	Scheduler   *scheduler.Scheduler
}

// New opens every connection the configuration asks for. Close releases them.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	if a.DB, err = db.Open(ctx, cfg.Database, log); err != nil {
		return nil, err
	}

	var sessionStore session.Store = session.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		sessionStore = session.NewRedisStore(a.Redis)
	} else {
		log.Warn("no redis configured, chat session windows are kept in process memory")
	}
	a.Sessions = session.NewTracker(sessionStore)

	if cfg.AMQP.URL != "" {
		q, err := queue.DialAMQP(cfg.AMQP.URL, log)
		if err != nil {
			return nil, err
		}
		a.Queue = q
	} else {
		a.Queue = inProcessQueue{queue.NewInMemoryQueue(log)}
	}

	if a.Tokens, err = consent.NewTokenSigner(cfg.Tokens.UnsubscribeSecret); err != nil {
		return nil, err
	}

	email, chat, err := senders(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	enrollments := &repository.EnrollmentRepository{DB: a.DB}
	messages := &repository.OutboundMessageRepository{DB: a.DB}
	clients := &repository.ClientRepository{DB: a.DB}
	practices := &repository.PracticeRepository{DB: a.DB}
	links := deeplink.NewIssuer(&repository.DeepLinkRepository{DB: a.DB}, cfg.Tokens.PortalBaseURL, cfg.Tokens.DeepLinkTTL)

	a.Audit = audit.NewAsyncLogger(&repository.AuditRepository{DB: a.DB}, log, 256)
	a.Gate = &consent.Gate{
		Clients:     clients,
		Records:     &repository.ConsentRepository{DB: a.DB},
		Messages:    messages,
		Enrollments: enrollments,
		Audit:       a.Audit,
		Log:         log,
	}
	a.Chase = &service.ChaseService{
		EnrollmentRepo: enrollments,
		ClientRepo:     clients,
		PracticeRepo:   practices,
		Links:          links,
		Queue:          a.Queue,
		Rand:           schedule.NewSeededRand(uint64(time.Now().UnixNano())),
		Workers:        cfg.Dispatch.TickWorkers,
		BatchSize:      cfg.Dispatch.BatchSize,
		Log:            log,
	}
	a.Dispatcher = &service.Dispatcher{
		MessageRepo:    messages,
		ClientRepo:     clients,
		PracticeRepo:   practices,
		EnrollmentRepo: enrollments,
		Links:          links,
		Sessions:       a.Sessions,
		Unsubscribe:    a.Tokens,
		PublicBaseURL:  cfg.Tokens.PublicBaseURL,
		Email:          email,
		Chat:           chat,
		Limiters:       service.NewLimiters(cfg.Dispatch.EmailPerSecond, cfg.Dispatch.ChatPerSecond),
		EmailCostMinor: cfg.Email.CostMinor,
		ClaimTTL:       cfg.Dispatch.ClaimTTL,
		SendTimeout:    cfg.Dispatch.SendTimeout,
		Workers:        cfg.Dispatch.DispatchWorkers,
		BatchSize:      cfg.Dispatch.BatchSize,
		Log:            log,
	}
	a.Enrollments = &service.EnrollmentService{
		EnrollmentRepo:     enrollments,
		MessageRepo:        messages,
		ClientRepo:         clients,
		PracticeRepo:       practices,
		ClassificationRepo: &repository.ClassificationRepository{DB: a.DB},
		Log:                log,
	}
	a.Scheduler, err = scheduler.New(scheduler.Options{
		Spec:     cfg.Scheduler.Cron,
		Chase:    a.Chase,
		Dispatch: a.Dispatcher,
		Locker:   lock.New(a.Redis, a.DB, cfg.Scheduler.LockKey, cfg.Scheduler.LockTTL),
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func senders(ctx context.Context, cfg *config.Config, log *slog.Logger) (sender.EmailSender, sender.ChatSender, error) {
	dry := sender.DryRun{Log: log}
	var (
		email sender.EmailSender = dry
		chat  sender.ChatSender  = dry
	)
	if !cfg.Email.DryRun {
		ses, err := sender.NewSESSender(ctx, sender.SESConfig{
			Region:           cfg.Email.Region,
			AccessKeyID:      cfg.Email.AccessKeyID,
			SecretAccessKey:  cfg.Email.SecretAccessKey,
			ConfigurationSet: cfg.Email.ConfigurationSet,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		email = ses
	}
	if !cfg.Chat.DryRun && cfg.Chat.BaseURL != "" {
		chat = sender.NewHTTPChatSender(sender.ChatConfig{
			BaseURL:   cfg.Chat.BaseURL,
			AccountID: cfg.Chat.AccountID,
			Token:     cfg.Chat.Token,
			Timeout:   cfg.Chat.Timeout,
		}, nil, log)
	} else if !cfg.Chat.DryRun {
		log.Warn("no chat provider configured, chat messages are logged only")
	}
	return email, chat, nil
}

// Router builds the HTTP surface: operator API, provider webhooks, the
// unsubscribe page, health and metrics.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	if a.Config.Metrics.Enabled {
		r.Handle(a.Config.Metrics.Path, metrics.Handler())
	}

	ctrl := &controller.ChaseController{
		Chase:       a.Chase,
		Dispatcher:  a.Dispatcher,
		Enrollments: a.Enrollments,
		Gate:        a.Gate,
		Consent:     a.Gate.Records,
		Log:         a.Log,
	}
	r.Route("/api/v1", ctrl.Routes)

	hooks := &handler.WebhookHandler{
		Clients:  a.Gate.Clients,
		Sessions: a.Sessions,
		Gate:     a.Gate,
		Status:   a.Dispatcher,
		Tokens:   a.Tokens,
		Log:      a.Log,
	}
	hooks.Routes(r)
	return r
}

// StartWorker consumes dispatch jobs from the queue.
func (a *App) StartWorker(ctx context.Context) error {
	return service.NewWorker(a.Dispatcher, a.Queue, a.Log).Start(ctx)
}

func (a *App) Close() {
	if a.Audit != nil {
		a.Audit.Close()
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Log.Warn("close queue", "error", err)
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// inProcessQueue lets the in-memory queue stand in for the AMQP transport.
type inProcessQueue struct{ *queue.InMemoryQueue }

func (q inProcessQueue) Close() error {
	q.Wait()
	return nil
}
