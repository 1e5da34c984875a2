package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/chaser-backend/internal/consent"
	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/escalation"
	"github.com/unclebandit/chaser-backend/internal/metrics"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/sender"
	"github.com/unclebandit/chaser-backend/internal/session"
)

// UnsubscribeLinker signs the unsubscribe link appended to chase emails.
type UnsubscribeLinker interface {
	UnsubscribeURL(baseURL, clientID string, channel model.Channel) (string, error)
}

// errThrottled means the channel's rate limit could not be met inside the
// claim. The message stays queued and claimed, and is picked up again once
// the claim lapses.
var errThrottled = errors.New("rate limit wait exceeds claim")

type DispatchSummary struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	OptedOut int `json:"opted_out"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Dispatcher delivers queued outbound messages. Each message is sent at most
// once: it is claimed in the store before the provider call, every terminal
// write is conditional on the message still being queued, and once the
// provider has been called the message always ends terminal. Nothing is
// retried after a provider failure.
type Dispatcher struct {
	MessageRepo    repository.OutboundMessageRepositoryInterface
	ClientRepo     repository.ClientRepositoryInterface
	PracticeRepo   repository.PracticeRepositoryInterface
	EnrollmentRepo repository.EnrollmentRepositoryInterface
	Links          LinkIssuer
	Sessions       *session.Tracker
	Unsubscribe    UnsubscribeLinker
	PublicBaseURL  string
	Email          sender.EmailSender
	Chat           sender.ChatSender
	Limiters       map[model.Channel]*rate.Limiter
	EmailCostMinor int64
	ClaimTTL       time.Duration
	SendTimeout    time.Duration
	Workers        int
	BatchSize      int
	Now            func() time.Time
	Log            *slog.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// NewLimiters builds one token bucket per provider-backed channel.
func NewLimiters(emailPerSecond, chatPerSecond float64) map[model.Channel]*rate.Limiter {
	return map[model.Channel]*rate.Limiter{
		model.ChannelEmail: rate.NewLimiter(rate.Limit(emailPerSecond), max(1, int(emailPerSecond))),
		model.ChannelChat:  rate.NewLimiter(rate.Limit(chatPerSecond), max(1, int(chatPerSecond))),
	}
}

// Dispatch sends one message. It is a no-op for messages that are not queued
// or are claimed by another dispatcher. Errors are returned only when the
// store could not be read or written; delivery failures are recorded on the
// message.
func (d *Dispatcher) Dispatch(ctx context.Context, messageID string) error {
	_, err := d.dispatchOne(ctx, messageID)
	return err
}

// DispatchQueued sends every queued message, up to the batch size.
func (d *Dispatcher) DispatchQueued(ctx context.Context) (DispatchSummary, error) {
	var summary DispatchSummary
	batch := d.BatchSize
	if batch <= 0 {
		batch = 500
	}
	ids, err := d.MessageRepo.ListQueuedIDs(ctx, batch)
	if err != nil {
		return summary, fmt.Errorf("list queued messages: %w", err)
	}

	workers := d.Workers
	if workers <= 0 {
		workers = 1
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		g.Go(func() error {
			status, err := d.dispatchOne(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
				d.logger().Error("dispatch failed", "message_id", id, "error", err)
				return nil
			}
			switch status {
			case model.MessageSent:
				summary.Sent++
			case model.MessageFailed:
				summary.Failed++
			case model.MessageOptedOut:
				summary.OptedOut++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger().Info("dispatch finished", "queued", len(ids), "sent", summary.Sent, "failed", summary.Failed,
		"opted_out", summary.OptedOut, "skipped", summary.Skipped, "errors", summary.Errors)
	return summary, nil
}

// dispatchOne returns the terminal status it wrote, or "" when it left the
// message alone.
func (d *Dispatcher) dispatchOne(ctx context.Context, id string) (model.MessageStatus, error) {
	msg, err := d.MessageRepo.GetByID(ctx, id)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if msg.Status != model.MessageQueued {
		return "", nil
	}
	now := d.now()
	claimed, err := d.MessageRepo.Claim(ctx, id, now, d.claimTTL())
	if err != nil || !claimed {
		return "", err
	}

	client, err := d.ClientRepo.GetByID(ctx, msg.ClientID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return d.fail(ctx, msg, err)
		}
		return "", err
	}
	if !consent.Allows(client, msg.Channel) {
		ok, err := d.MessageRepo.MarkOptedOut(ctx, id, d.now())
		if err != nil || !ok {
			return "", err
		}
		metrics.DispatchMessages.WithLabelValues(string(msg.Channel), string(model.MessageOptedOut)).Inc()
		return model.MessageOptedOut, nil
	}
	practice, err := d.PracticeRepo.GetPractice(ctx, msg.PracticeID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return d.fail(ctx, msg, err)
		}
		return "", err
	}

	res, attempted, err := d.send(ctx, msg, client, practice, now)
	if err != nil && !attempted {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, errThrottled) {
			d.logger().Warn("send deferred, message stays claimed", "message_id", id, "error", err)
			return "", nil
		}
	}
	// The provider may have accepted the message, so the outcome is recorded
	// even when ctx was cancelled mid-call.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		return d.fail(ctx, msg, err)
	}

	ok, err := d.MessageRepo.MarkSent(ctx, id, res)
	if err != nil {
		return "", err
	}
	if !ok {
		d.logger().Warn("message left queued state during send", "message_id", id, "external_id", res.ExternalID)
		return "", nil
	}
	metrics.DispatchMessages.WithLabelValues(string(msg.Channel), string(model.MessageSent)).Inc()
	return model.MessageSent, nil
}

func (d *Dispatcher) fail(ctx context.Context, msg *model.OutboundMessage, cause error) (model.MessageStatus, error) {
	reason := appErrors.Reason(cause)
	ok, err := d.MessageRepo.MarkFailed(ctx, msg.ID, reason, d.now())
	if err != nil || !ok {
		return "", err
	}
	metrics.DispatchMessages.WithLabelValues(string(msg.Channel), string(model.MessageFailed)).Inc()
	d.logger().Warn("message failed", "message_id", msg.ID, "channel", msg.Channel, "reason", reason)
	return model.MessageFailed, nil
}

func (d *Dispatcher) claimTTL() time.Duration {
	if d.ClaimTTL > 0 {
		return d.ClaimTTL
	}
	return 5 * time.Minute
}

func (d *Dispatcher) sendTimeout() time.Duration {
	if d.SendTimeout > 0 {
		return d.SendTimeout
	}
	return 15 * time.Second
}

// send routes the message to its channel's provider. attempted reports
// whether the provider was called.
func (d *Dispatcher) send(ctx context.Context, msg *model.OutboundMessage, client *model.Client, practice *model.Practice, now time.Time) (res model.SendResult, attempted bool, err error) {
	switch msg.Channel {
	case model.ChannelEmail:
		return d.sendEmail(ctx, msg, client, practice)
	case model.ChannelChat:
		return d.sendChat(ctx, msg, client, practice, now)
	case model.ChannelSMS:
		if client.Phone == "" {
			return model.SendResult{}, false, appErrors.NewMissingAddress("sms")
		}
		return model.SendResult{}, false, appErrors.NewNotImplemented("sms delivery")
	}
	return model.SendResult{}, false, fmt.Errorf("unknown channel %q", msg.Channel)
}

// maxThrottleWait keeps the limiter wait plus the provider call inside the
// claim, so no other dispatcher can take the message while it is in flight.
func (d *Dispatcher) maxThrottleWait() time.Duration {
	if w := d.claimTTL() - d.sendTimeout(); w > 0 {
		return w
	}
	return d.claimTTL() / 2
}

// throttle waits for the channel's limiter, then returns a context bounded by
// the per-call timeout.
func (d *Dispatcher) throttle(ctx context.Context, channel model.Channel) (context.Context, context.CancelFunc, error) {
	if l := d.Limiters[channel]; l != nil {
		waitCtx, cancel := context.WithTimeout(ctx, d.maxThrottleWait())
		err := l.Wait(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("%w: %s: %v", errThrottled, channel, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, d.sendTimeout())
	return callCtx, cancel, nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, msg *model.OutboundMessage, client *model.Client, practice *model.Practice) (model.SendResult, bool, error) {
	if client.Email == "" {
		return model.SendResult{}, false, appErrors.NewMissingAddress("email")
	}
	if practice.EmailFrom == "" {
		return model.SendResult{}, false, appErrors.NewMissingSenderConfig("email")
	}
	if d.Email == nil {
		return model.SendResult{}, false, appErrors.NewNotImplemented("email provider")
	}
	text, htmlBody := msg.BodyText, msg.BodyHTML
	if d.Unsubscribe != nil {
		link, err := d.Unsubscribe.UnsubscribeURL(d.PublicBaseURL, client.ID, model.ChannelEmail)
		if err != nil {
			return model.SendResult{}, false, fmt.Errorf("unsubscribe link: %w", err)
		}
		text += "\n\nTo stop these reminders: " + link
		htmlBody += `<p><a href="` + html.EscapeString(link) + `">Unsubscribe</a></p>`
	}

	callCtx, cancel, err := d.throttle(ctx, model.ChannelEmail)
	if err != nil {
		return model.SendResult{}, false, err
	}
	defer cancel()

	start := time.Now()
	id, err := d.Email.SendEmail(callCtx, client.Email, practice.EmailFrom, msg.Subject, text, htmlBody)
	metrics.ProviderLatency.WithLabelValues(string(model.ChannelEmail)).Observe(time.Since(start).Seconds())
	if err != nil {
		return model.SendResult{}, true, err
	}
	return model.SendResult{ExternalID: id, CostMinor: d.EmailCostMinor, SentAt: d.now()}, true, nil
}

func (d *Dispatcher) sendChat(ctx context.Context, msg *model.OutboundMessage, client *model.Client, practice *model.Practice, now time.Time) (model.SendResult, bool, error) {
	if client.ChatAddress == "" {
		return model.SendResult{}, false, appErrors.NewMissingAddress("chat")
	}
	if practice.ChatSender == "" {
		return model.SendResult{}, false, appErrors.NewMissingSenderConfig("chat")
	}
	if d.Chat == nil {
		return model.SendResult{}, false, appErrors.NewNotImplemented("chat provider")
	}

	window := false
	if d.Sessions != nil {
		in, err := d.Sessions.InWindow(ctx, client.ID, now)
		if err != nil {
			// Without the session state only a template is safe to send.
			d.logger().Warn("session lookup failed, using template", "client_id", client.ID, "error", err)
		}
		window = in
	}

	var vars map[string]string
	if !window {
		var err error
		if vars, err = d.templateVariables(ctx, msg, client, practice, now); err != nil {
			return model.SendResult{}, false, err
		}
	}
	payload := session.SelectPayload(msg.EscalationLevel, window, nil, session.TemplateSetFromPractice(practice), msg.BodyText, vars)
	if payload.Warning != "" {
		d.logger().Warn(payload.Warning, "message_id", msg.ID, "practice_id", practice.ID)
	}

	callCtx, cancel, err := d.throttle(ctx, model.ChannelChat)
	if err != nil {
		return model.SendResult{}, false, err
	}
	defer cancel()

	start := time.Now()
	id, price, err := d.Chat.SendChatMessage(callCtx, sender.ChatMessage{
		From:       practice.ChatSender,
		To:         client.ChatAddress,
		Text:       payload.Text,
		TemplateID: string(payload.TemplateID),
		Variables:  payload.Variables,
	})
	metrics.ProviderLatency.WithLabelValues(string(model.ChannelChat)).Observe(time.Since(start).Seconds())
	if err != nil {
		return model.SendResult{}, true, err
	}
	return model.SendResult{ExternalID: id, CostMinor: price, SentAt: d.now()}, true, nil
}

// templateVariables rebuilds the values a chat template is filled with.
func (d *Dispatcher) templateVariables(ctx context.Context, msg *model.OutboundMessage, client *model.Client, practice *model.Practice, now time.Time) (map[string]string, error) {
	mctx := escalation.MessageContext{FirstName: client.FirstName, PracticeName: practice.Name}
	if d.EnrollmentRepo != nil {
		e, err := d.EnrollmentRepo.GetByID(ctx, msg.EnrollmentID)
		if err != nil {
			return nil, err
		}
		mctx.Remaining = e.Outstanding()
	}
	if d.Links != nil {
		link, err := d.Links.GetOrCreateLink(ctx, practice.ID, client.ID, msg.EnrollmentID, now)
		if err != nil {
			return nil, err
		}
		mctx.Link = link
	}
	return escalation.Variables(mctx), nil
}

// ApplyDeliveryStatus moves a sent message forward from a provider callback.
// It reports false when the message was unknown or already further along.
func (d *Dispatcher) ApplyDeliveryStatus(ctx context.Context, externalID string, status model.MessageStatus, at time.Time) (bool, error) {
	if at.IsZero() {
		at = d.now()
	}
	return d.MessageRepo.AdvanceDeliveryStatus(ctx, externalID, status, at.UTC())
}
