package consent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unclebandit/chaser-backend/internal/audit"
	"github.com/unclebandit/chaser-backend/internal/metrics"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
)

// OptOutRequest identifies who revoked which channel and how.
type OptOutRequest struct {
	ClientID   string
	PracticeID string
	Channel    model.Channel
	Method     string
	Actor      string
}

type OptOutResult struct {
	AllChannelsRevoked bool `json:"all_channels_revoked"`
	EnrollmentsPaused  int  `json:"enrollments_paused"`
	MessagesCancelled  int  `json:"messages_cancelled"`
}

type OptInRequest struct {
	ClientID   string
	PracticeID string
	Channel    model.Channel
	Method     string
	Actor      string
}

// Gate answers whether a client may be contacted on a channel and applies
// consent changes together with their side effects.
type Gate struct {
	Clients     repository.ClientRepositoryInterface
	Records     repository.ConsentRepositoryInterface
	Messages    repository.OutboundMessageRepositoryInterface
	Enrollments repository.EnrollmentRepositoryInterface
	Audit       audit.Logger
	Log         *slog.Logger
	Now         func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Gate) logger() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}

// HasConsent requires the client's master chase switch and a granted status
// on the channel. A false answer is not an error.
func (g *Gate) HasConsent(ctx context.Context, clientID string, channel model.Channel) (bool, error) {
	c, err := g.Clients.GetByID(ctx, clientID)
	if err != nil {
		return false, err
	}
	return Allows(c, channel), nil
}

// Allows is HasConsent for an already loaded client.
func Allows(c *model.Client, channel model.Channel) bool {
	return c.ChaseEnabled && c.ConsentFor(channel) == model.ConsentGranted
}

// legalBasis is the basis a channel's consent rests on.
func legalBasis(channel model.Channel) model.LegalBasis {
	if channel == model.ChannelEmail {
		return model.BasisLegitimateInterest
	}
	return model.BasisConsent
}

// ProcessOptOut revokes the channel, records it, cancels queued messages on
// that channel and, when no channel remains granted, pauses every active
// enrollment of the client.
func (g *Gate) ProcessOptOut(ctx context.Context, req OptOutRequest) (OptOutResult, error) {
	var res OptOutResult
	if !req.Channel.Valid() {
		return res, fmt.Errorf("unknown channel %q", req.Channel)
	}
	now := g.now()

	if err := g.Clients.SetConsent(ctx, req.ClientID, req.Channel, model.ConsentRevoked); err != nil {
		return res, fmt.Errorf("revoke %s consent: %w", req.Channel, err)
	}
	if err := g.Records.Append(ctx, &model.ConsentRecord{
		ClientID:   req.ClientID,
		PracticeID: req.PracticeID,
		Channel:    req.Channel,
		Status:     model.ConsentRevoked,
		Method:     req.Method,
		LegalBasis: legalBasis(req.Channel),
		Actor:      req.Actor,
		RecordedAt: now,
	}); err != nil {
		return res, fmt.Errorf("append consent record: %w", err)
	}

	cancelled, err := g.Messages.CancelQueuedForClient(ctx, req.ClientID, req.Channel, now)
	if err != nil {
		return res, fmt.Errorf("cancel queued %s messages: %w", req.Channel, err)
	}
	res.MessagesCancelled = cancelled

	client, err := g.Clients.GetByID(ctx, req.ClientID)
	if err != nil {
		return res, err
	}
	if len(client.GrantedChannels()) == 0 {
		res.AllChannelsRevoked = true
		reason := fmt.Sprintf("all channels revoked: %s opt-out via %s", req.Channel, req.Method)
		if res.EnrollmentsPaused, err = g.Enrollments.PauseActiveForClient(ctx, req.ClientID, reason, now); err != nil {
			return res, fmt.Errorf("pause enrollments: %w", err)
		}
	}

	metrics.OptOuts.WithLabelValues(string(req.Channel)).Inc()
	g.audit(model.AuditEvent{
		PracticeID: req.PracticeID,
		ClientID:   req.ClientID,
		Actor:      req.Actor,
		Action:     audit.ActionConsentRevoked,
		Resource:   "client:" + req.ClientID,
		Metadata: map[string]string{
			"channel":            string(req.Channel),
			"method":             req.Method,
			"messages_cancelled": fmt.Sprint(res.MessagesCancelled),
			"enrollments_paused": fmt.Sprint(res.EnrollmentsPaused),
		},
		OccurredAt: now,
	})
	g.logger().Info("consent revoked",
		"client_id", req.ClientID, "channel", req.Channel, "method", req.Method,
		"cancelled", res.MessagesCancelled, "paused", res.EnrollmentsPaused)
	return res, nil
}

// ProcessOptIn grants the channel and records it. Paused enrollments stay
// paused until an operator resumes them.
func (g *Gate) ProcessOptIn(ctx context.Context, req OptInRequest) error {
	if !req.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", req.Channel)
	}
	now := g.now()

	if err := g.Clients.SetConsent(ctx, req.ClientID, req.Channel, model.ConsentGranted); err != nil {
		return fmt.Errorf("grant %s consent: %w", req.Channel, err)
	}
	if err := g.Records.Append(ctx, &model.ConsentRecord{
		ClientID:   req.ClientID,
		PracticeID: req.PracticeID,
		Channel:    req.Channel,
		Status:     model.ConsentGranted,
		Method:     req.Method,
		LegalBasis: model.BasisConsent,
		Actor:      req.Actor,
		RecordedAt: now,
	}); err != nil {
		return fmt.Errorf("append consent record: %w", err)
	}

	g.audit(model.AuditEvent{
		PracticeID: req.PracticeID,
		ClientID:   req.ClientID,
		Actor:      req.Actor,
		Action:     audit.ActionConsentGranted,
		Resource:   "client:" + req.ClientID,
		Metadata:   map[string]string{"channel": string(req.Channel), "method": req.Method},
		OccurredAt: now,
	})
	g.logger().Info("consent granted", "client_id", req.ClientID, "channel", req.Channel, "method", req.Method)
	return nil
}

func (g *Gate) audit(ev model.AuditEvent) {
	if g.Audit != nil {
		g.Audit.Log(ev)
	}
}
