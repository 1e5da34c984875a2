package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/chaser-backend/internal/consent"
	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/logging"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/session"
)

// Keywords are matched on the whole trimmed, upper-cased message.
var (
	stopKeywords  = map[string]bool{"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "CANCEL": true, "END": true, "QUIT": true}
	startKeywords = map[string]bool{"START": true, "UNSTOP": true, "SUBSCRIBE": true, "YES": true}
)

// DeliveryStatusApplier is the part of the dispatcher status callbacks need.
type DeliveryStatusApplier interface {
	ApplyDeliveryStatus(ctx context.Context, externalID string, status model.MessageStatus, at time.Time) (bool, error)
}

// WebhookHandler serves the public endpoints providers and clients reach:
// inbound messages, delivery status callbacks and unsubscribe links.
type WebhookHandler struct {
	Clients  repository.ClientRepositoryInterface
	Sessions *session.Tracker
	Gate     *consent.Gate
	Status   DeliveryStatusApplier
	Tokens   *consent.TokenSigner
	Now      func() time.Time
	Log      *slog.Logger
}

func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/webhooks/inbound", h.Inbound)
	r.Post("/webhooks/status", h.DeliveryStatus)
	r.Get("/unsubscribe/{token}", h.Unsubscribe)
}

func (h *WebhookHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *WebhookHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

type inboundPayload struct {
	Channel    model.Channel `json:"channel"`
	From       string        `json:"from"`
	Text       string        `json:"text"`
	ReceivedAt *time.Time    `json:"received_at,omitempty"`
}

type inboundResult struct {
	ClientID string `json:"client_id,omitempty"`
	Action   string `json:"action"`
}

// Inbound handles a message a client sent us. Chat messages open the session
// window; keyword messages change consent on the channel they arrived on.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var p inboundPayload
	if !decode(w, r, &p) {
		return
	}
	if !p.Channel.Valid() || p.Channel == model.ChannelEmail || p.From == "" {
		http.Error(w, "a chat or sms channel and from address are required", http.StatusBadRequest)
		return
	}
	// A provider timestamp may backdate the message but never extend the
	// session window past now.
	at := h.now()
	if p.ReceivedAt != nil && p.ReceivedAt.Before(at) {
		at = p.ReceivedAt.UTC()
	}

	client, err := h.Clients.GetByAddress(r.Context(), p.Channel, p.From)
	if err != nil {
		if appErrors.IsNotFound(err) {
			// Providers retry on errors; an unknown sender is not one.
			h.logger().Info("inbound from unknown sender", "channel", p.Channel, "from", logging.RedactPhone(p.From))
			writeJSON(w, http.StatusOK, inboundResult{Action: "ignored"})
			return
		}
		writeError(w, err)
		return
	}

	if p.Channel == model.ChannelChat && h.Sessions != nil {
		if err := h.Sessions.RecordInbound(r.Context(), client.ID, at); err != nil {
			writeError(w, err)
			return
		}
	}

	res := inboundResult{ClientID: client.ID, Action: "recorded"}
	keyword := strings.ToUpper(strings.TrimSpace(p.Text))
	switch {
	case stopKeywords[keyword]:
		_, err = h.Gate.ProcessOptOut(r.Context(), consent.OptOutRequest{
			ClientID: client.ID, PracticeID: client.PracticeID, Channel: p.Channel,
			Method: model.MethodKeyword, Actor: "client",
		})
		res.Action = "opted_out"
	case startKeywords[keyword]:
		err = h.Gate.ProcessOptIn(r.Context(), consent.OptInRequest{
			ClientID: client.ID, PracticeID: client.PracticeID, Channel: p.Channel,
			Method: model.MethodKeyword, Actor: "client",
		})
		res.Action = "opted_in"
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusPayload struct {
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// DeliveryStatus applies a provider delivery receipt. Unknown ids and
// out-of-order receipts are acknowledged and ignored.
func (h *WebhookHandler) DeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var p statusPayload
	if !decode(w, r, &p) {
		return
	}
	status := model.MessageStatus(strings.ToLower(p.Status))
	if p.ExternalID == "" || (status != model.MessageDelivered && status != model.MessageRead) {
		http.Error(w, "external_id and a delivered or read status are required", http.StatusBadRequest)
		return
	}
	at := h.now()
	if p.Timestamp != nil {
		at = p.Timestamp.UTC()
	}
	applied, err := h.Status.ApplyDeliveryStatus(r.Context(), p.ExternalID, status, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

var unsubscribedPage = template.Must(template.New("unsubscribed").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body><p>You will no longer receive document reminders by {{.}}.</p></body></html>
`))

// Unsubscribe handles the link embedded in chase emails.
func (h *WebhookHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	subject, err := h.Tokens.Verify(chi.URLParam(r, "token"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, consent.ErrTokenExpired) {
			status = http.StatusGone
		}
		http.Error(w, "this unsubscribe link is invalid or has expired", status)
		return
	}
	client, err := h.Clients.GetByID(r.Context(), subject.ClientID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			http.Error(w, "this unsubscribe link is invalid or has expired", http.StatusBadRequest)
			return
		}
		writeError(w, err)
		return
	}
	if _, err := h.Gate.ProcessOptOut(r.Context(), consent.OptOutRequest{
		ClientID: client.ID, PracticeID: client.PracticeID, Channel: subject.Channel,
		Method: model.MethodUnsubscribeLink, Actor: "client",
	}); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := unsubscribedPage.Execute(w, string(subject.Channel)); err != nil {
		h.logger().Warn("render unsubscribe page", "error", err)
	}
}
