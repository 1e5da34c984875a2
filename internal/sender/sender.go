package sender

import (
	"context"
)

// EmailSender delivers one email and returns the provider message id.
type EmailSender interface {
	SendEmail(ctx context.Context, to, from, subject, text, html string) (string, error)
}

// ChatMessage is either free-form text (inside the session window) or an
// approved template reference with positional variables.
type ChatMessage struct {
	From       string            `json:"from"`
	To         string            `json:"to"`
	Text       string            `json:"text,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// ChatSender delivers a chat message and returns the provider id and the
// price in minor currency units.
type ChatSender interface {
	SendChatMessage(ctx context.Context, msg ChatMessage) (string, int64, error)
}
