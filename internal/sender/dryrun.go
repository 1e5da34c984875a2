package sender

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/unclebandit/chaser-backend/internal/logging"
)

// DryRun logs instead of calling a provider. Used when no provider is
// configured for a channel.
type DryRun struct {
	Log *slog.Logger
}

func (d DryRun) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d DryRun) SendEmail(ctx context.Context, to, from, subject, text, html string) (string, error) {
	id := "dry-" + uuid.NewString()
	d.logger().Info("dry-run email", "to", logging.RedactEmail(to), "from", from, "subject", subject, "message_id", id)
	return id, nil
}

func (d DryRun) SendChatMessage(ctx context.Context, msg ChatMessage) (string, int64, error) {
	id := "dry-" + uuid.NewString()
	d.logger().Info("dry-run chat", "to", logging.RedactPhone(msg.To), "template_id", msg.TemplateID, "message_id", id)
	return id, 0, nil
}

var (
	_ EmailSender = DryRun{}
	_ ChatSender  = DryRun{}
)
