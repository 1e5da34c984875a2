package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/model"
)

type OutboundMessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, enrollment_id, client_id, practice_id, channel, escalation_level, chase_number,
        subject, body_text, body_html, status, failure_reason, external_id, cost_minor,
        queued_at, claimed_at, sent_at, delivered_at, read_at, failed_at, opted_out_at`

// GetByID fetches an outbound message by its ID
func (r *OutboundMessageRepository) GetByID(ctx context.Context, id string) (*model.OutboundMessage, error) {
	var (
		msg                                              model.OutboundMessage
		level                                            string
		subject, html, reason, externalID                sql.NullString
		claimed, sent, delivered, read, failed, optedOut sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE id=$1`, id).Scan(
		&msg.ID, &msg.EnrollmentID, &msg.ClientID, &msg.PracticeID, &msg.Channel, &level, &msg.ChaseNumber,
		&subject, &msg.BodyText, &html, &msg.Status, &reason, &externalID, &msg.CostMinor,
		&msg.QueuedAt, &claimed, &sent, &delivered, &read, &failed, &optedOut,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewMessageNotFound(id)
		}
		return nil, err
	}
	if msg.EscalationLevel, err = model.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	msg.Subject = subject.String
	msg.BodyHTML = html.String
	msg.FailureReason = reason.String
	msg.ExternalID = externalID.String
	msg.ClaimedAt = nullTime(claimed)
	msg.SentAt = nullTime(sent)
	msg.DeliveredAt = nullTime(delivered)
	msg.ReadAt = nullTime(read)
	msg.FailedAt = nullTime(failed)
	msg.OptedOutAt = nullTime(optedOut)
	return &msg, nil
}

func (r *OutboundMessageRepository) ListQueuedIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM outbound_messages WHERE status='queued' ORDER BY queued_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *OutboundMessageRepository) Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	return r.execOne(ctx, `
        UPDATE outbound_messages SET claimed_at=$2
        WHERE id=$1 AND status='queued' AND (claimed_at IS NULL OR claimed_at < $3)
    `, id, now, now.Add(-ttl))
}

func (r *OutboundMessageRepository) MarkSent(ctx context.Context, id string, res model.SendResult) (bool, error) {
	return r.execOne(ctx, `
        UPDATE outbound_messages SET status='sent', external_id=$2, cost_minor=$3, sent_at=$4
        WHERE id=$1 AND status='queued'
    `, id, res.ExternalID, res.CostMinor, res.SentAt)
}

func (r *OutboundMessageRepository) MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	return r.execOne(ctx, `
        UPDATE outbound_messages SET status='failed', failure_reason=$2, failed_at=$3
        WHERE id=$1 AND status='queued'
    `, id, reason, now)
}

func (r *OutboundMessageRepository) MarkOptedOut(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.execOne(ctx, `
        UPDATE outbound_messages SET status='opted_out', opted_out_at=$2
        WHERE id=$1 AND status='queued'
    `, id, now)
}

func (r *OutboundMessageRepository) CancelQueuedForClient(ctx context.Context, clientID string, channel model.Channel, now time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE outbound_messages SET status='opted_out', opted_out_at=$3
        WHERE client_id=$1 AND channel=$2 AND status='queued'
    `, clientID, channel, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *OutboundMessageRepository) AdvanceDeliveryStatus(ctx context.Context, externalID string, status model.MessageStatus, at time.Time) (bool, error) {
	switch status {
	case model.MessageDelivered:
		return r.execOne(ctx, `
            UPDATE outbound_messages SET status='delivered', delivered_at=$2
            WHERE external_id=$1 AND status='sent'
        `, externalID, at)
	case model.MessageRead:
		return r.execOne(ctx, `
            UPDATE outbound_messages SET status='read', read_at=$2, delivered_at=COALESCE(delivered_at, $2)
            WHERE external_id=$1 AND status IN ('sent', 'delivered')
        `, externalID, at)
	}
	return false, fmt.Errorf("delivery status %q cannot be applied from a callback", status)
}

func (r *OutboundMessageRepository) StatsForEnrollment(ctx context.Context, enrollmentID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outbound_messages WHERE enrollment_id=$1 GROUP BY status`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0}
	for _, s := range []model.MessageStatus{model.MessageQueued, model.MessageSent, model.MessageDelivered,
		model.MessageRead, model.MessageFailed, model.MessageOptedOut} {
		stats[string(s)] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func (r *OutboundMessageRepository) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

var _ OutboundMessageRepositoryInterface = (*OutboundMessageRepository)(nil)
