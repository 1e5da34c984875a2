package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/model"
)

type EnrollmentRepository struct {
	DB *sql.DB
}

const enrollmentColumns = `id, practice_id, campaign_id, client_id, status, chases_delivered, escalation_level,
        last_chased_at, next_chase_at, required_docs, received_docs, paused_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (*model.Enrollment, error) {
	var (
		e                  model.Enrollment
		level              string
		required, received []string
		lastChased, next   sql.NullTime
		pausedReason       sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.PracticeID, &e.CampaignID, &e.ClientID, &e.Status, &e.ChasesDelivered, &level,
		&lastChased, &next, pq.Array(&required), pq.Array(&received), &pausedReason, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.EscalationLevel, err = model.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("enrollment %s: %w", e.ID, err)
	}
	e.LastChasedAt = nullTime(lastChased)
	e.NextChaseAt = nullTime(next)
	e.RequiredDocs = model.NewDocSet(required...)
	e.ReceivedDocs = model.NewDocSet(received...)
	e.PausedReason = pausedReason.String
	return &e, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *EnrollmentRepository) Create(ctx context.Context, e *model.Enrollment) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = model.EnrollmentActive
	}
	query := `
        INSERT INTO enrollments (id, practice_id, campaign_id, client_id, status, chases_delivered, escalation_level,
            last_chased_at, next_chase_at, required_docs, received_docs, paused_reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `
	_, err := r.DB.ExecContext(ctx, query,
		e.ID, e.PracticeID, e.CampaignID, e.ClientID, e.Status, e.ChasesDelivered, e.EscalationLevel.String(),
		e.LastChasedAt, e.NextChaseAt, pq.Array(e.RequiredDocs.Slice()), pq.Array(e.ReceivedDocs.Slice()),
		e.PausedReason, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*model.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id=$1`
	e, err := scanEnrollment(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewEnrollmentNotFound(id)
		}
		return nil, err
	}
	return e, nil
}

func (r *EnrollmentRepository) ListDue(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]*model.Enrollment, error) {
	query := `
        SELECT ` + enrollmentColumns + `
        FROM enrollments
        WHERE status='active' AND next_chase_at IS NOT NULL AND next_chase_at <= $1
        ORDER BY next_chase_at, id
        LIMIT $2
    `
	args := []any{now, limit}
	if after != nil {
		query = `
        SELECT ` + enrollmentColumns + `
        FROM enrollments
        WHERE status='active' AND next_chase_at IS NOT NULL AND next_chase_at <= $1
            AND (next_chase_at, id) > ($3, $4)
        ORDER BY next_chase_at, id
        LIMIT $2
    `
		args = append(args, after.NextChaseAt, after.ID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, e)
	}
	return due, rows.Err()
}

func (r *EnrollmentRepository) RecordChase(ctx context.Context, adv model.ChaseAdvance, msg *model.OutboundMessage) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// Conditional on the state the caller read: a second tick that read the
	// same row finds chases_delivered already moved and updates nothing.
	res, err := tx.ExecContext(ctx, `
        UPDATE enrollments
        SET chases_delivered=$3, escalation_level=$4, last_chased_at=$5, next_chase_at=$6, updated_at=$5
        WHERE id=$1 AND status='active' AND chases_delivered=$2
            AND next_chase_at IS NOT NULL AND next_chase_at <= $5
    `, adv.EnrollmentID, adv.ExpectedChases, adv.ChasesDelivered, adv.EscalationLevel.String(), adv.LastChasedAt, adv.NextChaseAt)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	res, err = tx.ExecContext(ctx, `
        INSERT INTO outbound_messages (id, enrollment_id, client_id, practice_id, channel, escalation_level,
            chase_number, subject, body_text, body_html, status, queued_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'queued', $11)
        ON CONFLICT (enrollment_id, chase_number) DO NOTHING
    `, msg.ID, msg.EnrollmentID, msg.ClientID, msg.PracticeID, msg.Channel, msg.EscalationLevel.String(),
		msg.ChaseNumber, msg.Subject, msg.BodyText, msg.BodyHTML, msg.QueuedAt)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	msg.Status = model.MessageQueued
	return true, nil
}

func (r *EnrollmentRepository) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE enrollments SET status='completed', next_chase_at=NULL, updated_at=$2
        WHERE id=$1 AND status='active'
    `, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *EnrollmentRepository) MarkDormant(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE enrollments SET next_chase_at=NULL, updated_at=$2
        WHERE id=$1 AND status='active' AND next_chase_at IS NOT NULL
    `, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *EnrollmentRepository) PauseActiveForClient(ctx context.Context, clientID, reason string, now time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE enrollments SET status='paused', paused_reason=$2, next_chase_at=NULL, updated_at=$3
        WHERE client_id=$1 AND status='active'
    `, clientID, reason, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *EnrollmentRepository) RecordReceived(ctx context.Context, id string, documentIDs []string) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE enrollments
        SET received_docs=ARRAY(SELECT DISTINCT unnest(received_docs || $2::text[])), updated_at=NOW()
        WHERE id=$1
    `, id, pq.Array(documentIDs))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewEnrollmentNotFound(id)
	}
	return nil
}

var _ EnrollmentRepositoryInterface = (*EnrollmentRepository)(nil)
