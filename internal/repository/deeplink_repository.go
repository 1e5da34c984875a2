package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/unclebandit/chaser-backend/internal/model"
)

type DeepLinkRepository struct {
	DB *sql.DB
}

// FindUsable returns the newest unrevoked, unexpired link for the pair, or nil.
func (r *DeepLinkRepository) FindUsable(ctx context.Context, clientID, enrollmentID string, now time.Time) (*model.DeepLink, error) {
	var (
		l       model.DeepLink
		revoked sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
        SELECT token, practice_id, client_id, enrollment_id, expires_at, revoked_at, created_at
        FROM deep_links
        WHERE client_id=$1 AND enrollment_id=$2 AND revoked_at IS NULL AND expires_at > $3
        ORDER BY created_at DESC
        LIMIT 1
    `, clientID, enrollmentID, now).Scan(&l.Token, &l.PracticeID, &l.ClientID, &l.EnrollmentID, &l.ExpiresAt, &revoked, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l.RevokedAt = nullTime(revoked)
	return &l, nil
}

func (r *DeepLinkRepository) Insert(ctx context.Context, link *model.DeepLink) error {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO deep_links (token, practice_id, client_id, enrollment_id, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, link.Token, link.PracticeID, link.ClientID, link.EnrollmentID, link.ExpiresAt, link.CreatedAt)
	return err
}

var _ DeepLinkRepositoryInterface = (*DeepLinkRepository)(nil)
