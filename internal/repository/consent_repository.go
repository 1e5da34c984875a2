package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/chaser-backend/internal/model"
)

// ConsentRepository stores the append-only consent history. Rows are never
// updated or deleted.
type ConsentRepository struct {
	DB *sql.DB
}

func (r *ConsentRepository) Append(ctx context.Context, rec *model.ConsentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO consent_records (id, client_id, practice_id, channel, status, method, legal_basis, actor, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, rec.ID, rec.ClientID, rec.PracticeID, rec.Channel, rec.Status, rec.Method, rec.LegalBasis, rec.Actor, rec.RecordedAt)
	return err
}

// History returns a client's consent records oldest first.
func (r *ConsentRepository) History(ctx context.Context, clientID string) ([]model.ConsentRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, client_id, practice_id, channel, status, method, legal_basis, actor, recorded_at
        FROM consent_records
        WHERE client_id=$1
        ORDER BY recorded_at, id
    `, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.ConsentRecord{}
	for rows.Next() {
		var rec model.ConsentRecord
		if err := rows.Scan(&rec.ID, &rec.ClientID, &rec.PracticeID, &rec.Channel, &rec.Status,
			&rec.Method, &rec.LegalBasis, &rec.Actor, &rec.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ ConsentRepositoryInterface = (*ConsentRepository)(nil)
