package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/unclebandit/chaser-backend/internal/model"
)

type AuditRepository struct {
	DB *sql.DB
}

func (r *AuditRepository) Insert(ctx context.Context, ev *model.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        INSERT INTO audit_events (id, practice_id, client_id, actor, action, resource, metadata, occurred_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
    `, ev.ID, ev.PracticeID, ev.ClientID, ev.Actor, ev.Action, ev.Resource, meta, ev.OccurredAt)
	return err
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)
