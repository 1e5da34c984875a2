package model

import "time"

type AuditEvent struct {
	ID         string            `db:"id" json:"id"`
	PracticeID string            `db:"practice_id" json:"practice_id"`
	ClientID   string            `db:"client_id" json:"client_id,omitempty"`
	Actor      string            `db:"actor" json:"actor"`
	Action     string            `db:"action" json:"action"`
	Resource   string            `db:"resource" json:"resource"`
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
	OccurredAt time.Time         `db:"occurred_at" json:"occurred_at"`
}
