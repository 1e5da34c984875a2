package model

import "time"

type DeepLink struct {
	Token        string     `db:"token" json:"token"`
	PracticeID   string     `db:"practice_id" json:"practice_id"`
	ClientID     string     `db:"client_id" json:"client_id"`
	EnrollmentID string     `db:"enrollment_id" json:"enrollment_id"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

func (d *DeepLink) Usable(now time.Time) bool {
	return d.RevokedAt == nil && now.Before(d.ExpiresAt)
}

// DocumentClassification is written by the ingestion path; the chase engine
// only reads it for reporting.
type DocumentClassification struct {
	DocumentID   string    `db:"document_id" json:"document_id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Label        string    `db:"label" json:"label"`
	Confidence   float64   `db:"confidence" json:"confidence"`
	ClassifiedAt time.Time `db:"classified_at" json:"classified_at"`
}
