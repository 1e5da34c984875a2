package model

import "time"

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentOptedOut  EnrollmentStatus = "opted_out"
)

// Enrollment is one client's participation in one campaign's chase cycle.
// NextChaseAt is nil once the enrollment stops being scheduled.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	PracticeID      string           `db:"practice_id" json:"practice_id"`
	CampaignID      string           `db:"campaign_id" json:"campaign_id"`
	ClientID        string           `db:"client_id" json:"client_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	ChasesDelivered int              `db:"chases_delivered" json:"chases_delivered"`
	EscalationLevel Level            `db:"escalation_level" json:"escalation_level"`
	LastChasedAt    *time.Time       `db:"last_chased_at" json:"last_chased_at,omitempty"`
	NextChaseAt     *time.Time       `db:"next_chase_at" json:"next_chase_at,omitempty"`
	RequiredDocs    DocSet           `db:"required_docs" json:"required_docs"`
	ReceivedDocs    DocSet           `db:"received_docs" json:"received_docs"`
	PausedReason    string           `db:"paused_reason" json:"paused_reason,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// Outstanding is the number of required documents not yet received.
func (e *Enrollment) Outstanding() int {
	return e.RequiredDocs.Outstanding(e.ReceivedDocs)
}

// IsDue reports whether a tick at now should chase this enrollment.
func (e *Enrollment) IsDue(now time.Time) bool {
	return e.Status == EnrollmentActive && e.NextChaseAt != nil && !e.NextChaseAt.After(now)
}

// ChaseAdvance is the enrollment side of a recorded chase. It is applied in the
// same store write that creates the outbound message.
type ChaseAdvance struct {
	EnrollmentID    string
	ExpectedChases  int
	ChasesDelivered int
	EscalationLevel Level
	LastChasedAt    time.Time
	NextChaseAt     *time.Time
}
