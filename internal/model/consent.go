package model

import "time"

type LegalBasis string

const (
	BasisConsent            LegalBasis = "consent"
	BasisLegitimateInterest LegalBasis = "legitimate_interest"
)

// Methods by which consent changes are captured.
const (
	MethodUnsubscribeLink = "unsubscribe_link"
	MethodKeyword         = "keyword"
	MethodStaff           = "staff"
	MethodClientPortal    = "client_portal"
)

// ConsentRecord is an append-only entry in a client's consent history.
type ConsentRecord struct {
	ID         string        `db:"id" json:"id"`
	ClientID   string        `db:"client_id" json:"client_id"`
	PracticeID string        `db:"practice_id" json:"practice_id"`
	Channel    Channel       `db:"channel" json:"channel"`
	Status     ConsentStatus `db:"status" json:"status"`
	Method     string        `db:"method" json:"method"`
	LegalBasis LegalBasis    `db:"legal_basis" json:"legal_basis"`
	Actor      string        `db:"actor" json:"actor"`
	RecordedAt time.Time     `db:"recorded_at" json:"recorded_at"`
}
