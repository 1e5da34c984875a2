package model

import "time"

type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
	MessageOptedOut  MessageStatus = "opted_out"
)

// rank orders the delivery progression queued -> sent -> delivered -> read.
var rank = map[MessageStatus]int{
	MessageQueued:    0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// CanTransition reports whether a message may move from one status to another.
// failed and opted_out are only reachable from queued and are final.
func CanTransition(from, to MessageStatus) bool {
	switch to {
	case MessageFailed, MessageOptedOut:
		return from == MessageQueued
	}
	fr, ok1 := rank[from]
	tr, ok2 := rank[to]
	return ok1 && ok2 && tr > fr
}

type OutboundMessage struct {
	ID              string        `db:"id" json:"id"`
	EnrollmentID    string        `db:"enrollment_id" json:"enrollment_id"`
	ClientID        string        `db:"client_id" json:"client_id"`
	PracticeID      string        `db:"practice_id" json:"practice_id"`
	Channel         Channel       `db:"channel" json:"channel"`
	EscalationLevel Level         `db:"escalation_level" json:"escalation_level"`
	ChaseNumber     int           `db:"chase_number" json:"chase_number"` // 1-based
	Subject         string        `db:"subject" json:"subject,omitempty"`
	BodyText        string        `db:"body_text" json:"body_text"`
	BodyHTML        string        `db:"body_html" json:"body_html,omitempty"`
	Status          MessageStatus `db:"status" json:"status"`
	FailureReason   string        `db:"failure_reason" json:"failure_reason,omitempty"`
	ExternalID      string        `db:"external_id" json:"external_id,omitempty"`
	CostMinor       int64         `db:"cost_minor" json:"cost_minor"`
	QueuedAt        time.Time     `db:"queued_at" json:"queued_at"`
	ClaimedAt       *time.Time    `db:"claimed_at" json:"-"`
	SentAt          *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt     *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt          *time.Time    `db:"read_at" json:"read_at,omitempty"`
	FailedAt        *time.Time    `db:"failed_at" json:"failed_at,omitempty"`
	OptedOutAt      *time.Time    `db:"opted_out_at" json:"opted_out_at,omitempty"`
}

// SendResult is what a successful provider call leaves on the message.
type SendResult struct {
	ExternalID string
	CostMinor  int64
	SentAt     time.Time
}
