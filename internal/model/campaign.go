// internal/model/campaign.go
package model

import "time"

type Campaign struct {
	ID            string     `db:"id" json:"id"`
	PracticeID    string     `db:"practice_id" json:"practice_id"`
	Name          string     `db:"name" json:"name"`
	CadenceDays   int        `db:"cadence_days" json:"cadence_days"`
	EscalateAfter int        `db:"escalate_after" json:"escalate_after"`
	MaxChases     int        `db:"max_chases" json:"max_chases"`
	SkipWeekends  bool       `db:"skip_weekends" json:"skip_weekends"`
	Deadline      *time.Time `db:"deadline" json:"deadline,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Practice is the service provider that owns clients and campaigns.
type Practice struct {
	ID                 string           `db:"id" json:"id"`
	Name               string           `db:"name" json:"name"`
	DefaultChannel     Channel          `db:"default_channel" json:"default_channel"`
	BusinessHoursStart string           `db:"business_hours_start" json:"business_hours_start"`
	BusinessHoursEnd   string           `db:"business_hours_end" json:"business_hours_end"`
	Timezone           string           `db:"timezone" json:"timezone"`
	EmailFrom          string           `db:"email_from" json:"email_from"`
	ChatSender         string           `db:"chat_sender" json:"chat_sender"`
	ChatTemplates      map[Level]string `db:"chat_templates" json:"chat_templates,omitempty"` // approved template id per level
}
