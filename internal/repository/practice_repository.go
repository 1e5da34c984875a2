package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/model"
)

type PracticeRepository struct {
	DB *sql.DB
}

func (r *PracticeRepository) GetPractice(ctx context.Context, id string) (*model.Practice, error) {
	var (
		p                     model.Practice
		emailFrom, chatSender sql.NullString
		templates             []byte
	)
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, name, default_channel, business_hours_start, business_hours_end, timezone,
            email_from, chat_sender, chat_templates
        FROM practices
        WHERE id=$1
    `, id).Scan(&p.ID, &p.Name, &p.DefaultChannel, &p.BusinessHoursStart, &p.BusinessHoursEnd, &p.Timezone,
		&emailFrom, &chatSender, &templates)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewPracticeNotFound(id)
		}
		return nil, err
	}
	p.EmailFrom = emailFrom.String
	p.ChatSender = chatSender.String
	if p.ChatTemplates, err = decodeTemplates(templates); err != nil {
		return nil, fmt.Errorf("practice %s chat_templates: %w", id, err)
	}
	return &p, nil
}

// decodeTemplates reads the chat_templates jsonb column, keyed by level name.
func decodeTemplates(raw []byte) (map[model.Level]string, error) {
	out := map[model.Level]string{}
	if len(raw) == 0 {
		return out, nil
	}
	var byName map[string]string
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, err
	}
	for name, id := range byName {
		level, err := model.ParseLevel(name)
		if err != nil {
			return nil, err
		}
		out[level] = id
	}
	return out, nil
}

func (r *PracticeRepository) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var (
		c                   model.Campaign
		deadline, updatedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, practice_id, name, cadence_days, escalate_after, max_chases, skip_weekends, deadline,
            created_at, updated_at
        FROM campaigns
        WHERE id=$1
    `, id).Scan(&c.ID, &c.PracticeID, &c.Name, &c.CadenceDays, &c.EscalateAfter, &c.MaxChases, &c.SkipWeekends,
		&deadline, &c.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	c.Deadline = nullTime(deadline)
	c.UpdatedAt = nullTime(updatedAt)
	return &c, nil
}

var _ PracticeRepositoryInterface = (*PracticeRepository)(nil)
