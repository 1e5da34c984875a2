package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
	"github.com/unclebandit/chaser-backend/internal/schedule"
	"github.com/unclebandit/chaser-backend/internal/session"
)

// CampaignConfig is a campaign row checked once per tick.
type CampaignConfig struct {
	ID            string `validate:"required"`
	CadenceDays   int    `validate:"min=1"`
	EscalateAfter int    `validate:"min=0"`
	MaxChases     int    `validate:"min=1"`
	SkipWeekends  bool
	Deadline      *time.Time
}

// PracticeConfig is a practice row with its business hours, timezone and
// templates already parsed.
type PracticeConfig struct {
	ID             string `validate:"required"`
	Name           string `validate:"required"`
	DefaultChannel model.Channel
	Hours          schedule.BusinessHours
	Location       *time.Location `validate:"required"`
	EmailFrom      string         `validate:"omitempty,email"`
	ChatSender     string
	Templates      session.TemplateSet
}

var validate = validator.New()

// configError turns the first validation failure into a ConfigError.
func configError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return appErrors.NewConfigError(toSnake(fe.Field()), "failed %q check (value %v)", fe.Tag(), fe.Value())
	}
	return err
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func NewCampaignConfig(c *model.Campaign) (*CampaignConfig, error) {
	cfg := &CampaignConfig{
		ID:            c.ID,
		CadenceDays:   c.CadenceDays,
		EscalateAfter: c.EscalateAfter,
		MaxChases:     c.MaxChases,
		SkipWeekends:  c.SkipWeekends,
		Deadline:      c.Deadline,
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.ID, configError(err))
	}
	return cfg, nil
}

func NewPracticeConfig(p *model.Practice) (*PracticeConfig, error) {
	hours, err := schedule.ParseBusinessHours(p.BusinessHoursStart, p.BusinessHoursEnd)
	if err != nil {
		return nil, fmt.Errorf("practice %s: %w", p.ID, err)
	}
	loc := time.UTC
	if p.Timezone != "" {
		if loc, err = time.LoadLocation(p.Timezone); err != nil {
			return nil, fmt.Errorf("practice %s: %w", p.ID, appErrors.NewConfigError("timezone", "%v", err))
		}
	}
	channel := p.DefaultChannel
	if channel == "" {
		channel = model.ChannelEmail
	}
	if !channel.Valid() {
		return nil, fmt.Errorf("practice %s: %w", p.ID, appErrors.NewConfigError("default_channel", "unknown channel %q", channel))
	}
	cfg := &PracticeConfig{
		ID:             p.ID,
		Name:           p.Name,
		DefaultChannel: channel,
		Hours:          hours,
		Location:       loc,
		EmailFrom:      p.EmailFrom,
		ChatSender:     p.ChatSender,
		Templates:      session.TemplateSetFromPractice(p),
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("practice %s: %w", p.ID, configError(err))
	}
	return cfg, nil
}

// configCache loads and validates each campaign and practice at most once per
// tick. Failures are cached too so a broken practice is reported once per
// enrollment without reloading it.
type configCache struct {
	repo repository.PracticeRepositoryInterface

	mu        sync.Mutex
	campaigns map[string]cached[CampaignConfig]
	practices map[string]cached[PracticeConfig]
}

type cached[T any] struct {
	val *T
	err error
}

func newConfigCache(repo repository.PracticeRepositoryInterface) *configCache {
	return &configCache{
		repo:      repo,
		campaigns: map[string]cached[CampaignConfig]{},
		practices: map[string]cached[PracticeConfig]{},
	}
}

func (c *configCache) campaign(ctx context.Context, id string) (*CampaignConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.campaigns[id]; ok {
		return hit.val, hit.err
	}
	row, err := c.repo.GetCampaign(ctx, id)
	var cfg *CampaignConfig
	if err == nil {
		cfg, err = NewCampaignConfig(row)
	}
	c.campaigns[id] = cached[CampaignConfig]{cfg, err}
	return cfg, err
}

func (c *configCache) practice(ctx context.Context, id string) (*PracticeConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.practices[id]; ok {
		return hit.val, hit.err
	}
	row, err := c.repo.GetPractice(ctx, id)
	var cfg *PracticeConfig
	if err == nil {
		cfg, err = NewPracticeConfig(row)
	}
	c.practices[id] = cached[PracticeConfig]{cfg, err}
	return cfg, err
}
