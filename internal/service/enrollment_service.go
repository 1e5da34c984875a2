package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/chaser-backend/internal/escalation"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
)

// EnrollmentService covers the operator-facing reads and writes around an
// enrollment. Chasing itself is ChaseService.
type EnrollmentService struct {
	EnrollmentRepo     repository.EnrollmentRepositoryInterface
	MessageRepo        repository.OutboundMessageRepositoryInterface
	ClientRepo         repository.ClientRepositoryInterface
	PracticeRepo       repository.PracticeRepositoryInterface
	ClassificationRepo repository.ClassificationRepositoryInterface
	Log                *slog.Logger
}

type EnrollmentDetails struct {
	Enrollment      *model.Enrollment              `json:"enrollment"`
	Outstanding     int                            `json:"outstanding"`
	Stats           map[string]int                 `json:"stats"`
	Classifications []model.DocumentClassification `json:"classifications"`
}

// NewEnrollmentRequest starts a client on a campaign. The first chase is due
// immediately unless StartAt is set.
type NewEnrollmentRequest struct {
	PracticeID   string     `json:"practice_id" validate:"required"`
	CampaignID   string     `json:"campaign_id" validate:"required"`
	ClientID     string     `json:"client_id" validate:"required"`
	RequiredDocs []string   `json:"required_docs" validate:"required,min=1,dive,required"`
	StartAt      *time.Time `json:"start_at,omitempty"`
}

// Preview is the content the next chase of an enrollment would carry.
type Preview struct {
	Level   model.Level   `json:"level"`
	Channel model.Channel `json:"channel"`
	Subject string        `json:"subject"`
	Body    string        `json:"body"`
}

func (s *EnrollmentService) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *EnrollmentService) Enroll(ctx context.Context, req NewEnrollmentRequest, now time.Time) (*model.Enrollment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("enrollment: %w", err)
	}
	campaign, err := s.PracticeRepo.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.PracticeID != req.PracticeID {
		return nil, fmt.Errorf("campaign %s does not belong to practice %s", campaign.ID, req.PracticeID)
	}
	client, err := s.ClientRepo.GetByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	start := now.UTC()
	if req.StartAt != nil {
		start = req.StartAt.UTC()
	}
	e := &model.Enrollment{
		ID:           uuid.NewString(),
		PracticeID:   req.PracticeID,
		CampaignID:   req.CampaignID,
		ClientID:     req.ClientID,
		Status:       model.EnrollmentActive,
		NextChaseAt:  &start,
		RequiredDocs: model.NewDocSet(req.RequiredDocs...),
		ReceivedDocs: model.NewDocSet(),
	}
	// A client nobody may contact is enrolled paused, the same state an
	// opt-out leaves their enrollments in.
	if reason := uncontactable(client); reason != "" {
		e.Status = model.EnrollmentPaused
		e.PausedReason = reason
		e.NextChaseAt = nil
	}
	if err := s.EnrollmentRepo.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger().Info("client enrolled", "enrollment_id", e.ID, "campaign_id", e.CampaignID,
		"client_id", e.ClientID, "status", e.Status)
	return e, nil
}

func uncontactable(c *model.Client) string {
	if !c.ChaseEnabled {
		return "chasing disabled for client"
	}
	if len(c.GrantedChannels()) == 0 {
		return "no channel consent"
	}
	return ""
}

// RecordDocuments marks documents as received. The next tick completes the
// enrollment once nothing is outstanding.
func (s *EnrollmentService) RecordDocuments(ctx context.Context, enrollmentID string, documentIDs []string) (*model.Enrollment, error) {
	if err := s.EnrollmentRepo.RecordReceived(ctx, enrollmentID, documentIDs); err != nil {
		return nil, err
	}
	return s.EnrollmentRepo.GetByID(ctx, enrollmentID)
}

// GetEnrollmentDetails returns the enrollment with its message counts by
// status and the classifications of documents received so far.
func (s *EnrollmentService) GetEnrollmentDetails(ctx context.Context, id string) (*EnrollmentDetails, error) {
	e, err := s.EnrollmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.MessageRepo.StatsForEnrollment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("message stats: %w", err)
	}
	details := &EnrollmentDetails{
		Enrollment:      e,
		Outstanding:     e.Outstanding(),
		Stats:           stats,
		Classifications: []model.DocumentClassification{},
	}
	if s.ClassificationRepo != nil {
		cls, err := s.ClassificationRepo.ListForEnrollment(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("classifications: %w", err)
		}
		details.Classifications = cls
	}
	return details, nil
}

// PreviewNextChase renders the message the next chase would send, without
// recording anything. levelOverride replaces the computed level when set.
func (s *EnrollmentService) PreviewNextChase(ctx context.Context, id string, levelOverride *model.Level) (*Preview, error) {
	e, err := s.EnrollmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	campaign, err := s.PracticeRepo.GetCampaign(ctx, e.CampaignID)
	if err != nil {
		return nil, err
	}
	practice, err := s.PracticeRepo.GetPractice(ctx, e.PracticeID)
	if err != nil {
		return nil, err
	}
	client, err := s.ClientRepo.GetByID(ctx, e.ClientID)
	if err != nil {
		return nil, err
	}

	level := escalation.Max(escalation.EscalationLevel(e.ChasesDelivered, campaign.EscalateAfter), e.EscalationLevel)
	if levelOverride != nil {
		if !levelOverride.Valid() {
			return nil, fmt.Errorf("invalid escalation level %d", int(*levelOverride))
		}
		level = *levelOverride
	}
	subject, body := escalation.GenerateMessage(level, escalation.MessageContext{
		FirstName:    client.FirstName,
		PracticeName: practice.Name,
		Remaining:    e.Outstanding(),
		Deadline:     campaign.Deadline,
		Link:         "{link}",
	})
	return &Preview{
		Level:   level,
		Channel: escalation.SelectChannel(e.ChasesDelivered, client.PreferredChannel, practice.DefaultChannel),
		Subject: subject,
		Body:    body,
	}, nil
}
