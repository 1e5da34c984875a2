package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/model"
)

// Memory is an in-process store with the same conditional-write semantics as
// the Postgres repositories. All entities share one lock so a recorded chase
// is atomic across enrollments and messages.
type Memory struct {
	mu              sync.Mutex
	enrollments     map[string]*model.Enrollment
	messages        map[string]*model.OutboundMessage
	clients         map[string]*model.Client
	practices       map[string]*model.Practice
	campaigns       map[string]*model.Campaign
	consent         []model.ConsentRecord
	links           []model.DeepLink
	audit           []model.AuditEvent
	classifications []model.DocumentClassification
}

func NewMemory() *Memory {
	return &Memory{
		enrollments: map[string]*model.Enrollment{},
		messages:    map[string]*model.OutboundMessage{},
		clients:     map[string]*model.Client{},
		practices:   map[string]*model.Practice{},
		campaigns:   map[string]*model.Campaign{},
	}
}

func (m *Memory) PutPractice(p model.Practice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.practices[p.ID] = &p
}

func (m *Memory) PutCampaign(c model.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = &c
}

func (m *Memory) PutClient(c model.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Consent = cloneConsent(c.Consent)
	m.clients[c.ID] = &c
}

func (m *Memory) AddClassification(d model.DocumentClassification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifications = append(m.classifications, d)
}

// Messages returns every stored message ordered by queue time.
func (m *Memory) Messages() []model.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.OutboundMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

func (m *Memory) AuditEvents() []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AuditEvent(nil), m.audit...)
}

func (m *Memory) Enrollments() *MemoryEnrollments { return &MemoryEnrollments{m} }
func (m *Memory) OutboundMessages() *MemoryMessages { return &MemoryMessages{m} }
func (m *Memory) Clients() *MemoryClients { return &MemoryClients{m} }
func (m *Memory) Consent() *MemoryConsent { return &MemoryConsent{m} }
func (m *Memory) Practices() *MemoryPractices { return &MemoryPractices{m} }
func (m *Memory) DeepLinks() *MemoryDeepLinks { return &MemoryDeepLinks{m} }
func (m *Memory) Audit() *MemoryAudit { return &MemoryAudit{m} }
func (m *Memory) Classifications() *MemoryClassifications { return &MemoryClassifications{m} }

func cloneEnrollment(e *model.Enrollment) *model.Enrollment {
	c := *e
	c.RequiredDocs = model.NewDocSet(e.RequiredDocs.Slice()...)
	c.ReceivedDocs = model.NewDocSet(e.ReceivedDocs.Slice()...)
	return &c
}

func cloneConsent(in map[model.Channel]model.ConsentStatus) map[model.Channel]model.ConsentStatus {
	out := make(map[model.Channel]model.ConsentStatus, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type MemoryEnrollments struct{ m *Memory }

func (r *MemoryEnrollments) Create(ctx context.Context, e *model.Enrollment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.enrollments[e.ID]; ok {
		return fmt.Errorf("enrollment %s already exists", e.ID)
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = model.EnrollmentActive
	}
	r.m.enrollments[e.ID] = cloneEnrollment(e)
	return nil
}

func (r *MemoryEnrollments) GetByID(ctx context.Context, id string) (*model.Enrollment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.enrollments[id]
	if !ok {
		return nil, appErrors.NewEnrollmentNotFound(id)
	}
	return cloneEnrollment(e), nil
}

func (r *MemoryEnrollments) ListDue(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]*model.Enrollment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	due := []*model.Enrollment{}
	for _, e := range r.m.enrollments {
		if e.IsDue(now) && (after == nil || afterCursor(e, after)) {
			due = append(due, cloneEnrollment(e))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextChaseAt.Equal(*due[j].NextChaseAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextChaseAt.Before(*due[j].NextChaseAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func afterCursor(e *model.Enrollment, c *DueCursor) bool {
	if e.NextChaseAt.Equal(c.NextChaseAt) {
		return e.ID > c.ID
	}
	return e.NextChaseAt.After(c.NextChaseAt)
}

func (r *MemoryEnrollments) RecordChase(ctx context.Context, adv model.ChaseAdvance, msg *model.OutboundMessage) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.enrollments[adv.EnrollmentID]
	if !ok || !e.IsDue(adv.LastChasedAt) || e.ChasesDelivered != adv.ExpectedChases {
		return false, nil
	}
	for _, existing := range r.m.messages {
		if existing.EnrollmentID == msg.EnrollmentID && existing.ChaseNumber == msg.ChaseNumber {
			return false, nil
		}
	}
	if _, dup := r.m.messages[msg.ID]; dup {
		return false, fmt.Errorf("outbound message %s already exists", msg.ID)
	}

	last := adv.LastChasedAt
	e.ChasesDelivered = adv.ChasesDelivered
	e.EscalationLevel = adv.EscalationLevel
	e.LastChasedAt = &last
	e.NextChaseAt = adv.NextChaseAt
	e.UpdatedAt = last

	msg.Status = model.MessageQueued
	stored := *msg
	r.m.messages[msg.ID] = &stored
	return true, nil
}

func (r *MemoryEnrollments) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.enrollments[id]
	if !ok || e.Status != model.EnrollmentActive {
		return false, nil
	}
	e.Status = model.EnrollmentCompleted
	e.NextChaseAt = nil
	e.UpdatedAt = now
	return true, nil
}

func (r *MemoryEnrollments) MarkDormant(ctx context.Context, id string, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.enrollments[id]
	if !ok || e.Status != model.EnrollmentActive || e.NextChaseAt == nil {
		return false, nil
	}
	e.NextChaseAt = nil
	e.UpdatedAt = now
	return true, nil
}

func (r *MemoryEnrollments) PauseActiveForClient(ctx context.Context, clientID, reason string, now time.Time) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, e := range r.m.enrollments {
		if e.ClientID == clientID && e.Status == model.EnrollmentActive {
			e.Status = model.EnrollmentPaused
			e.PausedReason = reason
			e.NextChaseAt = nil
			e.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *MemoryEnrollments) RecordReceived(ctx context.Context, id string, documentIDs []string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.enrollments[id]
	if !ok {
		return appErrors.NewEnrollmentNotFound(id)
	}
	if e.ReceivedDocs == nil {
		e.ReceivedDocs = model.NewDocSet()
	}
	for _, d := range documentIDs {
		e.ReceivedDocs[d] = struct{}{}
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

type MemoryMessages struct{ m *Memory }

func (r *MemoryMessages) GetByID(ctx context.Context, id string) (*model.OutboundMessage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	msg, ok := r.m.messages[id]
	if !ok {
		return nil, appErrors.NewMessageNotFound(id)
	}
	c := *msg
	return &c, nil
}

func (r *MemoryMessages) ListQueuedIDs(ctx context.Context, limit int) ([]string, error) {
	ids := []string{}
	for _, msg := range r.m.Messages() {
		if msg.Status == model.MessageQueued {
			ids = append(ids, msg.ID)
		}
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r *MemoryMessages) Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	return r.update(id, func(msg *model.OutboundMessage) bool {
		if msg.ClaimedAt != nil && !msg.ClaimedAt.Before(now.Add(-ttl)) {
			return false
		}
		msg.ClaimedAt = &now
		return true
	})
}

func (r *MemoryMessages) MarkSent(ctx context.Context, id string, res model.SendResult) (bool, error) {
	return r.update(id, func(msg *model.OutboundMessage) bool {
		msg.Status = model.MessageSent
		msg.ExternalID = res.ExternalID
		msg.CostMinor = res.CostMinor
		sent := res.SentAt
		msg.SentAt = &sent
		return true
	})
}

func (r *MemoryMessages) MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	return r.update(id, func(msg *model.OutboundMessage) bool {
		msg.Status = model.MessageFailed
		msg.FailureReason = reason
		msg.FailedAt = &now
		return true
	})
}

func (r *MemoryMessages) MarkOptedOut(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.update(id, func(msg *model.OutboundMessage) bool {
		msg.Status = model.MessageOptedOut
		msg.OptedOutAt = &now
		return true
	})
}

// update applies fn to a queued message under the store lock.
func (r *MemoryMessages) update(id string, fn func(*model.OutboundMessage) bool) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	msg, ok := r.m.messages[id]
	if !ok {
		return false, appErrors.NewMessageNotFound(id)
	}
	if msg.Status != model.MessageQueued {
		return false, nil
	}
	return fn(msg), nil
}

func (r *MemoryMessages) CancelQueuedForClient(ctx context.Context, clientID string, channel model.Channel, now time.Time) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, msg := range r.m.messages {
		if msg.ClientID == clientID && msg.Channel == channel && msg.Status == model.MessageQueued {
			at := now
			msg.Status = model.MessageOptedOut
			msg.OptedOutAt = &at
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessages) AdvanceDeliveryStatus(ctx context.Context, externalID string, status model.MessageStatus, at time.Time) (bool, error) {
	if status != model.MessageDelivered && status != model.MessageRead {
		return false, fmt.Errorf("delivery status %q cannot be applied from a callback", status)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, msg := range r.m.messages {
		if msg.ExternalID != externalID || !model.CanTransition(msg.Status, status) {
			continue
		}
		ts := at
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &ts
		}
		if status == model.MessageRead {
			msg.ReadAt = &ts
		}
		msg.Status = status
		return true, nil
	}
	return false, nil
}

func (r *MemoryMessages) StatsForEnrollment(ctx context.Context, enrollmentID string) (map[string]int, error) {
	stats := map[string]int{"total": 0}
	for _, s := range []model.MessageStatus{model.MessageQueued, model.MessageSent, model.MessageDelivered,
		model.MessageRead, model.MessageFailed, model.MessageOptedOut} {
		stats[string(s)] = 0
	}
	for _, msg := range r.m.Messages() {
		if msg.EnrollmentID == enrollmentID {
			stats[string(msg.Status)]++
			stats["total"]++
		}
	}
	return stats, nil
}

type MemoryClients struct{ m *Memory }

func (r *MemoryClients) GetByID(ctx context.Context, id string) (*model.Client, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.clients[id]
	if !ok {
		return nil, appErrors.NewClientNotFound(id)
	}
	out := *c
	out.Consent = cloneConsent(c.Consent)
	return &out, nil
}

func (r *MemoryClients) GetByAddress(ctx context.Context, channel model.Channel, address string) (*model.Client, error) {
	r.m.mu.Lock()
	ids := make([]string, 0, len(r.m.clients))
	for id, c := range r.m.clients {
		var addr string
		switch channel {
		case model.ChannelEmail:
			addr = c.Email
		case model.ChannelSMS:
			addr = c.Phone
		case model.ChannelChat:
			addr = c.ChatAddress
		}
		if addr != "" && addr == address {
			ids = append(ids, id)
		}
	}
	r.m.mu.Unlock()
	if len(ids) == 0 {
		return nil, appErrors.NewClientNotFound(address)
	}
	sort.Strings(ids)
	return r.GetByID(ctx, ids[0])
}

func (r *MemoryClients) SetConsent(ctx context.Context, clientID string, channel model.Channel, status model.ConsentStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.clients[clientID]
	if !ok {
		return appErrors.NewClientNotFound(clientID)
	}
	if c.Consent == nil {
		c.Consent = map[model.Channel]model.ConsentStatus{}
	}
	c.Consent[channel] = status
	return nil
}

type MemoryConsent struct{ m *Memory }

func (r *MemoryConsent) Append(ctx context.Context, rec *model.ConsentRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("consent-%d", len(r.m.consent)+1)
	}
	r.m.consent = append(r.m.consent, *rec)
	return nil
}

func (r *MemoryConsent) History(ctx context.Context, clientID string) ([]model.ConsentRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []model.ConsentRecord{}
	for _, rec := range r.m.consent {
		if rec.ClientID == clientID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type MemoryPractices struct{ m *Memory }

func (r *MemoryPractices) GetPractice(ctx context.Context, id string) (*model.Practice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.practices[id]
	if !ok {
		return nil, appErrors.NewPracticeNotFound(id)
	}
	out := *p
	return &out, nil
}

func (r *MemoryPractices) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	out := *c
	return &out, nil
}

type MemoryDeepLinks struct{ m *Memory }

func (r *MemoryDeepLinks) FindUsable(ctx context.Context, clientID, enrollmentID string, now time.Time) (*model.DeepLink, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := len(r.m.links) - 1; i >= 0; i-- {
		l := r.m.links[i]
		if l.ClientID == clientID && l.EnrollmentID == enrollmentID && l.Usable(now) {
			return &l, nil
		}
	}
	return nil, nil
}

func (r *MemoryDeepLinks) Insert(ctx context.Context, link *model.DeepLink) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.links = append(r.m.links, *link)
	return nil
}

type MemoryAudit struct{ m *Memory }

func (r *MemoryAudit) Insert(ctx context.Context, ev *model.AuditEvent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.audit = append(r.m.audit, *ev)
	return nil
}

type MemoryClassifications struct{ m *Memory }

func (r *MemoryClassifications) ListForEnrollment(ctx context.Context, enrollmentID string) ([]model.DocumentClassification, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []model.DocumentClassification{}
	for _, d := range r.m.classifications {
		if d.EnrollmentID == enrollmentID {
			out = append(out, d)
		}
	}
	return out, nil
}

var (
	_ EnrollmentRepositoryInterface      = (*MemoryEnrollments)(nil)
	_ OutboundMessageRepositoryInterface = (*MemoryMessages)(nil)
	_ ClientRepositoryInterface          = (*MemoryClients)(nil)
	_ ConsentRepositoryInterface         = (*MemoryConsent)(nil)
	_ PracticeRepositoryInterface        = (*MemoryPractices)(nil)
	_ DeepLinkRepositoryInterface        = (*MemoryDeepLinks)(nil)
	_ AuditRepositoryInterface           = (*MemoryAudit)(nil)
	_ ClassificationRepositoryInterface  = (*MemoryClassifications)(nil)
)
