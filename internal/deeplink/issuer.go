package deeplink

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/repository"
)

// DefaultTTL is how long a freshly minted portal link stays valid.
const DefaultTTL = 90 * 24 * time.Hour

// Issuer hands out client portal links. A client gets the same link for an
// enrollment until it expires or is revoked.
type Issuer struct {
	Links   repository.DeepLinkRepositoryInterface
	BaseURL string
	TTL     time.Duration
}

func NewIssuer(links repository.DeepLinkRepositoryInterface, baseURL string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{Links: links, BaseURL: strings.TrimRight(baseURL, "/"), TTL: ttl}
}

// GetOrCreateLink returns the portal URL for the client's enrollment, reusing
// a usable link when one exists.
func (i *Issuer) GetOrCreateLink(ctx context.Context, practiceID, clientID, enrollmentID string, now time.Time) (string, error) {
	existing, err := i.Links.FindUsable(ctx, clientID, enrollmentID, now)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return i.URL(existing.Token), nil
	}

	link := &model.DeepLink{
		Token:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		PracticeID:   practiceID,
		ClientID:     clientID,
		EnrollmentID: enrollmentID,
		ExpiresAt:    now.Add(i.TTL),
		CreatedAt:    now,
	}
	if err := i.Links.Insert(ctx, link); err != nil {
		return "", err
	}
	return i.URL(link.Token), nil
}

func (i *Issuer) URL(token string) string {
	return i.BaseURL + "/u/" + token
}
