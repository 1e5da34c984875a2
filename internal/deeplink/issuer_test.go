package deeplink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/chaser-backend/internal/repository"
)

func TestGetOrCreateLink_ReusesUntilExpiry(t *testing.T) {
	store := repository.NewMemory()
	issuer := NewIssuer(store.DeepLinks(), "https://portal.example.com/", 0)
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	first, err := issuer.GetOrCreateLink(ctx, "p1", "cl1", "e1", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "https://portal.example.com/u/"))

	again, err := issuer.GetOrCreateLink(ctx, "p1", "cl1", "e1", now.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := issuer.GetOrCreateLink(ctx, "p1", "cl1", "e2", now)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	expired, err := issuer.GetOrCreateLink(ctx, "p1", "cl1", "e1", now.Add(DefaultTTL))
	require.NoError(t, err)
	assert.NotEqual(t, first, expired)
}
