package escalation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/chaser-backend/internal/model"
)

func TestEscalationLevel(t *testing.T) {
	tests := []struct {
		chases, after int
		want          model.Level
	}{
		{0, 4, model.LevelGentle},
		{1, 4, model.LevelReminder},
		{2, 4, model.LevelFirm},
		{3, 4, model.LevelFirm},
		{4, 4, model.LevelUrgent},
		{5, 4, model.LevelEscalate},
		{40, 4, model.LevelEscalate},
		// escalateAfter below 2 is clamped so firm is never skipped into urgent at 1
		{1, 0, model.LevelReminder},
		{2, 1, model.LevelUrgent},
		{3, -5, model.LevelEscalate},
		{2, 2, model.LevelUrgent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscalationLevel(tt.chases, tt.after), "chases=%d after=%d", tt.chases, tt.after)
	}
}

func TestEscalationLevelProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("level is non-decreasing in chases delivered", prop.ForAll(
		func(chases, after int) bool {
			return EscalationLevel(chases, after) <= EscalationLevel(chases+1, after)
		},
		gen.IntRange(0, 1000),
		gen.IntRange(2, 100),
	))

	properties.Property("level is one of the five defined levels", prop.ForAll(
		func(chases, after int) bool {
			return EscalationLevel(chases, after).Valid()
		},
		gen.IntRange(0, 1000),
		gen.IntRange(-10, 100),
	))

	properties.TestingRun(t)
}

func TestSelectChannel(t *testing.T) {
	tests := []struct {
		name      string
		chase     int
		preferred model.Channel
		def       model.Channel
		want      model.Channel
	}{
		{"first chase is email even if chat preferred", 0, model.ChannelChat, model.ChannelSMS, model.ChannelEmail},
		{"preferred wins later", 1, model.ChannelChat, model.ChannelSMS, model.ChannelChat},
		{"practice default when no preference", 2, "", model.ChannelSMS, model.ChannelSMS},
		{"unknown preference falls through", 3, "fax", model.ChannelChat, model.ChannelChat},
		{"email when nothing resolves", 4, "", "pigeon", model.ChannelEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectChannel(tt.chase, tt.preferred, tt.def))
		})
	}
}

func TestMax(t *testing.T) {
	assert.Equal(t, model.LevelFirm, Max(model.LevelFirm, model.LevelReminder))
	assert.Equal(t, model.LevelUrgent, Max(model.LevelFirm, model.LevelUrgent))
}
