package escalation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/chaser-backend/internal/model"
)

func TestGenerateMessage_AllLevels(t *testing.T) {
	deadline := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	ctx := MessageContext{
		FirstName:    "Alice",
		PracticeName: "Smith & Co",
		Remaining:    3,
		Deadline:     &deadline,
		Link:         "https://portal.example.com/u/abc",
	}
	seen := map[string]bool{}
	for _, lvl := range model.Levels {
		subject, body := GenerateMessage(lvl, ctx)
		require.NotEmpty(t, subject, lvl.String())
		assert.Contains(t, body, "Alice")
		assert.Contains(t, body, "Smith & Co")
		assert.Contains(t, body, "3 documents")
		assert.Contains(t, body, ctx.Link)
		assert.NotContains(t, subject+body, "{", "unreplaced placeholder at %s", lvl)
		assert.False(t, seen[subject], "subjects should differ per level")
		seen[subject] = true
	}
}

func TestGenerateMessage_Deterministic(t *testing.T) {
	ctx := MessageContext{FirstName: "Bob", PracticeName: "Ledger LLP", Remaining: 1, Link: "https://x/y"}
	s1, b1 := GenerateMessage(model.LevelFirm, ctx)
	s2, b2 := GenerateMessage(model.LevelFirm, ctx)
	assert.Equal(t, s1, s2)
	assert.Equal(t, b1, b2)
	assert.Contains(t, b1, "1 document ")
	assert.Contains(t, b1, "as soon as possible")
}

func TestGenerateMessage_PlaceholderInValueNotExpanded(t *testing.T) {
	ctx := MessageContext{FirstName: "{link}", PracticeName: "P", Remaining: 2, Link: "https://l"}
	_, body := GenerateMessage(model.LevelGentle, ctx)
	assert.True(t, strings.HasPrefix(body, "Hi {link},"))
}

func TestGenerateMessage_Fallbacks(t *testing.T) {
	subject, body := GenerateMessage(model.LevelGentle, MessageContext{Remaining: 2})
	assert.Equal(t, "Documents needed by your practice", subject)
	assert.True(t, strings.HasPrefix(body, "Hi there,"))
}

func TestRenderHTML(t *testing.T) {
	body := "Hi <Al>,\n\nUpload here:\nhttps://l/1\n\nThanks"
	got := RenderHTML(body, "https://l/1")
	assert.Equal(t, `<p>Hi &lt;Al&gt;,</p><p>Upload here:<br><a href="https://l/1">Upload your documents</a></p><p>Thanks</p>`, got)
}

func TestVariables(t *testing.T) {
	vars := Variables(MessageContext{PracticeName: "P", Remaining: 4, Link: "L"})
	assert.Equal(t, map[string]string{"1": "there", "2": "P", "3": "4", "4": "L"}, vars)
}

func TestVariables_MatchEmailNames(t *testing.T) {
	tests := []struct {
		name     string
		practice string
		want     string
	}{
		{"padded", "  Acme Accounting ", "Acme Accounting"},
		{"blank", "   ", "your practice"},
		{"empty", "", "your practice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := MessageContext{FirstName: " Ada ", PracticeName: tt.practice}
			vars := Variables(ctx)
			assert.Equal(t, "Ada", vars["1"])
			assert.Equal(t, tt.want, vars["2"])

			_, body := GenerateMessage(model.LevelEscalate, ctx)
			assert.Contains(t, body, "the "+tt.want+" team")
		})
	}
}
