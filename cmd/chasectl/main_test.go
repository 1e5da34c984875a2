package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/chaser-backend/internal/consent"
	"github.com/unclebandit/chaser-backend/internal/model"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chaser.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  user: chaser
  name: chaser
scheduler:
  cron: "0 9 * * 1-5"
tokens:
  unsubscribe_secret: 0123456789abcdef
  portal_base_url: https://portal.example.com
  public_base_url: https://api.example.com/
`), 0o644))
	return path
}

func TestRootCmd_ListsSubcommands(t *testing.T) {
	out, err := runCmd(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"migrate", "tick", "dispatch", "run", "token", "next"} {
		assert.Contains(t, out, name)
	}
}

func TestTickCmd_Flags(t *testing.T) {
	cmd := newTickCmd(&globals{})
	assert.Equal(t, "tick", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("at"))
}

func TestTickCmd_RejectsBadAt(t *testing.T) {
	_, err := runCmd(t, "tick", "--at", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--at")
}

func TestNextCmd_ExplicitSpec(t *testing.T) {
	out, err := runCmd(t, "next", "@hourly", "--from", "2026-02-10T11:20:00Z", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-10T12:00:00Z\n2026-02-10T13:00:00Z\n", out)
}

func TestNextCmd_ConfiguredSpec(t *testing.T) {
	out, err := runCmd(t, "--config", writeConfig(t), "next", "--from", "2026-02-13T10:00:00Z", "-n", "1")
	require.NoError(t, err)
	// Friday after 9am rolls to Monday.
	assert.Equal(t, "2026-02-16T09:00:00Z\n", out)
}

func TestNextCmd_InvalidSpec(t *testing.T) {
	_, err := runCmd(t, "next", "not a cron")
	assert.Error(t, err)
}

func TestTokenCmd_PrintsVerifiableLink(t *testing.T) {
	out, err := runCmd(t, "--config", writeConfig(t), "token", "cl1", "email")
	require.NoError(t, err)

	link := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(link, "https://api.example.com/unsubscribe/"), link)

	signer, err := consent.NewTokenSigner("0123456789abcdef")
	require.NoError(t, err)
	sub, err := signer.Verify(strings.TrimPrefix(link, "https://api.example.com/unsubscribe/"))
	require.NoError(t, err)
	assert.Equal(t, "cl1", sub.ClientID)
	assert.Equal(t, model.ChannelEmail, sub.Channel)
}

func TestTokenCmd_UnknownChannel(t *testing.T) {
	_, err := runCmd(t, "--config", writeConfig(t), "token", "cl1", "fax")
	assert.Error(t, err)
}
