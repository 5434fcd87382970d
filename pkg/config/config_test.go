package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dogwalker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
dogs:
  - name: rex
    display_name: Rex
    email: rex@example.com
  - name: fido
    display_name: Fido
    email: fido@example.com
github:
  repo: acme/widgets
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Len(t, cfg.Dogs, 2)
	assert.Equal(t, "main", cfg.GitHub.BaseBranch)
	assert.Equal(t, DefaultNATSStream, cfg.NATS.Stream)
	assert.Equal(t, 24*time.Hour, cfg.Retention())
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}, cfg.RetryBackoff())
	assert.Equal(t, 10*time.Minute, cfg.AwaitTimeout())
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, time.Hour, cfg.CancelTTL())
	assert.Equal(t, 30*time.Second, cfg.GitHubTimeout())
}

func TestBaseBranchAndTimeoutsOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig+`
  base_branch: develop
  command_timeout_sec: 90
runner:
  cancel_ttl_min: 15
`))
	require.NoError(t, err)

	assert.Equal(t, "develop", cfg.GitHub.BaseBranch)
	assert.Equal(t, 90*time.Second, cfg.GitHubTimeout())
	assert.Equal(t, 15*time.Minute, cfg.CancelTTL())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateNoDogs(t *testing.T) {
	_, err := Load(writeConfig(t, "github:\n  repo: acme/widgets\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one dog")
}

func TestValidateDuplicateDog(t *testing.T) {
	_, err := Load(writeConfig(t, `
dogs:
  - name: rex
    email: rex@example.com
  - name: rex
    email: rex2@example.com
github:
  repo: acme/widgets
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate dog")
}

func TestValidateBadRepo(t *testing.T) {
	_, err := Load(writeConfig(t, `
dogs:
  - name: rex
    email: rex@example.com
github:
  repo: widgets
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner/repo")
}

func TestSecretResolution(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	tok, err := cfg.SlackBotToken()
	require.NoError(t, err)
	assert.Equal(t, "xoxb-test", tok)

	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err = cfg.AgentAPIKey()
	assert.Error(t, err)
}
