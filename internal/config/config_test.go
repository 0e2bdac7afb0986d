package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("discord:\n  guild_id: \"1\"\n  channel_id: \"2\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "Please whitelist my Minecraft username: {username}", cfg.Discord.MessageFormat)
	assert.Equal(t, StorageJSON, cfg.Storage.Type)
	assert.Equal(t, "whitelist.json", cfg.Storage.Path)
	assert.Equal(t, ResolverMojang, cfg.Resolver.Type)
	assert.Equal(t, MaxResolverTimeout, cfg.Resolver.Timeout)
	assert.True(t, cfg.EnforceLogin())
	assert.True(t, cfg.TrustUUIDHeuristic())
	assert.Equal(t, "You are not whitelisted on this server!", cfg.Login.KickMessage)
	assert.Equal(t, "127.0.0.1:8085", cfg.ListenAddress())
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenDuration)
	assert.Equal(t, "whitelister", cfg.NATS.SubjectPrefix)
}

func TestParse_Explicit(t *testing.T) {
	cfg, err := Parse([]byte(`
discord:
  message_format: "add me {username} please"
  require_role: true
  required_role_id: "42"
storage:
  type: database
  path: /tmp/wl.db
resolver:
  type: "Null"
  timeout: 2s
login:
  enforce: false
  trust_uuid_heuristic: false
`))
	require.NoError(t, err)

	assert.Equal(t, StorageSQLite, cfg.Storage.Type, "database is an alias")
	assert.Equal(t, ResolverNull, cfg.Resolver.Type)
	assert.Equal(t, 2*time.Second, cfg.Resolver.Timeout)
	assert.False(t, cfg.EnforceLogin())
	assert.False(t, cfg.TrustUUIDHeuristic())
}

func TestParse_TimeoutCapped(t *testing.T) {
	cfg, err := Parse([]byte("resolver:\n  timeout: 1m\n"))
	require.NoError(t, err)
	assert.Equal(t, MaxResolverTimeout, cfg.Resolver.Timeout)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("WHITELISTER_DISCORD_CHANNEL_ID", "from-env")
	t.Setenv("WHITELISTER_STORAGE_TYPE", "postgres")
	t.Setenv("WHITELISTER_STORAGE_DSN", "postgres://localhost/wl")
	t.Setenv("WHITELISTER_HTTP_PORT", "9000")
	t.Setenv("WHITELISTER_RESOLVER_TIMEOUT", "3s")

	cfg, err := Parse([]byte("discord:\n  channel_id: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Discord.ChannelID)
	assert.Equal(t, StoragePostgres, cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/wl", cfg.Storage.DSN)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.Resolver.Timeout)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"no placeholder", "discord:\n  message_format: hello\n", ErrPlaceholder},
		{"two placeholders", "discord:\n  message_format: \"{username} {username}\"\n", ErrPlaceholder},
		{"role without id", "discord:\n  require_role: true\n", ErrMissingRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	for name, doc := range map[string]string{
		"unknown storage":   "storage:\n  type: redis\n",
		"postgres no dsn":   "storage:\n  type: postgres\n",
		"unknown resolver":  "resolver:\n  type: xbox\n",
		"admin no password": "auth:\n  admins:\n    - username: op\n",
		"bad yaml":          "discord: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8123\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.HTTPPort)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
