package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg, err := LoadFile(Default(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_dir: /var/lib/vaultd\nrelay_url: https://relay.example.com\nlog_level: debug\n"), 0600))

	cfg, err := LoadFile(Default(), path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vaultd", cfg.BaseDir)
	assert.Equal(t, "https://relay.example.com", cfg.RelayURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnvOverridesBaseDirAndRelayURL(t *testing.T) {
	t.Setenv("VAULTD_BASE_DIR", "/env/vaultd")
	t.Setenv("VAULTD_RELAY_URL", "https://relay.env")
	t.Setenv("VAULTD_RELAY_AUTH_TOKEN", "env-token")

	cfg := ApplyEnv(Default())
	assert.Equal(t, "/env/vaultd", cfg.BaseDir)
	assert.Equal(t, "https://relay.env", cfg.RelayURL)
	assert.Equal(t, "env-token", cfg.RelayAuthToken)
}

func TestApplyEnvOverridesRelayMTLS(t *testing.T) {
	t.Setenv("VAULTD_RELAY_MTLS", "true")
	cfg := ApplyEnv(Default())
	assert.True(t, cfg.RelayMTLS)
}

func TestEffectiveScryptNIgnoresOverrideWithoutFlag(t *testing.T) {
	cfg := Default()
	cfg.ScryptNOverride = 1024
	assert.Equal(t, 65536, cfg.EffectiveScryptN(65536))
}

func TestEffectiveScryptNHonorsOverrideWhenAllowed(t *testing.T) {
	cfg := Default()
	cfg.ScryptNOverride = 1024
	cfg.AllowTestScrypt = true
	assert.Equal(t, 1024, cfg.EffectiveScryptN(65536))
}
