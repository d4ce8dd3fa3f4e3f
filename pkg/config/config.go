// Package config assembles vaultd's runtime configuration from an
// optional YAML file, environment variables, and command-line flags, in
// that order of increasing precedence — matching the layering the
// teacher's cmd/warren CLI applies (flags win, falling back to defaults
// baked into the flag registration itself).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/vaultd/pkg/log"
)

// Config is the fully resolved set of knobs cmd/vaultd needs to start.
type Config struct {
	BaseDir         string `yaml:"base_dir"`
	RelayURL        string `yaml:"relay_url"`
	RelayAuthToken  string `yaml:"relay_auth_token"`
	LogLevel        string `yaml:"log_level"`
	LogJSON         bool   `yaml:"log_json"`
	ApprovalDir     string `yaml:"approval_dir"`
	RelayMTLS       bool   `yaml:"relay_mtls"`
	AllowTestScrypt bool   `yaml:"-"` // only ever set via --allow-test-scrypt, never persisted
	ScryptNOverride int    `yaml:"-"` // only honored when AllowTestScrypt is true
}

// Default returns the baseline configuration before env/file/flag layers
// are applied.
func Default() Config {
	return Config{
		BaseDir:  "./vaultd-data",
		RelayURL: "",
		LogLevel: "info",
		LogJSON:  false,
	}
}

// LoadFile merges a YAML config file's fields onto cfg. A missing file is
// not an error — the file layer is optional.
func LoadFile(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays VAULTD_* environment variables onto cfg. The scrypt
// override is only ever read here but stays inert until the caller's
// --allow-test-scrypt flag is also set — see Config.AllowTestScrypt.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("VAULTD_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("VAULTD_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v := os.Getenv("VAULTD_RELAY_AUTH_TOKEN"); v != "" {
		cfg.RelayAuthToken = v
	}
	if v := os.Getenv("VAULTD_RELAY_MTLS"); v == "true" || v == "1" {
		cfg.RelayMTLS = true
	}
	if v := os.Getenv("VAULTD_APPROVAL_DIR"); v != "" {
		cfg.ApprovalDir = v
	}
	if v := os.Getenv("VAULTD_SCRYPT_N_OVERRIDE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.ScryptNOverride = n
		}
	}
	return cfg
}

// LogConfig translates the resolved Config into the teacher's log.Config.
func (c Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.Level(c.LogLevel),
		JSONOutput: c.LogJSON,
	}
}

// EffectiveScryptN returns the scrypt cost parameter the vault should be
// built with (cmd/vaultd passes any value other than productionN to
// vault.NewTestVault) — the production cost unless the caller explicitly
// opted into the test override via --allow-test-scrypt.
func (c Config) EffectiveScryptN(productionN int) int {
	if c.AllowTestScrypt && c.ScryptNOverride > 0 {
		return c.ScryptNOverride
	}
	return productionN
}
