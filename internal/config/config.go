// Package config loads and holds the guard's policy configuration: the
// TOML file under the platform config directory, decoded over built-in
// defaults. No environment variable overrides a setting here; the wrapper
// and audit packages read SAFE_DOCKER_DOCKER_PATH, SAFE_DOCKER_ASK and
// SAFE_DOCKER_AUDIT where they use them. Defaults are populated the way the
// upstream Rust implementation does — every field has a sane default so a
// missing or partial config file never leaves the guard unconfigured.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chis/safe-docker/internal/guarderr"
)

// WrapperConfig holds settings specific to the wrapper adapter.
type WrapperConfig struct {
	DockerPath        string `toml:"docker_path"`
	NonInteractiveAsk string `toml:"non_interactive_ask"` // "allow" | "deny"
}

// AuditFormat selects which sink(s) the audit collector writes to.
type AuditFormat string

const (
	AuditFormatJSONL AuditFormat = "jsonl"
	AuditFormatOTLP  AuditFormat = "otlp"
	AuditFormatBoth  AuditFormat = "both"
)

// AuditConfig holds settings for the audit collector.
type AuditConfig struct {
	Enabled   bool        `toml:"enabled"`
	Format    AuditFormat `toml:"format"`
	JSONLPath string      `toml:"jsonl_path"`
	OTLPPath  string      `toml:"otlp_path"`
}

// Config is the full, immutable-per-invocation policy configuration.
type Config struct {
	AllowedPaths        []string `toml:"allowed_paths"`
	SensitivePaths      []string `toml:"sensitive_paths"`
	BlockedFlags        []string `toml:"blocked_flags"`
	BlockedCapabilities []string `toml:"blocked_capabilities"`
	AllowedImages       []string `toml:"allowed_images"`
	BlockDockerSocket   bool     `toml:"block_docker_socket"`

	Wrapper WrapperConfig `toml:"wrapper"`
	Audit   AuditConfig   `toml:"audit"`
}

func defaultSensitivePaths() []string {
	return []string{".ssh", ".aws", ".gnupg", ".docker", ".kube", ".config/gcloud", ".claude"}
}

func defaultBlockedFlags() []string {
	return []string{"--privileged", "--pid=host", "--network=host"}
}

func defaultBlockedCapabilities() []string {
	return []string{"SYS_ADMIN", "SYS_PTRACE", "SYS_MODULE", "SYS_RAWIO", "ALL"}
}

// Default returns a Config populated with the guard's baked-in defaults.
func Default() *Config {
	return &Config{
		AllowedPaths:        nil,
		SensitivePaths:      defaultSensitivePaths(),
		BlockedFlags:        defaultBlockedFlags(),
		BlockedCapabilities: defaultBlockedCapabilities(),
		AllowedImages:       nil,
		BlockDockerSocket:   true,
		Wrapper: WrapperConfig{
			DockerPath:        "",
			NonInteractiveAsk: "deny",
		},
		Audit: AuditConfig{
			Enabled:   false,
			Format:    AuditFormatJSONL,
			JSONLPath: "~/.local/share/safe-docker/audit.jsonl",
			OTLPPath:  "~/.local/share/safe-docker/audit.otlp.jsonl",
		},
	}
}

// DefaultPath returns the platform default config file location:
// $XDG_CONFIG_HOME/safe-docker/config.toml, falling back to
// ~/.config/safe-docker/config.toml.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "safe-docker", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("~", ".config", "safe-docker", "config.toml")
	}
	return filepath.Join(home, ".config", "safe-docker", "config.toml")
}

// Load reads the config file at the default path. A missing file is not an
// error — it yields Default().
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads and merges a TOML config file at path over the defaults.
// Fields absent from the file keep their default value because decoding
// targets a struct already populated with defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, guarderr.NewIO(err, "reading config file %s", path)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, guarderr.NewTOMLParse(err, "parsing config file %s: %v", path, err)
	}
	return cfg, nil
}

// IsPathAllowed reports whether canonicalPath falls under any allowed_paths
// entry (each entry canonicalised, falling back to a literal prefix match
// when canonicalisation fails, e.g. the entry does not exist yet).
func (c *Config) IsPathAllowed(canonicalPath string) bool {
	for _, allowed := range c.AllowedPaths {
		allowedCanonical := allowed
		if resolved, err := filepath.EvalSymlinks(allowed); err == nil {
			allowedCanonical = resolved
		}
		if canonicalPath == allowedCanonical ||
			strings.HasPrefix(canonicalPath, strings.TrimRight(allowedCanonical, "/")+"/") {
			return true
		}
	}
	return false
}

// IsPathSensitive reports whether pathRelativeToHome falls under any
// sensitive_paths prefix.
func (c *Config) IsPathSensitive(pathRelativeToHome string) bool {
	for _, sensitive := range c.SensitivePaths {
		if strings.HasPrefix(pathRelativeToHome, sensitive) {
			return true
		}
	}
	return false
}

// IsFlagBlocked reports whether flag matches a blocked_flags entry exactly
// or as a "flag=" prefix.
func (c *Config) IsFlagBlocked(flag string) bool {
	for _, blocked := range c.BlockedFlags {
		if flag == blocked || strings.HasPrefix(flag, blocked+"=") {
			return true
		}
	}
	return false
}

// IsCapabilityBlocked reports whether cap (case-insensitively) matches a
// blocked_capabilities entry.
func (c *Config) IsCapabilityBlocked(cap string) bool {
	capUpper := strings.ToUpper(cap)
	for _, blocked := range c.BlockedCapabilities {
		if capUpper == strings.ToUpper(blocked) {
			return true
		}
	}
	return false
}

// ExpandHome expands a leading "~" in path to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
