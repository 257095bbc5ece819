package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables (optionally from a .env file) are
// applied on top of the file.

const (
	defaultListen       = "127.0.0.1:8080"
	defaultAPIBaseURL   = "https://api.hackthenorth.com/v3"
	defaultTimezone     = "America/Toronto"
	defaultStorageKey   = "htn_auth"
	defaultProbeCron    = "*/5 * * * *"
	defaultFetchTimeout = 15
	defaultRelatedLimit = 2
	defaultIDMin        = 1
	defaultIDMax        = 15
	defaultLogLevel     = "info"
	defaultUsername     = "hacker"
	defaultPassword     = "htn2026"
)

// envPrefix is prepended to every environment override key.
const envPrefix = "SCHEDVIEW_"

// IDRange is the inclusive range of event ids accepted for detail lookups.
// Ids outside it are rejected before any upstream request.
type IDRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether id lies in [Min, Max].
func (r IDRange) Contains(id int) bool {
	return id >= r.Min && id <= r.Max
}

// AuthConfig holds the login gate settings. The gate only toggles which
// events are displayed; it is not an identity system.
type AuthConfig struct {
	Username string `yaml:"username" json:"username"`
	// Password is compared in constant time. Ignored if PasswordBcrypt is set.
	Password string `yaml:"password,omitempty" json:"-"`
	// PasswordBcrypt is an optional bcrypt hash of the password.
	PasswordBcrypt string `yaml:"password_bcrypt,omitempty" json:"-"`

	// StorageKey is the fixed key under which the authenticated flag is
	// stored for each scope.
	StorageKey string `yaml:"storage_key" json:"storage_key"`

	// ScopeSecret signs the scope cookie. If empty, a random per-process
	// secret is used and scopes do not survive a restart.
	ScopeSecret string `yaml:"scope_secret,omitempty" json:"-"`
}

// RedisConfig selects the Redis-backed auth flag store.
type RedisConfig struct {
	// URL such as "redis://localhost:6379/0". Empty selects the in-memory store.
	URL string `yaml:"url" json:"url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the pages and API.
	Listen string `yaml:"listen" json:"listen"`

	// APIBaseURL is the upstream events API root, without trailing slash.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// Timezone is the IANA timezone used to format event times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// IDRange bounds detail lookups.
	IDRange IDRange `yaml:"id_range" json:"id_range"`

	// RelatedPreview caps how many related events each listing card shows.
	// The detail page always shows all of them. Zero or negative means no cap.
	RelatedPreview int `yaml:"related_preview" json:"related_preview"`

	// FetchTimeoutSeconds bounds a single upstream request.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// ProbeCron is a cron-style schedule for the upstream health probe.
	ProbeCron string `yaml:"probe_cron" json:"probe_cron"`

	// CORSOrigins lists origins allowed to call /api/* with cookies. Empty
	// allows any origin, without credentials.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// SecureCookie marks the scope cookie Secure (HTTPS deployments).
	SecureCookie bool `yaml:"secure_cookie" json:"secure_cookie"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Auth  AuthConfig  `yaml:"auth" json:"auth"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              defaultListen,
		APIBaseURL:          defaultAPIBaseURL,
		Timezone:            defaultTimezone,
		IDRange:             IDRange{Min: defaultIDMin, Max: defaultIDMax},
		RelatedPreview:      defaultRelatedLimit,
		FetchTimeoutSeconds: defaultFetchTimeout,
		ProbeCron:           defaultProbeCron,
		LogLevel:            defaultLogLevel,
		Auth: AuthConfig{
			Username:   defaultUsername,
			Password:   defaultPassword,
			StorageKey: defaultStorageKey,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}

	// An inverted or empty range would reject every id; fall back to defaults.
	if c.IDRange.Min == 0 && c.IDRange.Max == 0 {
		c.IDRange = IDRange{Min: defaultIDMin, Max: defaultIDMax}
	}
	if c.IDRange.Max < c.IDRange.Min {
		c.IDRange = IDRange{Min: defaultIDMin, Max: defaultIDMax}
	}

	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if c.ProbeCron == "" {
		c.ProbeCron = defaultProbeCron
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}

	if c.Auth.Username == "" {
		c.Auth.Username = defaultUsername
	}
	if c.Auth.Password == "" && c.Auth.PasswordBcrypt == "" {
		c.Auth.Password = defaultPassword
	}
	if c.Auth.StorageKey == "" {
		c.Auth.StorageKey = defaultStorageKey
	}
}

// Load loads configuration from the given YAML path, then applies
// environment overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - A .env file next to the working directory is loaded if present;
//     SCHEDVIEW_* variables override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}

	// Missing .env is the common case.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables using lookup
// (normally os.LookupEnv).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("LISTEN", &c.Listen)
	str("API_BASE_URL", &c.APIBaseURL)
	str("TIMEZONE", &c.Timezone)
	str("PROBE_CRON", &c.ProbeCron)
	str("LOG_LEVEL", &c.LogLevel)
	str("AUTH_USERNAME", &c.Auth.Username)
	str("AUTH_PASSWORD", &c.Auth.Password)
	str("AUTH_PASSWORD_BCRYPT", &c.Auth.PasswordBcrypt)
	str("AUTH_STORAGE_KEY", &c.Auth.StorageKey)
	str("AUTH_SCOPE_SECRET", &c.Auth.ScopeSecret)
	str("REDIS_URL", &c.Redis.URL)

	for key, dst := range map[string]*int{
		"ID_MIN":                &c.IDRange.Min,
		"ID_MAX":                &c.IDRange.Max,
		"RELATED_PREVIEW":       &c.RelatedPreview,
		"FETCH_TIMEOUT_SECONDS": &c.FetchTimeoutSeconds,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".schedview-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
