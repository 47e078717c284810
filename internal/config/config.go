package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment override, e.g. HANDOFF_ADDR.
const EnvPrefix = "HANDOFF_"

// Config is intentionally small and JSON-friendly.
// Precedence: Default() < JSON file < HANDOFF_* env < command-line flags.
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr"`

	// StateDir holds sessions.json, tokens.json, sessions/ and uploads/.
	StateDir string `json:"stateDir"`

	// BaseURL is prefixed to every link handed out (upload forms, sessions,
	// short /d/ links). Empty means "derive from the request Host".
	BaseURL string `json:"baseURL,omitempty"`

	// TokenTTL bounds how long an upload token stays usable. Default: 30m.
	TokenTTL Duration `json:"tokenTTL"`

	// SessionTTL bounds how long a sharing session is served. Default: 24h.
	SessionTTL Duration `json:"sessionTTL"`

	// MaxUploadBytes caps one upload body. Default: 50 MiB.
	MaxUploadBytes int64 `json:"maxUploadBytes"`

	// SweepInterval is the period of the background reaper. Expired records
	// are never served regardless; the sweep only reclaims disk.
	SweepInterval Duration `json:"sweepInterval"`

	// AdminAPI mounts /api/admin/* for loopback clients. The CLI needs it.
	AdminAPI bool `json:"adminAPI,omitempty"`

	// WebDAV exposes live sessions read-only under /dav/<session>/.
	WebDAV bool `json:"webdav,omitempty"`

	// Thumbnails enables ?thumb=1 on image downloads.
	Thumbnails bool `json:"thumbnails,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty"`
	// LogFormat is "text" or "json".
	LogFormat string `json:"logFormat,omitempty"`
}

// Duration is a time.Duration that reads and writes Go duration strings
// ("30m", "24h") in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	// Bare numbers are seconds.
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\" or a number of seconds")
	}
	*d = Duration(n * float64(time.Second))
	return nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:           "127.0.0.1:8765",
		StateDir:       "./handoff-data",
		TokenTTL:       Duration(30 * time.Minute),
		SessionTTL:     Duration(24 * time.Hour),
		MaxUploadBytes: 50 << 20,
		SweepInterval:  Duration(5 * time.Minute),
		Thumbnails:     true,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// LoadFile overlays the JSON document at path onto cfg. Fields absent from
// the file keep their current values.
func LoadFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays HANDOFF_* environment variables onto cfg. Unparsable
// values are ignored.
func ApplyEnv(cfg *Config) {
	cfg.Addr = envString("ADDR", cfg.Addr)
	cfg.StateDir = envString("STATE_DIR", cfg.StateDir)
	cfg.BaseURL = envString("BASE_URL", cfg.BaseURL)
	cfg.TokenTTL = Duration(envDuration("TOKEN_TTL", cfg.TokenTTL.Std()))
	cfg.SessionTTL = Duration(envDuration("SESSION_TTL", cfg.SessionTTL.Std()))
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.SweepInterval = Duration(envDuration("SWEEP_INTERVAL", cfg.SweepInterval.Std()))
	cfg.AdminAPI = envBool("ADMIN_API", cfg.AdminAPI)
	cfg.WebDAV = envBool("WEBDAV", cfg.WebDAV)
	cfg.Thumbnails = envBool("THUMBNAILS", cfg.Thumbnails)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return errors.New("config: addr is required")
	case strings.TrimSpace(c.StateDir) == "":
		return errors.New("config: stateDir is required")
	case c.TokenTTL <= 0:
		return errors.New("config: tokenTTL must be positive")
	case c.SessionTTL <= 0:
		return errors.New("config: sessionTTL must be positive")
	case c.MaxUploadBytes <= 0:
		return errors.New("config: maxUploadBytes must be positive")
	case c.SweepInterval < 0:
		return errors.New("config: sweepInterval must not be negative")
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("config: baseURL %q must start with http:// or https://", c.BaseURL)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown logFormat %q", c.LogFormat)
	}
	return nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
