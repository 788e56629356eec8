package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the CalDAV connection settings.
type ServerConfig struct {
	// URL is the CalDAV server (or principal) URL.
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	// CACertPath optionally names a PEM bundle used to verify the server.
	CACertPath string `yaml:"cert_path,omitempty" json:"cert_path,omitempty"`
	// Timeout bounds each HTTP request, e.g. "30s".
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SensorConfig describes one entity derived from a calendar.
type SensorConfig struct {
	DeviceID string `yaml:"device_id" json:"device_id"`
	Name     string `yaml:"name" json:"name"`
	// Track controls whether the sensor becomes an entity at all.
	Track bool `yaml:"track" json:"track"`
	// Search keeps only events whose summary contains this text.
	Search string `yaml:"search,omitempty" json:"search,omitempty"`
	// Offset is the marker introducing an offset in event summaries.
	Offset string `yaml:"offset,omitempty" json:"offset,omitempty"`
}

// CalendarConfig binds a server-side calendar (by display name) to its sensors.
type CalendarConfig struct {
	CalendarID string         `yaml:"cal_id" json:"cal_id"`
	Sensors    []SensorConfig `yaml:"sensors" json:"sensors"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// File, if set, receives a rotated copy of the log.
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Refresh is a cron-style schedule (e.g. "*/5 * * * *") on which every
	// entity is refreshed. Each calendar still queries the server at most
	// once per 15 minutes.
	Refresh string `yaml:"refresh" json:"refresh"`

	// Timezone places all-day events when computing offset_reached.
	Timezone string `yaml:"timezone" json:"timezone"`

	Server   ServerConfig     `yaml:"server" json:"server"`
	Entities []CalendarConfig `yaml:"entities" json:"entities"`
	Log      LogConfig        `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen  = "127.0.0.1:8080"
	defaultRefresh = "*/5 * * * *"
	defaultTimeout = "30s"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Refresh:  defaultRefresh,
		Timezone: "Local",
		Server: ServerConfig{
			URL:     "https://dav.example.com/",
			Timeout: defaultTimeout,
		},
		Entities: []CalendarConfig{},
		Log:      LogConfig{Level: "info"},
	}
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	if c.Refresh == "" {
		c.Refresh = defaultRefresh
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.Server.Timeout == "" {
		c.Server.Timeout = defaultTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Entities == nil {
		c.Entities = []CalendarConfig{}
	}
	for i := range c.Entities {
		if c.Entities[i].Sensors == nil {
			c.Entities[i].Sensors = []SensorConfig{}
		}
	}
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Server.URL)
	switch {
	case c.Server.URL == "":
		errs = append(errs, errors.New("server.url is required"))
	case err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https"):
		errs = append(errs, fmt.Errorf("server.url %q is not an http(s) URL", c.Server.URL))
	}
	if c.Server.Username == "" {
		errs = append(errs, errors.New("server.user is required"))
	}
	if c.Server.Password == "" {
		errs = append(errs, errors.New("server.password is required"))
	}
	if _, err := c.RequestTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool)
	for i, cal := range c.Entities {
		if cal.CalendarID == "" {
			errs = append(errs, fmt.Errorf("entities[%d].cal_id is required", i))
		}
		for j, s := range cal.Sensors {
			if s.DeviceID == "" {
				errs = append(errs, fmt.Errorf("entities[%d].sensors[%d].device_id is required", i, j))
				continue
			}
			if s.Name == "" {
				errs = append(errs, fmt.Errorf("entities[%d].sensors[%d].name is required", i, j))
			}
			if seen[s.DeviceID] {
				errs = append(errs, fmt.Errorf("duplicate device_id %q", s.DeviceID))
			}
			seen[s.DeviceID] = true
		}
	}

	return errors.Join(errs...)
}

// RequestTimeout parses Server.Timeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	if c.Server.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil {
		return 0, fmt.Errorf("server.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("server.timeout: must not be negative")
	}
	return d, nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
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

	tmp, err := os.CreateTemp(dir, ".caldavcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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
