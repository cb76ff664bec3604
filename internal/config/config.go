package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "taskcal/internal/log"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the local web surface.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CalendarConfig carries the pixel metrics and time grid of the calendar view.
// These replace values a browser would otherwise measure from rendered markup.
type CalendarConfig struct {
	DayColumnWidth int `yaml:"day_column_width" json:"day_column_width"`
	GutterWidth    int `yaml:"gutter_width" json:"gutter_width"`
	HourHeight     int `yaml:"hour_height" json:"hour_height"`

	// StepMinutes is the slot granularity (e.g. 30 for half-hour slots).
	StepMinutes int `yaml:"step_minutes" json:"step_minutes"`

	// BufferDays is the number of off-screen columns kept on each side.
	BufferDays int `yaml:"buffer_days" json:"buffer_days"`
	// PageDays is the size of the initial window after a week change.
	PageDays int `yaml:"page_days" json:"page_days"`
	// HorizonDays bounds the logical timeline the body can scroll across.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	DayStartMinutes int `yaml:"day_start_minutes" json:"day_start_minutes"`
	DayEndMinutes   int `yaml:"day_end_minutes" json:"day_end_minutes"`

	// DefaultView is one of "day", "week", "agenda".
	DefaultView string `yaml:"default_view" json:"default_view"`
	AgendaDays  int    `yaml:"agenda_days" json:"agenda_days"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the local calendar surface.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to interpret zone-less task times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// APIURL is the Task API base URL. The auth base is derived from it.
	APIURL string `yaml:"api_url" json:"api_url"`

	TaskLimit      int           `yaml:"task_limit" json:"task_limit"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// RefreshCron schedules a reconciling reload of the task list.
	RefreshCron string `yaml:"refresh" json:"refresh"`
	// NowTick schedules the "now" indicator recomputation.
	NowTick string `yaml:"now_tick" json:"now_tick"`

	SessionFile string `yaml:"session_file" json:"session_file"`
	// OverridesDB is the sqlite file for local overrides. Empty keeps them in memory.
	OverridesDB string `yaml:"overrides_db" json:"overrides_db"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Token seeds the session from TASKCAL_TOKEN. Never written to disk.
	Token string `yaml:"-" json:"-"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "America/Tijuana"
	defaultAPIURL      = "http://localhost:8000"
	defaultTaskLimit   = 200
	defaultTimeout     = 15 * time.Second
	defaultRefreshCron = "*/5 * * * *"
	defaultNowTick     = "@every 15s"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.TaskLimit <= 0 {
		c.TaskLimit = defaultTaskLimit
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultTimeout
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.NowTick == "" {
		c.NowTick = defaultNowTick
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	c.Calendar.normalize()
}

func (c *CalendarConfig) normalize() {
	if c.DayColumnWidth <= 0 {
		c.DayColumnWidth = 140
	}
	if c.GutterWidth <= 0 {
		c.GutterWidth = 80
	}
	if c.HourHeight <= 0 {
		c.HourHeight = 48
	}
	if c.StepMinutes <= 0 || c.StepMinutes > 60 {
		c.StepMinutes = 30
	}
	if c.BufferDays <= 0 {
		c.BufferDays = 7
	}
	if c.PageDays <= 0 {
		c.PageDays = 14
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 730
	}
	if c.DayStartMinutes < 0 || c.DayStartMinutes >= 24*60 {
		c.DayStartMinutes = 0
	}
	if c.DayEndMinutes <= c.DayStartMinutes || c.DayEndMinutes > 24*60 {
		c.DayEndMinutes = 24 * 60
	}
	switch c.DefaultView {
	case "day", "week", "agenda":
	default:
		c.DefaultView = "week"
	}
	if c.AgendaDays <= 0 {
		c.AgendaDays = 30
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	return ResolveLocation(c.Timezone)
}

// ResolveLocation loads an IANA zone or returns time.Local when it cannot.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// On first run the file does not exist: a default config is written with
// 0600 perms and returned.
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
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// LoadEnv reads .env style files into the process environment. Missing
// files are not an error.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			appLog.Warn("failed to load env file", "file", f, "err", err)
		}
	}
}

// ApplyEnv overrides config fields from TASKCAL_* environment variables.
func (c *Config) ApplyEnv() {
	c.APIURL = getEnvOrDefault("TASKCAL_API_URL", c.APIURL)
	c.Listen = getEnvOrDefault("TASKCAL_LISTEN", c.Listen)
	c.Timezone = getEnvOrDefault("TASKCAL_TIMEZONE", c.Timezone)
	c.LogLevel = getEnvOrDefault("TASKCAL_LOG_LEVEL", c.LogLevel)
	c.SessionFile = getEnvOrDefault("TASKCAL_SESSION_FILE", c.SessionFile)
	c.Token = getEnvOrDefault("TASKCAL_TOKEN", c.Token)
	c.Normalize()
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".taskcal-config-*.tmp")
}

// WriteFileAtomic writes data next to path and renames it into place with
// 0600 perms, creating the parent directory (0700) when needed.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
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

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
