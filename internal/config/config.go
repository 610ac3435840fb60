// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
	// Warnings are non-fatal findings from validation, logged once the logger exists.
	Warnings []string
}

type APIConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Keys     []string      `yaml:"keys"`
	Timeout  time.Duration `yaml:"timeout"`
	Timezone string        `yaml:"timezone"` // zone of the vendor's timestamps
}

type ScheduleConfig struct {
	FirstResetTime   string `yaml:"first_reset_time"`  // HH:MM
	SecondResetTime  string `yaml:"second_reset_time"` // HH:MM
	LowBalanceTime   string `yaml:"low_balance_time"`  // HH:MM
	EnableLowBalance bool   `yaml:"enable_low_balance"`
	Timezone         string `yaml:"timezone"`
	HistoryPruneTime string `yaml:"history_prune_time"` // HH:MM
}

type ResetConfig struct {
	Cooldown            time.Duration `yaml:"cooldown"`
	SafetyMargin        time.Duration `yaml:"safety_margin"`
	EndOfDayBuffer      time.Duration `yaml:"end_of_day_buffer"`
	RequestInterval     time.Duration `yaml:"request_interval"`
	VerificationWait    time.Duration `yaml:"verification_wait"`
	LowBalanceThreshold float64       `yaml:"low_balance_threshold"`
	ExcludePlanNames    []string      `yaml:"exclude_plan_names"`
	DryRun              bool          `yaml:"dry_run"`
}

type RetryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Capacity        int           `yaml:"capacity"`
	RefillPerMinute float64       `yaml:"refill_per_minute"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WeComConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type LocalFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type NotifyConfig struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	WeCom     WeComConfig     `yaml:"wecom"`
	LocalFile LocalFileConfig `yaml:"local_file"`
	Timeout   time.Duration   `yaml:"timeout"`
	Language  string          `yaml:"language"` // en | zh
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Port      int           `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// ManualTriggerLimit caps manual runs per checkpoint per ManualTriggerWindow; needs redis.
	ManualTriggerLimit  int           `yaml:"manual_trigger_limit"`
	ManualTriggerWindow time.Duration `yaml:"manual_trigger_window"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url"`
	HistoryKeepDays int    `yaml:"history_keep_days"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type StateConfig struct {
	Backend           string `yaml:"backend"` // file | redis
	Dir               string `yaml:"dir"`
	MaxRecentFailures int    `yaml:"max_recent_failures"`
}

type Config struct {
	API       APIConfig       `yaml:"api"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Reset     ResetConfig     `yaml:"reset"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	State     StateConfig     `yaml:"state"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Default returns a config populated with the service defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:  "https://www.88code.org",
			Timeout:  30 * time.Second,
			Timezone: "Asia/Shanghai",
		},
		Schedule: ScheduleConfig{
			FirstResetTime:   "18:55",
			SecondResetTime:  "23:55",
			LowBalanceTime:   "00:01",
			EnableLowBalance: true,
			Timezone:         "Asia/Shanghai",
			HistoryPruneTime: "03:30",
		},
		Reset: ResetConfig{
			Cooldown:            5 * time.Hour,
			SafetyMargin:        time.Second,
			EndOfDayBuffer:      10 * time.Second,
			RequestInterval:     time.Second,
			VerificationWait:    3 * time.Second,
			LowBalanceThreshold: 1,
		},
		Retry: RetryConfig{
			Enabled:    true,
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Capacity:        10,
			RefillPerMinute: 10,
			WaitTimeout:     time.Minute,
		},
		Notify: NotifyConfig{
			LocalFile: LocalFileConfig{Dir: "./notifications"},
			Timeout:   10 * time.Second,
			Language:  "en",
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Admin:    AdminConfig{Port: 8080, TokenTTL: time.Hour, ManualTriggerLimit: 5, ManualTriggerWindow: time.Hour},
		Database: DatabaseConfig{HistoryKeepDays: 90},
		Redis:    RedisConfig{LockTTL: 30 * time.Minute},
		State:    StateConfig{Backend: "file", Dir: "./data", MaxRecentFailures: 3},
	}
}

// envFiles are tried in order; the first one found is loaded.
var envFiles = []string{".env", "../../.env"}

// LoadConfig reads path (optional when every required value comes from the
// environment), applies .env and environment overrides, then validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			break
		}
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("API_KEYS"); v != "" {
		cfg.API.Keys = splitList(v)
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		cfg.Schedule.Timezone = v
	}
	if v := os.Getenv("FIRST_RESET_TIME"); v != "" {
		cfg.Schedule.FirstResetTime = v
	}
	if v := os.Getenv("SECOND_RESET_TIME"); v != "" {
		cfg.Schedule.SecondResetTime = v
	}
	if v := os.Getenv("EXCLUDE_PLAN_NAMES"); v != "" {
		cfg.Reset.ExcludePlanNames = splitList(v)
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.Reset.DryRun = v == "true"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
		cfg.Notify.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Notify.Telegram.ChatID = id
	}
	if v := os.Getenv("WECOM_WEBHOOK_URL"); v != "" {
		cfg.Notify.WeCom.WebhookURL = v
		cfg.Notify.WeCom.Enabled = true
	}
	if v := os.Getenv("NOTIFY_LANGUAGE"); v != "" {
		cfg.Notify.Language = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
}

// Validate checks hard constraints and records soft ones in Runtime.Warnings.
func (c *Config) Validate() error {
	var errs []error
	if len(c.API.Keys) == 0 {
		errs = append(errs, errors.New("api.keys (or API_KEYS) is required"))
	}
	for i, k := range c.API.Keys {
		if len(k) < 10 {
			errs = append(errs, fmt.Errorf("api.keys[%d]: key too short", i))
		}
	}
	if c.API.Timeout < time.Second || c.API.Timeout > 120*time.Second {
		errs = append(errs, fmt.Errorf("api.timeout must be within 1s..120s, got %s", c.API.Timeout))
	}
	if c.Retry.MaxRetries < 0 || c.Retry.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be within 0..10, got %d", c.Retry.MaxRetries))
	}
	if c.Reset.Cooldown <= 0 {
		errs = append(errs, errors.New("reset.cooldown must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerMinute <= 0) {
		errs = append(errs, errors.New("rate_limit.capacity and rate_limit.refill_per_minute must be positive"))
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	if _, err := time.LoadLocation(c.API.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("api.timezone: %w", err))
	}
	for name, v := range map[string]string{
		"schedule.first_reset_time":   c.Schedule.FirstResetTime,
		"schedule.second_reset_time":  c.Schedule.SecondResetTime,
		"schedule.low_balance_time":   c.Schedule.LowBalanceTime,
		"schedule.history_prune_time": c.Schedule.HistoryPruneTime,
	} {
		if _, _, err := ParseClock(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("notify.telegram requires bot_token and chat_id"))
	}
	if c.Notify.WeCom.Enabled && c.Notify.WeCom.WebhookURL == "" {
		errs = append(errs, errors.New("notify.wecom requires webhook_url"))
	}
	if c.Admin.Enabled && c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("admin.jwt_secret is required when admin is enabled"))
	}
	if c.State.Backend != "file" && c.State.Backend != "redis" {
		errs = append(errs, fmt.Errorf("state.backend must be file or redis, got %q", c.State.Backend))
	}
	if c.State.Backend == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("state.backend=redis requires redis.url"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.Runtime.Warnings = nil
	if w := c.checkpointSpacingWarning(); w != "" {
		c.Runtime.Warnings = append(c.Runtime.Warnings, w)
	}
	return nil
}

// checkpointSpacingWarning flags a SECOND checkpoint scheduled less than one
// cooldown after FIRST: a FIRST-time reset would still be cooling down.
func (c *Config) checkpointSpacingWarning() string {
	fh, fm, _ := ParseClock(c.Schedule.FirstResetTime)
	sh, sm, _ := ParseClock(c.Schedule.SecondResetTime)
	first := time.Duration(fh)*time.Hour + time.Duration(fm)*time.Minute
	second := time.Duration(sh)*time.Hour + time.Duration(sm)*time.Minute
	gap := second - first
	if gap < 0 {
		gap += 24 * time.Hour
	}
	if gap < c.Reset.Cooldown {
		return fmt.Sprintf("second checkpoint %s is only %s after first checkpoint %s, less than the %s cooldown",
			c.Schedule.SecondResetTime, gap, c.Schedule.FirstResetTime, c.Reset.Cooldown)
	}
	return ""
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ScheduleLocation returns the checkpoint time zone. Validate has already checked it.
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// APILocation returns the zone of the vendor's timestamps.
func (c *Config) APILocation() *time.Location {
	loc, err := time.LoadLocation(c.API.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
