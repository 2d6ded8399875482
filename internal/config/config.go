package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

// Config holds all application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Instagram Platform  `yaml:"instagram" env-prefix:"INSTAGRAM_"`
	Threads   Platform  `yaml:"threads" env-prefix:"THREADS_"`
	Publisher Publisher `yaml:"publisher"`
	Scheduler Scheduler `yaml:"scheduler"`
	Schedule  Schedule  `yaml:"schedule"`
	Ingest    Ingest    `yaml:"ingest"`
	S3        S3        `yaml:"s3"`
	Database  Database  `yaml:"database"`
	Caption   Caption   `yaml:"caption"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Log holds logging configuration
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// SlogLevel maps the configured level name to a slog level
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Platform holds Graph API configuration and the account a platform publishes to
type Platform struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED" env-default:"false"`
	BaseURL     string `yaml:"base_url" env:"BASE_URL"`
	APIVersion  string `yaml:"api_version" env:"API_VERSION"`
	UserID      string `yaml:"user_id" env:"USER_ID"`
	AccessToken string `yaml:"access_token" env:"ACCESS_TOKEN"`
}

// Target returns the default publish target for the platform
func (p Platform) Target(platform entity.Platform) entity.PlatformTarget {
	return entity.PlatformTarget{
		Platform:    platform,
		UserID:      p.UserID,
		AccessToken: p.AccessToken,
		Enabled:     p.Enabled,
	}
}

// Publisher holds publish pipeline configuration
type Publisher struct {
	// Mock resolves every remote step instantly instead of calling the Graph API
	Mock        bool          `yaml:"mock" env:"PUBLISHER_MOCK" env-default:"false"`
	Autorun     bool          `yaml:"autorun" env:"PUBLISHER_AUTORUN" env-default:"true"`
	StepTimeout time.Duration `yaml:"step_timeout" env:"PUBLISHER_STEP_TIMEOUT" env-default:"30s"`

	// Requests per second to the Graph API per platform, 0 disables limiting
	RateLimit float64 `yaml:"rate_limit" env:"PUBLISHER_RATE_LIMIT" env-default:"5"`
	RateBurst int     `yaml:"rate_burst" env:"PUBLISHER_RATE_BURST" env-default:"5"`

	CreateAttempts   int           `yaml:"create_attempts" env:"PUBLISHER_CREATE_ATTEMPTS" env-default:"3"`
	CreateBackoff    time.Duration `yaml:"create_backoff" env:"PUBLISHER_CREATE_BACKOFF" env-default:"2s"`
	PollAttempts     int           `yaml:"poll_attempts" env:"PUBLISHER_POLL_ATTEMPTS" env-default:"30"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"PUBLISHER_POLL_INTERVAL" env-default:"5s"`
	FinalizeAttempts int           `yaml:"finalize_attempts" env:"PUBLISHER_FINALIZE_ATTEMPTS" env-default:"3"`
	FinalizeBackoff  time.Duration `yaml:"finalize_backoff" env:"PUBLISHER_FINALIZE_BACKOFF" env-default:"2s"`
	MaxBackoff       time.Duration `yaml:"max_backoff" env:"PUBLISHER_MAX_BACKOFF" env-default:"30s"`
}

// Scheduler holds periodic loop configuration
type Scheduler struct {
	Enabled        bool          `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	Interval       time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL" env-default:"1m"`
	RepostSchedule string        `yaml:"repost_schedule" env:"SCHEDULER_REPOST_SCHEDULE" env-default:"@every 1h"`
	ExportInterval time.Duration `yaml:"export_interval" env:"SCHEDULER_EXPORT_INTERVAL" env-default:"5m"`
}

// Schedule seeds the initial schedule configuration
type Schedule struct {
	Mode          string   `yaml:"mode" env:"SCHEDULE_MODE" env-default:"interval"`
	IntervalHours int      `yaml:"interval_hours" env:"SCHEDULE_INTERVAL_HOURS" env-default:"4"`
	Weekdays      []int    `yaml:"weekdays" env:"SCHEDULE_WEEKDAYS" env-separator:","`
	Times         []string `yaml:"times" env:"SCHEDULE_TIMES" env-separator:"," env-default:"09:00"`
	Timezone      string   `yaml:"timezone" env:"SCHEDULE_TIMEZONE" env-default:"UTC"`
	AutoRepost    bool     `yaml:"auto_repost" env:"SCHEDULE_AUTO_REPOST" env-default:"false"`
}

// ScheduleConfig converts the seed into a validated schedule configuration
func (s Schedule) ScheduleConfig() (entity.ScheduleConfig, error) {
	mode, err := entity.ParseScheduleMode(s.Mode)
	if err != nil {
		return entity.ScheduleConfig{}, err
	}

	cfg := entity.ScheduleConfig{
		Mode:              mode,
		IntervalHours:     s.IntervalHours,
		Timezone:          s.Timezone,
		AutoRepostEnabled: s.AutoRepost,
	}
	for _, d := range s.Weekdays {
		cfg.AllowedWeekdays = append(cfg.AllowedWeekdays, time.Weekday(d))
	}
	for _, raw := range s.Times {
		t, err := entity.ParseTimeOfDay(raw)
		if err != nil {
			return entity.ScheduleConfig{}, err
		}
		cfg.Times = append(cfg.Times, t)
	}

	if err := cfg.Validate(); err != nil {
		return entity.ScheduleConfig{}, err
	}
	return cfg.Normalize(), nil
}

// Ingest holds inbox watcher configuration
type Ingest struct {
	Enabled  bool          `yaml:"enabled" env:"INGEST_ENABLED" env-default:"false"`
	Dir      string        `yaml:"dir" env:"INGEST_DIR" env-default:"./inbox"`
	Debounce time.Duration `yaml:"debounce" env:"INGEST_DEBOUNCE" env-default:"2s"`

	// MediaBaseURL prefixes file names when S3 is disabled
	MediaBaseURL string `yaml:"media_base_url" env:"MEDIA_BASE_URL" env-default:"http://localhost:8080/media"`
}

// S3 holds S3/MinIO storage configuration
type S3 struct {
	Enabled         bool   `yaml:"enabled" env:"S3_ENABLED" env-default:"false"`
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"media"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	Prefix          string `yaml:"prefix" env:"S3_PREFIX" env-default:"autopost"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/media"`
}

// Database holds the optional snapshot export database
type Database struct {
	// PostgreSQL, empty disables the export loop
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
	MaxConns    int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"4"`
}

// Caption holds defaults for generated captions
type Caption struct {
	Hashtags []string `yaml:"hashtags" env:"CAPTION_HASHTAGS" env-separator:","`
}

// Validate checks values that cleanenv cannot
func (c Config) Validate() error {
	if _, err := c.Schedule.ScheduleConfig(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if !c.Publisher.Mock {
		for name, p := range map[string]Platform{"instagram": c.Instagram, "threads": c.Threads} {
			if p.Enabled && (p.UserID == "" || p.AccessToken == "") {
				return fmt.Errorf("%s: user id and access token are required", name)
			}
		}
	}
	return nil
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
