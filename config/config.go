package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Facility   FacilityConfig   `yaml:"facility"`
	Quarantine QuarantineConfig `yaml:"quarantine"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// FacilityConfig sets the clock each facility's calendar day is read from.
type FacilityConfig struct {
	Timezone  string            `yaml:"timezone"`
	Timezones map[string]string `yaml:"timezones"` // facility id -> IANA zone

	locations map[string]*time.Location
	fallback  *time.Location
}

// Location returns the clock of a facility.
func (f *FacilityConfig) Location(facilityID string) *time.Location {
	if loc, ok := f.locations[facilityID]; ok {
		return loc
	}
	if f.fallback != nil {
		return f.fallback
	}
	return time.UTC
}

// QuarantineConfig tunes quarantine computation.
type QuarantineConfig struct {
	CacheTTLSeconds  int           `yaml:"cache_ttl_seconds"`
	CacheTTL         time.Duration `yaml:"-"`
	TimeoutMillis    int           `yaml:"timeout_ms"`
	Timeout          time.Duration `yaml:"-"`
	ActivationsLimit int           `yaml:"activations_limit"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// IngestConfig holds the sterilizer log feed configuration.
type IngestConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	HTTPProxy       string        `yaml:"http_proxy"`
	Timezone        string        `yaml:"timezone"`
	Request         IngestRequest `yaml:"request"`
}

// IngestRequest defines the HTTP request for the feed.
type IngestRequest struct {
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers"`
	PageSize int               `yaml:"pageSize"`
	Payload  map[string]any    `yaml:"payload"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in unset values and derives durations and time zones.
// An unknown time zone is an error: the calendar day of every BI test is
// read from it.
func (cfg *Config) ApplyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	fallback, err := loadLocation(cfg.Facility.Timezone, "facility.timezone")
	if err != nil {
		return err
	}
	cfg.Facility.fallback = fallback
	cfg.Facility.locations = make(map[string]*time.Location, len(cfg.Facility.Timezones))
	for facilityID, tz := range cfg.Facility.Timezones {
		loc, err := loadLocation(tz, "facility.timezones."+facilityID)
		if err != nil {
			return err
		}
		cfg.Facility.locations[facilityID] = loc
	}

	if cfg.Quarantine.CacheTTLSeconds < 0 {
		cfg.Quarantine.CacheTTLSeconds = 0
	} else if cfg.Quarantine.CacheTTLSeconds == 0 {
		cfg.Quarantine.CacheTTLSeconds = 300
	}
	cfg.Quarantine.CacheTTL = time.Duration(cfg.Quarantine.CacheTTLSeconds) * time.Second
	if cfg.Quarantine.TimeoutMillis <= 0 {
		cfg.Quarantine.TimeoutMillis = 5000
	}
	cfg.Quarantine.Timeout = time.Duration(cfg.Quarantine.TimeoutMillis) * time.Millisecond
	if cfg.Quarantine.ActivationsLimit <= 0 {
		cfg.Quarantine.ActivationsLimit = 50
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.Ingest.IntervalSeconds <= 0 {
		cfg.Ingest.IntervalSeconds = 60
	}
	cfg.Ingest.Interval = time.Duration(cfg.Ingest.IntervalSeconds) * time.Second
	if cfg.Ingest.Request.PageSize <= 0 {
		cfg.Ingest.Request.PageSize = 100
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = cfg.Facility.Timezone
	}
	if _, err := loadLocation(cfg.Ingest.Timezone, "ingest.timezone"); err != nil {
		return err
	}
	return nil
}

func loadLocation(name, field string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s %q is not a valid time zone: %w", field, name, err)
	}
	return loc, nil
}
