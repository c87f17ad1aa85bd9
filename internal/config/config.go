package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tillbridge/tillbridge/internal/model"
)

// ErrConfigFileNotFound is returned when an explicit config path does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the full service configuration. Values come from an optional JSON
// file, then TILLBRIDGE_* environment overrides, then Validate.
type Config struct {
	Source   Source `json:"source"`
	Target   Target `json:"target"`
	Sync     Sync   `json:"sync"`
	HTTP     HTTP   `json:"http"`
	DeviceID string `json:"deviceId"`
}

// Source describes the authoritative PostgreSQL database.
type Source struct {
	ConnectionString string `json:"connectionString"`
}

// Target describes the MongoDB replica the service writes to.
type Target struct {
	ConnectionString              string `json:"connectionString"`
	DatabaseName                  string `json:"databaseName"`
	SocketTimeoutSeconds          int    `json:"socketTimeoutSeconds"`
	ServerSelectionTimeoutSeconds int    `json:"serverSelectionTimeoutSeconds"`
}

// Sync tunes the incremental engine.
type Sync struct {
	IntervalSeconds   int            `json:"intervalSeconds"`
	DefaultWindowDays int            `json:"defaultWindowDays"`
	WindowDays        map[string]int `json:"windowDays"`
	BatchSize         map[string]int `json:"batchSize"`
	InterBatchDelayMs int            `json:"interBatchDelayMs"`
	MaxReplayDays     int            `json:"maxReplayDays"`
}

// HTTP configures the embedded status/pull API server.
type HTTP struct {
	Addr      string `json:"addr"`
	JWTSecret string `json:"jwtSecret"`
}

// Default returns the configuration with every tunable at its documented default.
func Default() *Config {
	return &Config{
		Target: Target{
			DatabaseName:                  "tillbridge",
			SocketTimeoutSeconds:          600,
			ServerSelectionTimeoutSeconds: 30,
		},
		Sync: Sync{
			IntervalSeconds:   120,
			DefaultWindowDays: 30,
			WindowDays: map[string]int{
				model.CollTransactions: 3,
			},
			BatchSize: map[string]int{
				model.CollTransactions: 200,
				model.CollProducts:     500,
				model.CollCustomers:    500,
				model.CollExpenses:     500,
			},
			InterBatchDelayMs: 100,
			MaxReplayDays:     365,
		},
		HTTP: HTTP{
			Addr: ":8080",
		},
	}
}

// Load reads configuration from an optional JSON file path and applies
// environment overrides. A missing DeviceID is replaced with a generated one
// so checkpoints stay attributable across restarts of the same install only
// if the operator pins it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrConfigFileNotFound
			}
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}

	return cfg, nil
}

// applyEnvOverrides applies TILLBRIDGE_* environment variables on top of the
// file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TILLBRIDGE_SOURCE_URL"); v != "" {
		cfg.Source.ConnectionString = v
	}
	if v := os.Getenv("TILLBRIDGE_TARGET_URL"); v != "" {
		cfg.Target.ConnectionString = v
	}
	if v := os.Getenv("TILLBRIDGE_TARGET_DB"); v != "" {
		cfg.Target.DatabaseName = v
	}
	if v := os.Getenv("TILLBRIDGE_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("TILLBRIDGE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TILLBRIDGE_JWT_SECRET"); v != "" {
		cfg.HTTP.JWTSecret = v
	}
	if v := os.Getenv("TILLBRIDGE_SYNC_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.IntervalSeconds = n
		}
	}
	if v := os.Getenv("TILLBRIDGE_INTER_BATCH_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Sync.InterBatchDelayMs = n
		}
	}
}

// Validate checks that the configuration can actually run a sync pass.
func (c *Config) Validate() error {
	if c.Source.ConnectionString == "" {
		return errors.New("source.connectionString is required")
	}
	if c.Target.ConnectionString == "" {
		return errors.New("target.connectionString is required")
	}
	if c.Target.DatabaseName == "" {
		return errors.New("target.databaseName is required")
	}
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.intervalSeconds must be positive, got %d", c.Sync.IntervalSeconds)
	}
	if c.Sync.MaxReplayDays <= 0 {
		return fmt.Errorf("sync.maxReplayDays must be positive, got %d", c.Sync.MaxReplayDays)
	}
	for entity, n := range c.Sync.BatchSize {
		if n <= 0 {
			return fmt.Errorf("sync.batchSize.%s must be positive, got %d", entity, n)
		}
	}
	return nil
}

// Interval returns the scheduler cadence.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// InterBatchDelay returns the throttle slept between upsert batches.
func (c *Config) InterBatchDelay() time.Duration {
	return time.Duration(c.Sync.InterBatchDelayMs) * time.Millisecond
}

// WindowFor returns the default replay window applied when an entity has no
// checkpoint yet. Transactions default to a narrow window; everything else
// uses defaultWindowDays. Per-entity overrides win.
func (c *Config) WindowFor(entity string) time.Duration {
	days := c.Sync.DefaultWindowDays
	if d, ok := c.Sync.WindowDays[entity]; ok && d > 0 {
		days = d
	}
	if days > c.Sync.MaxReplayDays {
		days = c.Sync.MaxReplayDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// BatchFor returns the upsert batch size for an entity, or 0 for snapshot
// entities that are not paged.
func (c *Config) BatchFor(entity string) int {
	return c.Sync.BatchSize[entity]
}
