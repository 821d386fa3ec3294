package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// LLM backends
const (
	BackendOpenAI = "openai"
	BackendLocal  = "local"
)

type LLMConfig struct {
	Backend          string `json:"backend"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	APIKey           string `json:"api_key"`
	ContextSize      int    `json:"context_size"`
	HistoryTurns     int    `json:"history_turns"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	MaxRetries       int    `json:"max_retries"`
	MaxConcurrent    int    `json:"max_concurrent"`
	BreakerThreshold int    `json:"breaker_threshold"`
}

// Timeout is the per-attempt deadline for one backend call.
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(l.TimeoutSeconds) * time.Second
}

type Config struct {
	Server struct {
		Host    string `json:"host"`
		Port    int    `json:"port"`
		Subpath string `json:"subpath"`
	} `json:"server"`
	Store struct {
		Driver          string `json:"driver"`
		SessionTTLHours int    `json:"session_ttl_hours"`
	} `json:"store"`
	Postgres struct {
		DSN string `json:"dsn"`
	} `json:"postgres"`
	SQLite struct {
		Path string `json:"path"`
	} `json:"sqlite"`
	Redis struct {
		Addr           string `json:"addr"`
		Password       string `json:"password"`
		DB             int    `json:"db"`
		LockTTLSeconds int    `json:"lock_ttl_seconds"`
	} `json:"redis"`
	LLM LLMConfig `json:"llm"`
	// Classifier optionally points intent classification at a smaller model.
	// Empty fields fall back to LLM.
	Classifier struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"classifier"`
	Knowledge struct {
		Path string `json:"path"`
	} `json:"knowledge"`
	Log struct {
		Level       string `json:"level"`
		Development bool   `json:"development"`
	} `json:"log"`
}

var (
	once   sync.Once
	cfg    *Config
	cfgErr error
)

// LoadConfig reads config.json from disk (singleton).
// A .env file next to the process is loaded first so secrets can stay out of the JSON.
func LoadConfig(path string) (*Config, error) {
	once.Do(func() {
		_ = godotenv.Load()

		raw, err := os.ReadFile(path)
		if err != nil {
			cfgErr = fmt.Errorf("failed to read config file: %w", err)
			return
		}
		var c Config
		if err := json.Unmarshal(raw, &c); err != nil {
			cfgErr = fmt.Errorf("invalid config format: %w", err)
			return
		}
		c.applyDefaults()
		c.applyEnv()
		if err := c.Validate(); err != nil {
			cfgErr = err
			return
		}
		cfg = &c
	})
	return cfg, cfgErr
}

// GetConfig returns the loaded config (must call LoadConfig first)
func GetConfig() *Config {
	return cfg
}

// ResetConfigForTest resets the singleton state (for testing only)
func ResetConfigForTest() {
	once = sync.Once{}
	cfg = nil
	cfgErr = nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 10000
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Redis.LockTTLSeconds <= 0 {
		c.Redis.LockTTLSeconds = 120
	}
	if c.LLM.Backend == "" {
		c.LLM.Backend = BackendLocal
	}
	if c.LLM.ContextSize == 0 {
		c.LLM.ContextSize = 4096
	}
	if c.LLM.HistoryTurns == 0 {
		c.LLM.HistoryTurns = 10
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	if c.LLM.MaxConcurrent <= 0 {
		c.LLM.MaxConcurrent = 4
	}
	if c.LLM.BreakerThreshold <= 0 {
		c.LLM.BreakerThreshold = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnv lets the environment override secrets and the listen port.
func (c *Config) applyEnv() {
	if v := os.Getenv("RECRUITER_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("RECRUITER_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("RECRUITER_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate checks the fields the service cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set for the redis store")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn must be set for the postgres store")
		}
	case StoreSQLite:
		if c.SQLite.Path == "" {
			return errors.New("sqlite.path must be set for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.LLM.Backend {
	case BackendLocal:
		if c.LLM.URL == "" {
			return errors.New("llm.url must be set for the local backend")
		}
	case BackendOpenAI:
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key (or RECRUITER_LLM_API_KEY) must be set for the openai backend")
		}
	default:
		return fmt.Errorf("unknown llm backend %q", c.LLM.Backend)
	}
	return nil
}

// SessionTTL is how long an idle session survives in stores that expire keys.
// Zero means no expiry.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Store.SessionTTLHours) * time.Hour
}

// LockTTL bounds how long a per-user turn lock may be held.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

// ClassifierModel returns the model name and URL used for intent classification.
func (c *Config) ClassifierModel() (string, string) {
	name, url := c.Classifier.Name, c.Classifier.URL
	if name == "" {
		name = c.LLM.Name
	}
	if url == "" {
		url = c.LLM.URL
	}
	return name, url
}
