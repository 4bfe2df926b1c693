package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"foliochat/internal/models"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig     `json:"basic_config"`
	Chat        ChatConfig      `json:"chat"`
	Worker      WorkerConfig    `json:"worker"`
	Redis       RedisConfig     `json:"redis"`
	RateLimit   RateLimitConfig `json:"rate_limit"`
	Log         LogConfig       `json:"log"`
}

type BasicConfig struct {
	ServerAddress         string `json:"server_address"`
	Locale                string `json:"locale"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	ProbeTimeoutSeconds   int    `json:"probe_timeout_seconds"`
	SessionTTLMinutes     int    `json:"session_ttl_minutes"`
	ReapIntervalMinutes   int    `json:"reap_interval_minutes"`
	MaxSessions           int    `json:"max_sessions"`
	ContextMaxTurns       int    `json:"context_max_turns"`
	ContextMaxChars       int    `json:"context_max_chars"`
}

// ChatConfig holds the endpoint defaults every new session starts with.
type ChatConfig struct {
	Provider    string   `json:"provider"`
	Endpoint    string   `json:"endpoint"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	APIKey      string   `json:"api_key"`
	Models      []string `json:"models"`
}

type WorkerConfig struct {
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleSeconds int `json:"worker_idle_seconds"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type RateLimitConfig struct {
	Requests      int `json:"requests"`
	WindowSeconds int `json:"window_seconds"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	temp := models.DefaultTemperature
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:         ":8090",
			Locale:                "fr",
			RequestTimeoutSeconds: 120,
			ProbeTimeoutSeconds:   10,
			SessionTTLMinutes:     60,
			ReapIntervalMinutes:   5,
			ContextMaxTurns:       40,
			ContextMaxChars:       24000,
		},
		Chat: ChatConfig{
			Provider:    models.ProviderOllama,
			Endpoint:    models.DefaultEndpoint,
			Model:       models.DefaultModel,
			Temperature: &temp,
		},
		Worker: WorkerConfig{
			MinWorkers:        2,
			MaxWorkers:        8,
			QueueSize:         64,
			WorkerIdleSeconds: 30,
		},
		RateLimit: RateLimitConfig{
			Requests:      30,
			WindowSeconds: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json), then applies
// .env and environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FOLIOCHAT_ADDR"); v != "" {
		cfg.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("FOLIOCHAT_LOCALE"); v != "" {
		cfg.BasicConfig.Locale = v
	}
	if v := os.Getenv("FOLIOCHAT_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("FOLIOCHAT_ENDPOINT"); v != "" {
		cfg.Chat.Endpoint = v
	}
	if v := os.Getenv("FOLIOCHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("FOLIOCHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("FOLIOCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FOLIOCHAT_REDIS_ADDR"); v != "" {
		host, portStr, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("parse FOLIOCHAT_REDIS_ADDR: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("parse FOLIOCHAT_REDIS_ADDR port: %w", err)
		}
		cfg.Redis.Host = host
		cfg.Redis.Port = port
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = def.BasicConfig.ServerAddress
	}
	if c.BasicConfig.Locale == "" {
		c.BasicConfig.Locale = def.BasicConfig.Locale
	}
	if c.BasicConfig.RequestTimeoutSeconds <= 0 {
		c.BasicConfig.RequestTimeoutSeconds = def.BasicConfig.RequestTimeoutSeconds
	}
	if c.BasicConfig.ProbeTimeoutSeconds <= 0 {
		c.BasicConfig.ProbeTimeoutSeconds = def.BasicConfig.ProbeTimeoutSeconds
	}
	if c.BasicConfig.SessionTTLMinutes <= 0 {
		c.BasicConfig.SessionTTLMinutes = def.BasicConfig.SessionTTLMinutes
	}
	if c.BasicConfig.ReapIntervalMinutes <= 0 {
		c.BasicConfig.ReapIntervalMinutes = def.BasicConfig.ReapIntervalMinutes
	}
	if c.Chat.Provider == "" {
		c.Chat.Provider = def.Chat.Provider
	}
	if c.Chat.Endpoint == "" {
		c.Chat.Endpoint = def.Chat.Endpoint
	}
	if c.Chat.Model == "" {
		c.Chat.Model = def.Chat.Model
	}
	if c.Chat.Temperature == nil {
		c.Chat.Temperature = def.Chat.Temperature
	}
	if len(c.Chat.Models) == 0 {
		c.Chat.Models = append([]string(nil), models.SampleModels...)
	}
	if c.Worker.MaxWorkers <= 0 {
		c.Worker.MaxWorkers = def.Worker.MaxWorkers
	}
	if c.Worker.MinWorkers < 0 {
		c.Worker.MinWorkers = 0
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = def.Worker.QueueSize
	}
	if c.Worker.WorkerIdleSeconds <= 0 {
		c.Worker.WorkerIdleSeconds = def.Worker.WorkerIdleSeconds
	}
	if c.Redis.Enabled() && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = def.RateLimit.WindowSeconds
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate rejects values no session could work with.
func (c *Config) Validate() error {
	switch c.Chat.Provider {
	case models.ProviderOllama, models.ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported chat provider %q", c.Chat.Provider)
	}
	if t := *c.Chat.Temperature; t < 0 || t > 1 {
		return fmt.Errorf("chat temperature must be within [0,1], got %v", t)
	}
	switch strings.ToLower(c.BasicConfig.Locale) {
	case "fr", "en":
	default:
		return fmt.Errorf("unsupported locale %q", c.BasicConfig.Locale)
	}
	if c.Worker.MaxWorkers < c.Worker.MinWorkers {
		return fmt.Errorf("worker max_workers (%d) below min_workers (%d)", c.Worker.MaxWorkers, c.Worker.MinWorkers)
	}
	return nil
}

// DefaultEndpointConfig returns the endpoint configuration new sessions start with.
func (c *Config) DefaultEndpointConfig() models.EndpointConfig {
	return models.EndpointConfig{
		Provider:    c.Chat.Provider,
		Endpoint:    c.Chat.Endpoint,
		Model:       c.Chat.Model,
		Temperature: *c.Chat.Temperature,
		APIKey:      c.Chat.APIKey,
	}
}

func (b BasicConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

func (b BasicConfig) ProbeTimeout() time.Duration {
	return time.Duration(b.ProbeTimeoutSeconds) * time.Second
}

func (b BasicConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLMinutes) * time.Minute
}

func (b BasicConfig) ReapInterval() time.Duration {
	return time.Duration(b.ReapIntervalMinutes) * time.Minute
}

func (w WorkerConfig) IdleTimeout() time.Duration {
	return time.Duration(w.WorkerIdleSeconds) * time.Second
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}
