// Package config provides application configuration management.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort string `json:"serverPort,omitempty"`
	// APIToken guards the operator endpoints (/transcript, POST /messages). Empty disables the check.
	APIToken string `json:"-"`

	// Model backend (OpenAI-compatible, LM Studio by default)
	APIBase   string `json:"apiBase,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	ModelName string `json:"modelName,omitempty"`
	// RequestTimeout bounds the wait for the backend's response headers, not
	// the length of a streamed reply.
	RequestTimeout time.Duration `json:"requestTimeout,omitempty"`
	ManageBackend  bool          `json:"manageBackend,omitempty"`
	LMSBinary      string        `json:"lmsBinary,omitempty"`
	UnloadOnExit   bool          `json:"unloadOnExit,omitempty"`

	// Turn orchestration
	MaxToolRounds int           `json:"maxToolRounds,omitempty"`
	StreamBuffer  int           `json:"streamBuffer,omitempty"`
	PollInterval  time.Duration `json:"pollInterval,omitempty"`

	// Broadcast hub
	SubscriberBuffer int    `json:"subscriberBuffer,omitempty"`
	ConnectedMessage string `json:"connectedMessage,omitempty"`

	// Persistence configuration (database tools)
	DataStoreDriver string `json:"dataStoreDriver,omitempty"`
	DataStoreDSN    string `json:"dataStoreDSN,omitempty"`

	// Redis / event mirror configuration
	RedisAddr        string `json:"redisAddr,omitempty"`
	RedisUsername    string `json:"redisUsername,omitempty"`
	RedisPassword    string `json:"-"`
	RedisDB          int    `json:"redisDB,omitempty"`
	RedisTLSEnabled  bool   `json:"redisTLSEnabled,omitempty"`
	RedisTLSInsecure bool   `json:"redisTLSInsecure,omitempty"`
	EventsChannel    string `json:"eventsChannel,omitempty"`

	// Logging
	LogLevel  string `json:"logLevel,omitempty"`
	LogFormat string `json:"logFormat,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ServerPort:       "8080",
		APIBase:          "http://localhost:1234/v1",
		APIKey:           "not-needed",
		ModelName:        "ibm/granite-3.1-8b",
		RequestTimeout:   5 * time.Minute,
		ManageBackend:    true,
		LMSBinary:        defaultLMSBinary(),
		MaxToolRounds:    5,
		StreamBuffer:     32,
		PollInterval:     10 * time.Millisecond,
		SubscriberBuffer: 100,
		ConnectedMessage: "Connected to chat relay",
		DataStoreDriver:  "sqlite",
		DataStoreDSN:     filepath.Join("state", "chat.db"),
		EventsChannel:    "chat-relay-events",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load loads configuration from the optional RELAY_CONFIG_FILE overlay and
// environment variables, in that order of precedence (env wins).
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the service depends on.
func (c *Config) Validate() error {
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be positive, got %d", c.MaxToolRounds)
	}
	if strings.TrimSpace(c.APIBase) == "" {
		return fmt.Errorf("LM_STUDIO_API_BASE is required")
	}
	switch c.DataStoreDriver {
	case "sqlite", "postgres", "none", "":
	default:
		return fmt.Errorf("unsupported datastore driver: %s", c.DataStoreDriver)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Durations are given as strings ("30s") in the file.
	var raw struct {
		Config
		RequestTimeout string `json:"requestTimeout,omitempty"`
		PollInterval   string `json:"pollInterval,omitempty"`
	}
	raw.Config = *c
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	merged := raw.Config
	merged.RequestTimeout = c.RequestTimeout
	merged.PollInterval = c.PollInterval
	if raw.RequestTimeout != "" {
		d, err := time.ParseDuration(raw.RequestTimeout)
		if err != nil {
			return fmt.Errorf("config file requestTimeout: %w", err)
		}
		merged.RequestTimeout = d
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("config file pollInterval: %w", err)
		}
		merged.PollInterval = d
	}
	*c = merged
	return nil
}

func (c *Config) applyEnv() {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.APIToken = getEnv("API_TOKEN", c.APIToken)
	c.APIBase = strings.TrimRight(getEnv("LM_STUDIO_API_BASE", c.APIBase), "/")
	c.APIKey = getEnv("LM_STUDIO_API_KEY", c.APIKey)
	c.ModelName = getEnv("LM_STUDIO_MODEL", c.ModelName)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.ManageBackend = getEnvBool("LM_STUDIO_MANAGE", c.ManageBackend)
	c.LMSBinary = getEnv("LMS_BINARY", c.LMSBinary)
	c.UnloadOnExit = getEnvBool("LM_STUDIO_UNLOAD_ON_EXIT", c.UnloadOnExit)
	c.MaxToolRounds = getEnvInt("MAX_TOOL_ROUNDS", c.MaxToolRounds)
	c.StreamBuffer = getEnvInt("STREAM_BUFFER", c.StreamBuffer)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.SubscriberBuffer = getEnvInt("SUBSCRIBER_BUFFER", c.SubscriberBuffer)
	c.DataStoreDriver = getEnv("DATASTORE_DRIVER", c.DataStoreDriver)
	c.DataStoreDSN = getEnv("DATASTORE_DSN", c.DataStoreDSN)
	if c.DataStoreDriver == "postgres" && os.Getenv("DATASTORE_DSN") == "" {
		c.DataStoreDSN = os.Getenv("POSTGRES_DSN")
	}
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisUsername = getEnv("REDIS_USERNAME", c.RedisUsername)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisTLSEnabled = getEnvBool("REDIS_TLS_ENABLED", c.RedisTLSEnabled)
	c.RedisTLSInsecure = getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", c.RedisTLSInsecure)
	c.EventsChannel = getEnv("EVENTS_CHANNEL", c.EventsChannel)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

func defaultLMSBinary() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lms"
	}
	return filepath.Join(home, ".lmstudio", "bin", "lms")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
