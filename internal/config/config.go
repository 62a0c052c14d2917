package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"conchat/internal/backend"
	"conchat/internal/database"
)

// Backend kinds
const (
	BackendMemory = "memory"
	BackendRelay  = "relay"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// RelayConfig holds settings for the websocket relay, both server and client side.
type RelayConfig struct {
	URL               string        `json:"url" yaml:"url"`
	Listen            string        `json:"listen" yaml:"listen"`
	MaxConnections    int           `json:"max_connections" yaml:"max_connections"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	PongTimeout       time.Duration `json:"pong_timeout" yaml:"pong_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout"`
	SendBuffer        int           `json:"send_buffer" yaml:"send_buffer"`
	EnableMetrics     bool          `json:"enable_metrics" yaml:"enable_metrics"`
}

// Config holds client and relay configuration
type Config struct {
	Backend string                `json:"backend" yaml:"backend"`
	Relay   RelayConfig           `json:"relay" yaml:"relay"`
	Mongo   database.MongoConfig  `json:"mongo" yaml:"mongo"`
	Redis   backend.RedisConfig   `json:"redis" yaml:"redis"`
	NATS    backend.NATSConfig    `json:"nats" yaml:"nats"`

	PublicRoomID       string        `json:"public_room_id" yaml:"public_room_id"`
	PublicRoomName     string        `json:"public_room_name" yaml:"public_room_name"`
	DefaultDisplayName string        `json:"default_display_name" yaml:"default_display_name"`
	Language           string        `json:"language" yaml:"language"`
	PagePath           string        `json:"page_path" yaml:"page_path"`
	OperationTimeout   time.Duration `json:"operation_timeout" yaml:"operation_timeout"`

	// Message log
	MessageRetention int `json:"message_retention" yaml:"message_retention"`

	// Security settings
	MaxMessageLength  int           `json:"max_message_length" yaml:"max_message_length"`
	MaxUsernameLength int           `json:"max_username_length" yaml:"max_username_length"`
	MaxRoomNameLength int           `json:"max_room_name_length" yaml:"max_room_name_length"`
	RateLimitMessages int           `json:"rate_limit_messages" yaml:"rate_limit_messages"`
	RateLimitWindow   time.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`
	EnableRateLimit   bool          `json:"enable_rate_limit" yaml:"enable_rate_limit"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendMemory,
		Relay: RelayConfig{
			URL:               "ws://localhost:9090/ws",
			Listen:            ":9090",
			MaxConnections:    1000,
			HeartbeatInterval: 30 * time.Second,
			PongTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			SendBuffer:        256,
			EnableMetrics:     true,
		},
		Mongo: *database.DefaultMongoConfig(),
		Redis: *backend.DefaultRedisConfig(),
		NATS:  *backend.DefaultNATSConfig(),

		PublicRoomID:       "public",
		PublicRoomName:     "public",
		DefaultDisplayName: "아무개",
		Language:           "js",
		OperationTimeout:   10 * time.Second,

		MessageRetention: 0,

		MaxMessageLength:  1000,
		MaxUsernameLength: 50,
		MaxRoomNameLength: 50,
		RateLimitMessages: 10,
		RateLimitWindow:   10 * time.Second,
		EnableRateLimit:   true,
	}
}

// Validate checks the values other packages rely on.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRelay, BackendMongo, BackendRedis, BackendNATS:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Language {
	case "js", "react":
	default:
		return fmt.Errorf("unknown language %q", c.Language)
	}
	if strings.TrimSpace(c.PublicRoomID) == "" {
		return fmt.Errorf("public_room_id must not be empty")
	}
	if c.MessageRetention < 0 {
		return fmt.Errorf("message_retention must not be negative")
	}
	if c.Relay.HeartbeatInterval <= 0 || c.Relay.PongTimeout <= 0 || c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay intervals must be positive")
	}
	if c.EnableRateLimit && (c.RateLimitMessages <= 0 || c.RateLimitWindow <= 0) {
		return fmt.Errorf("rate limit needs positive messages and window")
	}
	return nil
}

// Loader handles loading configuration from a file and the environment
type Loader struct {
	configPath string
	getenv     func(string) string
	mutex      sync.Mutex
}

// NewLoader creates a new configuration loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		getenv:     os.Getenv,
	}
}

// Path returns the config file path, which may be empty.
func (l *Loader) Path() string {
	return l.configPath
}

// Load loads configuration from file and environment variables
func (l *Loader) Load() (*Config, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	config := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(config); err != nil {
			return nil, err
		}
	}

	l.loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file
func (l *Loader) loadFromFile(config *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(l.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	glog.Infof("✅ Loaded configuration from %s", l.configPath)
	return nil
}

// loadFromEnv loads configuration from CONCHAT_* environment variables
func (l *Loader) loadFromEnv(config *Config) {
	str := func(name string, dst *string) {
		if v := l.getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := l.getenv(name); v != "" {
			if val, err := strconv.Atoi(v); err == nil {
				*dst = val
			}
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := l.getenv(name); v != "" {
			if val, err := time.ParseDuration(v); err == nil {
				*dst = val
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v := l.getenv(name); v != "" {
			*dst = v == "true"
		}
	}

	str("CONCHAT_BACKEND", &config.Backend)
	str("CONCHAT_RELAY_URL", &config.Relay.URL)
	str("CONCHAT_RELAY_LISTEN", &config.Relay.Listen)
	num("CONCHAT_RELAY_MAX_CONNECTIONS", &config.Relay.MaxConnections)
	dur("CONCHAT_RELAY_HEARTBEAT_INTERVAL", &config.Relay.HeartbeatInterval)
	flag("CONCHAT_RELAY_ENABLE_METRICS", &config.Relay.EnableMetrics)

	str("CONCHAT_MONGO_URI", &config.Mongo.URI)
	str("CONCHAT_MONGO_DATABASE", &config.Mongo.Database)
	str("CONCHAT_REDIS_ADDR", &config.Redis.Addr)
	str("CONCHAT_REDIS_PASSWORD", &config.Redis.Password)
	num("CONCHAT_REDIS_DB", &config.Redis.DB)
	str("CONCHAT_NATS_URL", &config.NATS.URL)
	str("CONCHAT_NATS_BUCKET", &config.NATS.Bucket)

	str("CONCHAT_PUBLIC_ROOM_ID", &config.PublicRoomID)
	str("CONCHAT_DEFAULT_DISPLAY_NAME", &config.DefaultDisplayName)
	str("CONCHAT_LANGUAGE", &config.Language)
	str("CONCHAT_PAGE", &config.PagePath)
	dur("CONCHAT_OPERATION_TIMEOUT", &config.OperationTimeout)
	num("CONCHAT_MESSAGE_RETENTION", &config.MessageRetention)

	num("CONCHAT_MAX_MESSAGE_LENGTH", &config.MaxMessageLength)
	num("CONCHAT_MAX_USERNAME_LENGTH", &config.MaxUsernameLength)
	num("CONCHAT_MAX_ROOM_NAME_LENGTH", &config.MaxRoomNameLength)
	num("CONCHAT_RATE_LIMIT_MESSAGES", &config.RateLimitMessages)
	dur("CONCHAT_RATE_LIMIT_WINDOW", &config.RateLimitWindow)
	flag("CONCHAT_ENABLE_RATE_LIMIT", &config.EnableRateLimit)
}
