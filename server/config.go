package server

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration for the realtime server.
type Config interface {
	GetName() string
	GetLogger() *LoggerConfig
	GetSocket() *SocketConfig
	GetDatabase() *DatabaseConfig
	GetPresence() *PresenceConfig
	GetSession() *SessionConfig

	Validate() error
}

func NewConfig() *config {
	return &config{
		Name:     "trofify-rt",
		Logger:   NewLoggerConfig(),
		Socket:   NewSocketConfig(),
		Database: NewDatabaseConfig(),
		Presence: NewPresenceConfig(),
		Session:  NewSessionConfig(),
	}
}

// LoadConfig reads YAML configuration from path over the defaults. An empty
// path returns the defaults unchanged.
func LoadConfig(path string) (*config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("could not parse config file %q: %w", path, err)
	}
	return c, nil
}

type config struct {
	Name     string          `yaml:"name" json:"name" usage:"Server node name. Default 'trofify-rt'."`
	Logger   *LoggerConfig   `yaml:"logger" json:"logger"`
	Socket   *SocketConfig   `yaml:"socket" json:"socket"`
	Database *DatabaseConfig `yaml:"database" json:"database"`
	Presence *PresenceConfig `yaml:"presence" json:"presence"`
	Session  *SessionConfig  `yaml:"session" json:"session"`
}

func (c *config) GetName() string { return c.Name }

func (c *config) GetLogger() *LoggerConfig { return c.Logger }

func (c *config) GetSocket() *SocketConfig { return c.Socket }

func (c *config) GetDatabase() *DatabaseConfig { return c.Database }

func (c *config) GetPresence() *PresenceConfig { return c.Presence }

func (c *config) GetSession() *SessionConfig { return c.Session }

func (c *config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Session.EncryptionKey == "" {
		return fmt.Errorf("session.encryption_key must be set")
	}
	return nil
}

type LoggerConfig struct {
	Level      string `yaml:"level" json:"level" validate:"oneof=debug info warn error" usage:"Minimum log level. Default 'info'."`
	Format     string `yaml:"format" json:"format" validate:"oneof=json console" usage:"Log output format, 'json' or 'console'. Default 'json'."`
	Stdout     bool   `yaml:"stdout" json:"stdout" usage:"Write logs to stdout. Default true."`
	File       string `yaml:"file" json:"file" usage:"Optional log file path. Rotated by size."`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" usage:"Max size in MB of the log file before rotation. Default 100."`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" usage:"Max days to retain old log files. Default 0 (no limit)."`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" usage:"Max number of rotated log files to retain. Default 5."`
}

func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      "info",
		Format:     "json",
		Stdout:     true,
		MaxSizeMB:  100,
		MaxBackups: 5,
	}
}

type SocketConfig struct {
	Address              string `yaml:"address" json:"address" usage:"Listen address. Default listen on all interfaces."`
	Port                 int    `yaml:"port" json:"port" validate:"gte=1,lte=65535" usage:"Listen port. Default 7350."`
	MaxMessageSizeBytes  int64  `yaml:"max_message_size_bytes" json:"max_message_size_bytes" validate:"gt=0" usage:"Maximum inbound socket frame size in bytes. Default 4096."`
	ReadBufferSizeBytes  int    `yaml:"read_buffer_size_bytes" json:"read_buffer_size_bytes" validate:"gt=0" usage:"Websocket read buffer size. Default 4096."`
	WriteBufferSizeBytes int    `yaml:"write_buffer_size_bytes" json:"write_buffer_size_bytes" validate:"gt=0" usage:"Websocket write buffer size. Default 4096."`
	PingPeriodMs         int    `yaml:"ping_period_ms" json:"ping_period_ms" validate:"gt=0" usage:"Interval between pings to an idle client. Default 15000."`
	PongWaitMs           int    `yaml:"pong_wait_ms" json:"pong_wait_ms" validate:"gt=0" usage:"How long to wait for a pong before closing the connection. Default 25000."`
	WriteWaitMs          int    `yaml:"write_wait_ms" json:"write_wait_ms" validate:"gt=0" usage:"Write deadline for each outbound frame. Default 5000."`
	OutgoingQueueSize    int    `yaml:"outgoing_queue_size" json:"outgoing_queue_size" validate:"gt=0" usage:"Per-session outbound queue length before the connection is dropped. Default 64."`
	PingBackoffThreshold int    `yaml:"ping_backoff_threshold" json:"ping_backoff_threshold" validate:"gt=0" usage:"Inbound frames between ping timer resets. Default 20."`
	EventRateLimit       int    `yaml:"event_rate_limit" json:"event_rate_limit" validate:"gt=0" usage:"Sustained inbound events per second per session. Default 50."`
	EventRateBurst       int    `yaml:"event_rate_burst" json:"event_rate_burst" validate:"gt=0" usage:"Inbound event burst allowance per session. Default 100."`
}

func NewSocketConfig() *SocketConfig {
	return &SocketConfig{
		Port:                 7350,
		MaxMessageSizeBytes:  4096,
		ReadBufferSizeBytes:  4096,
		WriteBufferSizeBytes: 4096,
		PingPeriodMs:         15000,
		PongWaitMs:           25000,
		WriteWaitMs:          5000,
		OutgoingQueueSize:    64,
		PingBackoffThreshold: 20,
		EventRateLimit:       50,
		EventRateBurst:       100,
	}
}

type DatabaseConfig struct {
	Address           string `yaml:"address" json:"address" usage:"Postgres connection string. Default local trofify database."`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms" json:"conn_max_lifetime_ms" usage:"Time in milliseconds to reuse a connection before closing it. 0 means forever."`
	MaxOpenConns      int    `yaml:"max_open_conns" json:"max_open_conns" validate:"gt=0" usage:"Maximum open database connections. Default 20."`
	MaxIdleConns      int    `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gt=0" usage:"Maximum idle database connections. Default 20."`
}

func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Address:      "postgres://postgres@localhost:5432/trofify?sslmode=disable",
		MaxOpenConns: 20,
		MaxIdleConns: 20,
	}
}

type PresenceConfig struct {
	Store         string `yaml:"store" json:"store" validate:"oneof=local redis" usage:"Presence store backend, 'local' for a single instance or 'redis' for multiple. Default 'local'."`
	RedisAddress  string `yaml:"redis_address" json:"redis_address" usage:"Redis server address (host:port). Required when store is 'redis'."`
	RedisPassword string `yaml:"redis_password" json:"redis_password" usage:"Redis server password. Optional."`
	RedisDB       int    `yaml:"redis_db" json:"redis_db" usage:"Redis database number. Default 0."`
	KeyPrefix     string `yaml:"key_prefix" json:"key_prefix" usage:"Prefix for presence keys in redis. Default 'trofify'."`
	EntryTTLSec   int    `yaml:"entry_ttl_sec" json:"entry_ttl_sec" validate:"gt=0" usage:"TTL in seconds for redis presence entries, refreshed while the session lives. Default 86400."`
}

func NewPresenceConfig() *PresenceConfig {
	return &PresenceConfig{
		Store:        "local",
		RedisAddress: "localhost:6379",
		KeyPrefix:    "trofify",
		EntryTTLSec:  86400,
	}
}

type SessionConfig struct {
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key" usage:"HMAC key used to verify session tokens presented on socket connect."`
}

func NewSessionConfig() *SessionConfig {
	return &SessionConfig{}
}
