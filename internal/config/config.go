package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/okcorral/roombroker/internal/rooms"
)

// Defaults for the broker surface. They mirror the values the game client was built against.
const (
	DefaultAddr              = ":8887"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultLogLevel          = "info"

	DefaultMaxClients   = 1000
	DefaultMaxInputSize = 1_000_000
	DefaultOrigin       = "localhost:3001"
	DefaultPingTimeout  = 30 * time.Second
	DefaultSendBuffer   = 64

	DefaultMaxPlayersByRoom = 10
	DefaultSyncMode         = "immediate"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	Verbose           bool          `mapstructure:"verbose" yaml:"verbose"`

	// JWT validation of the handshake. An empty secret accepts every connection.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	Broker Broker `mapstructure:"broker" yaml:"broker"`
	Rooms  Rooms  `mapstructure:"rooms" yaml:"rooms"`
}

// Broker groups connection-level limits.
type Broker struct {
	MaxClients   int           `mapstructure:"max_clients" yaml:"max_clients"`
	MaxInputSize int64         `mapstructure:"max_input_size" yaml:"max_input_size"`
	Origins      []string      `mapstructure:"origins" yaml:"origins"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	RateLimit    RateLimit     `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimit configures the per-connection token bucket. Zero disables it.
type RateLimit struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// Rooms groups room manager settings.
type Rooms struct {
	MaxPlayersByRoom    int    `mapstructure:"max_players_by_room" yaml:"max_players_by_room"`
	UsersCanCreateRoom  bool   `mapstructure:"users_can_create_room" yaml:"users_can_create_room"`
	UsersCanNameRoom    bool   `mapstructure:"users_can_name_room" yaml:"users_can_name_room"`
	AutoJoinCreatedRoom bool   `mapstructure:"auto_join_created_room" yaml:"auto_join_created_room"`
	AutoDeleteEmptyRoom bool   `mapstructure:"auto_delete_empty_room" yaml:"auto_delete_empty_room"`
	SyncMode            string `mapstructure:"sync_mode" yaml:"sync_mode"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              DefaultAddr,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		LogLevel:          DefaultLogLevel,
		Verbose:           true,
		Broker: Broker{
			MaxClients:   DefaultMaxClients,
			MaxInputSize: DefaultMaxInputSize,
			Origins:      []string{DefaultOrigin},
			PingTimeout:  DefaultPingTimeout,
			SendBuffer:   DefaultSendBuffer,
		},
		Rooms: Rooms{
			MaxPlayersByRoom:    DefaultMaxPlayersByRoom,
			UsersCanCreateRoom:  true,
			UsersCanNameRoom:    true,
			AutoJoinCreatedRoom: true,
			AutoDeleteEmptyRoom: true,
			SyncMode:            DefaultSyncMode,
		},
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate rejects values the broker cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	case c.Broker.MaxClients <= 0:
		return fmt.Errorf("%w: broker.max_clients must be positive", ErrInvalidConfig)
	case c.Broker.MaxInputSize <= 0:
		return fmt.Errorf("%w: broker.max_input_size must be positive", ErrInvalidConfig)
	case c.Broker.PingTimeout <= 0:
		return fmt.Errorf("%w: broker.ping_timeout must be positive", ErrInvalidConfig)
	case c.Broker.SendBuffer <= 0:
		return fmt.Errorf("%w: broker.send_buffer must be positive", ErrInvalidConfig)
	case c.Broker.RateLimit.MessagesPerSecond < 0 || c.Broker.RateLimit.Burst < 0:
		return fmt.Errorf("%w: broker.rate_limit cannot be negative", ErrInvalidConfig)
	case c.Rooms.MaxPlayersByRoom <= 0:
		return fmt.Errorf("%w: rooms.max_players_by_room must be positive", ErrInvalidConfig)
	}
	if _, err := rooms.ParseSyncMode(c.Rooms.SyncMode); err != nil {
		return fmt.Errorf("%w: rooms.sync_mode: %w", ErrInvalidConfig, err)
	}
	return nil
}
