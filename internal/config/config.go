package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. LOBBY_SERVER_PORT
const EnvPrefix = "LOBBY"

// Config is the full server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Lobby     LobbyConfig     `mapstructure:"lobby"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PlayerTTL    time.Duration `mapstructure:"player_ttl"`
}

type LobbyConfig struct {
	MaxRooms        int           `mapstructure:"max_rooms"`
	RoomCodeLength  int           `mapstructure:"room_code_length"`
	ChatLogLimit    int           `mapstructure:"chat_log_limit"`
	ChatMaxLength   int           `mapstructure:"chat_max_length"`
	LivenessWindow  time.Duration `mapstructure:"liveness_window"`
	StaleTimeout    time.Duration `mapstructure:"stale_timeout"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	ChatRate        float64       `mapstructure:"chat_rate"`
	ChatBurst       int           `mapstructure:"chat_burst"`
	SecretCost      int           `mapstructure:"secret_cost"`
	ListLimit       int           `mapstructure:"list_limit"`
}

type WebSocketConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.level", "info")

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.url", "redis://localhost:6379")
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.player_ttl", "2h")

	v.SetDefault("lobby.max_rooms", 500)
	v.SetDefault("lobby.room_code_length", 6)
	v.SetDefault("lobby.chat_log_limit", 100)
	v.SetDefault("lobby.chat_max_length", 200)
	v.SetDefault("lobby.liveness_window", "10s")
	v.SetDefault("lobby.stale_timeout", "30m")
	v.SetDefault("lobby.janitor_interval", "15s")
	v.SetDefault("lobby.chat_rate", 2)
	v.SetDefault("lobby.chat_burst", 5)
	v.SetDefault("lobby.secret_cost", 10)
	v.SetDefault("lobby.list_limit", 50)

	v.SetDefault("websocket.read_limit", 4096)
	v.SetDefault("websocket.ping_period", "30s")
	v.SetDefault("websocket.send_buffer", 64)
}

// Load reads configuration from defaults, an optional YAML file and
// LOBBY_* environment variables, in increasing order of precedence.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be memory or redis, got %q", c.Storage.Type))
	}
	if c.Lobby.RoomCodeLength < 4 {
		errs = append(errs, errors.New("lobby.room_code_length must be at least 4"))
	}
	if c.Lobby.JanitorInterval <= 0 {
		errs = append(errs, errors.New("lobby.janitor_interval must be positive"))
	}
	if c.Lobby.StaleTimeout <= c.Lobby.LivenessWindow {
		errs = append(errs, errors.New("lobby.stale_timeout must exceed lobby.liveness_window"))
	}
	if c.Lobby.ChatRate <= 0 || c.Lobby.ChatBurst <= 0 {
		errs = append(errs, errors.New("lobby.chat_rate and lobby.chat_burst must be positive"))
	}
	if c.WebSocket.PingPeriod <= 0 {
		errs = append(errs, errors.New("websocket.ping_period must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ParseLevel maps a level name onto a slog level
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
