// Package config loads Pocket Relay's configuration from a YAML file,
// overlaid with PR_*-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a Pocket Relay process.
type Config struct {
	// External address handed out by the redirector.
	ExtHost string `yaml:"ext_host"`

	// Listener ports.
	MainPort       int `yaml:"main_port"`
	HTTPPort       int `yaml:"http_port"`
	RedirectorPort int `yaml:"redirector_port"`
	TunnelPort     int `yaml:"tunnel_port"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	Database DatabaseConfig `yaml:"database"`

	// Upstream retriever.
	Retriever       bool `yaml:"retriever"`
	OriginFetch     bool `yaml:"origin_fetch"`
	OriginFetchData bool `yaml:"origin_fetch_data"`

	// MenuMessage is rendered with {v} (version), {n} (player count),
	// {ip} (external host) and attached to the post-auth session info.
	MenuMessage string `yaml:"menu_message"`

	GawDailyDecay float64 `yaml:"gaw_daily_decay"`
	GawPromotions bool    `yaml:"gaw_promotions"`

	// MatchmakingTickSeconds is how often open tickets are re-evaluated.
	MatchmakingTickSeconds int `yaml:"matchmaking_tick_seconds"`
	// TicketLifetimeSeconds is how long a ticket lives before it expires.
	TicketLifetimeSeconds int `yaml:"ticket_lifetime_seconds"`
	// SessionIdleTimeoutSeconds closes a session with no packets for this long.
	SessionIdleTimeoutSeconds int `yaml:"session_idle_timeout_seconds"`
	// MaxSlotsPerGame is the configured constant slot count (nominally 4).
	MaxSlotsPerGame int `yaml:"max_slots_per_game"`
	// OutboundQueueSize bounds each session's outbound packet channel.
	OutboundQueueSize int `yaml:"outbound_queue_size"`

	// UpstreamHost is the real game server's redirector, host:port form.
	UpstreamHost string `yaml:"upstream_host"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Default returns Config with sensible defaults.
func Default() Config {
	return Config{
		ExtHost:                   "127.0.0.1",
		MainPort:                  14219,
		HTTPPort:                  80,
		RedirectorPort:            42127,
		TunnelPort:                9032,
		LogLevel:                  "info",
		Retriever:                 false,
		OriginFetch:               false,
		OriginFetchData:           false,
		MenuMessage:               "Pocket Relay v{v} - {n} players online",
		GawDailyDecay:             0,
		GawPromotions:             false,
		MatchmakingTickSeconds:    10,
		TicketLifetimeSeconds:     900,
		SessionIdleTimeoutSeconds: 300,
		MaxSlotsPerGame:           4,
		OutboundQueueSize:         256,
		UpstreamHost:              "gosredirector.ea.com:42127",
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "pocket_relay",
			Password: "pocket_relay",
			DBName:   "pocket_relay",
			SSLMode:  "disable",
		},
	}
}

// Load loads configuration from a YAML file, applies defaults for
// missing fields, and then overlays PR_*-prefixed environment
// variables. If path does not exist, defaults (plus env overlay) are
// returned. Invalid environment overrides fall back to the existing
// value except for database settings, which are fatal.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("applying environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays PR_*-prefixed environment variables onto cfg.
// Non-database values that fail to parse are left at their prior
// value; database values that fail to parse are returned as a fatal
// error, per spec.
func applyEnv(cfg *Config) error {
	if v, ok := lookupEnv("PR_EXT_HOST"); ok {
		cfg.ExtHost = v
	}
	if v, ok := envInt("PR_MAIN_PORT"); ok {
		cfg.MainPort = v
	}
	if v, ok := envInt("PR_HTTP_PORT"); ok {
		cfg.HTTPPort = v
	}
	if v, ok := envInt("PR_REDIRECTOR_PORT"); ok {
		cfg.RedirectorPort = v
	}
	if v, ok := envInt("PR_TUNNEL_PORT"); ok {
		cfg.TunnelPort = v
	}
	if v, ok := lookupEnv("PR_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := envBool("PR_RETRIEVER"); ok {
		cfg.Retriever = v
	}
	if v, ok := envBool("PR_ORIGIN_FETCH"); ok {
		cfg.OriginFetch = v
	}
	if v, ok := envBool("PR_ORIGIN_FETCH_DATA"); ok {
		cfg.OriginFetchData = v
	}
	if v, ok := lookupEnv("PR_MENU_MESSAGE"); ok {
		cfg.MenuMessage = v
	}
	if v, ok := envFloat("PR_GAW_DAILY_DECAY"); ok {
		cfg.GawDailyDecay = v
	}
	if v, ok := envBool("PR_GAW_PROMOTIONS"); ok {
		cfg.GawPromotions = v
	}

	// PR_DATABASE_FILE names a YAML file containing database
	// connection settings; when present it replaces Database wholesale
	// and any failure to read/parse it is fatal.
	if v, ok := lookupEnv("PR_DATABASE_FILE"); ok {
		data, err := os.ReadFile(v)
		if err != nil {
			return fmt.Errorf("reading PR_DATABASE_FILE %s: %w", v, err)
		}
		var db DatabaseConfig
		if err := yaml.Unmarshal(data, &db); err != nil {
			return fmt.Errorf("parsing PR_DATABASE_FILE %s: %w", v, err)
		}
		cfg.Database = db
	}

	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
