// Package config loads server configuration from an optional YAML file with
// environment-variable overrides. Environment always wins so deployments can
// tweak a single knob without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Game     GameConfig     `yaml:"game"`
	EventBus EventBusConfig `yaml:"event_bus"`
}

// HTTPConfig holds the listener and browser-facing settings.
type HTTPConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	CookieSecret   string   `yaml:"cookie_secret"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// GameConfig holds the round and liveness timing knobs.
type GameConfig struct {
	PhraseFile    string        `yaml:"phrase_file"`
	RevealDelay   time.Duration `yaml:"reveal_delay"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// EventBusConfig holds the optional NATS event mirror settings. An empty URL
// disables the mirror entirely.
type EventBusConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Load reads the YAML file at path when it exists, then applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           "3001",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
			CookieSecret:   "typeswift_default_secret",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "typeswift",
			SSLMode:  "disable",
		},
		Game: GameConfig{
			PhraseFile:    "phrases.yaml",
			RevealDelay:   3 * time.Second,
			IdleTimeout:   60 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		EventBus: EventBusConfig{
			Stream:        "TYPING_EVENTS",
			SubjectPrefix: "typing.events",
		},
	}
}

func (c *Config) applyEnv() {
	c.HTTP.Port = getEnv("PORT", c.HTTP.Port)
	c.HTTP.CookieSecret = getEnv("COOKIE_SECRET", c.HTTP.CookieSecret)
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		c.HTTP.AllowedOrigins = splitAndTrim(origins)
	}

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Game.PhraseFile = getEnv("PHRASE_FILE", c.Game.PhraseFile)

	c.EventBus.URL = getEnv("EVENT_BUS_URL", c.EventBus.URL)
	c.EventBus.Stream = getEnv("EVENT_BUS_STREAM", c.EventBus.Stream)
	c.EventBus.SubjectPrefix = getEnv("EVENT_BUS_SUBJECT_PREFIX", c.EventBus.SubjectPrefix)
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
