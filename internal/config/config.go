// Package config provides YAML-based configuration loading for QueryDesk.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level QueryDesk configuration, loaded from config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	LLM        LLMConfig        `yaml:"llm"`
	Vector     VectorConfig     `yaml:"vector"`
	Auth       AuthConfig       `yaml:"auth"`
	Relay      RelayConfig      `yaml:"relay"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port    int `yaml:"port"`
	Workers int `yaml:"workers"`
}

// DatabaseConfig holds connection settings for the MySQL backend that both
// the permission directory and query execution run against.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DSN returns the go-sql-driver DSN for the configured database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// CheckpointConfig controls conversation-state persistence.
type CheckpointConfig struct {
	Path        string `yaml:"path"`         // SQLite file; empty means in-memory only
	TTLHours    int    `yaml:"ttl_hours"`    // threads idle longer than this are purged
	CleanupCron string `yaml:"cleanup_cron"` // 5-field cron expression
}

// LLMConfig holds settings for the chat-completions endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// VectorConfig holds settings for the embedding endpoint and the vector
// search service.
type VectorConfig struct {
	EmbedBaseURL        string  `yaml:"embed_base_url"`
	EmbedAPIKey         string  `yaml:"embed_api_key"`
	EmbedModel          string  `yaml:"embed_model"`
	SearchBaseURL       string  `yaml:"search_base_url"`
	SearchAPIKey        string  `yaml:"search_api_key"`
	SearchDatabase      string  `yaml:"search_database"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
}

// AuthConfig controls SQL permission enforcement.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RelayConfig holds chat platform credentials. A platform with no token is
// simply not connected.
type RelayConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds bot credentials.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values. Secrets fall back to
// environment variables so the YAML file can stay out of them entirely.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 3
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Checkpoint.TTLHours == 0 {
		c.Checkpoint.TTLHours = 72
	}
	if c.Checkpoint.CleanupCron == "" {
		c.Checkpoint.CleanupCron = "0 3 * * *"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("QUERYDESK_LLM_API_KEY")
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.Vector.EmbedBaseURL == "" {
		c.Vector.EmbedBaseURL = c.LLM.BaseURL
	}
	if c.Vector.EmbedAPIKey == "" {
		c.Vector.EmbedAPIKey = c.LLM.APIKey
	}
	if c.Vector.SimilarityThreshold == 0 {
		c.Vector.SimilarityThreshold = 0.9
	}
	if c.Vector.TopK == 0 {
		c.Vector.TopK = 5
	}
	if c.Relay.Slack.AppToken == "" {
		c.Relay.Slack.AppToken = os.Getenv("QUERYDESK_SLACK_APP_TOKEN")
	}
	if c.Relay.Slack.BotToken == "" {
		c.Relay.Slack.BotToken = os.Getenv("QUERYDESK_SLACK_BOT_TOKEN")
	}
	if c.Relay.Discord.Token == "" {
		c.Relay.Discord.Token = os.Getenv("QUERYDESK_DISCORD_TOKEN")
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.Name == "" {
		errs = append(errs, "database.name is required")
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, "llm.base_url is required")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm.model is required")
	}
	if c.Vector.EmbedModel == "" {
		errs = append(errs, "vector.embed_model is required")
	}
	if c.Vector.SearchBaseURL == "" {
		errs = append(errs, "vector.search_base_url is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
