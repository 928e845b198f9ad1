package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MailboxConfig selects and configures the mailbox provider.
type MailboxConfig struct {
	// Provider is "gmail" or "imap".
	Provider string `mapstructure:"provider" yaml:"provider"`

	// BotAddress is this assistant's own address; mail from it is skipped.
	BotAddress string `mapstructure:"bot_address" yaml:"bot_address"`

	// MaxResults caps how many unread messages one fetch returns.
	MaxResults int `mapstructure:"max_results" yaml:"max_results"`

	// RepliedLogPath is the JSON file tracking auto-replied message ids.
	RepliedLogPath string `mapstructure:"replied_log_path" yaml:"replied_log_path"`

	// IMAP/SMTP settings, used when Provider is "imap".
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`
	UseTLS   bool   `mapstructure:"use_tls" yaml:"use_tls"`
}

// AIConfig holds settings for the classifier integration.
type AIConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SlackConfig holds the notification channel settings. The bot token is
// resolved from the environment, not the config file.
type SlackConfig struct {
	ChannelID string `mapstructure:"channel_id" yaml:"channel_id"`
}

// SearchConfig holds the Programmable Search Engine id. The API key is
// resolved from the environment, not the config file.
type SearchConfig struct {
	EngineID string `mapstructure:"engine_id" yaml:"engine_id"`
}

// PipelineConfig controls the periodic tick.
type PipelineConfig struct {
	PollIntervalSec int  `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	PurgeMissing    bool `mapstructure:"purge_missing" yaml:"purge_missing"`
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Port             int `mapstructure:"port" yaml:"port"`
	FetchCooldownSec int `mapstructure:"fetch_cooldown_sec" yaml:"fetch_cooldown_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	DBPath   string         `mapstructure:"db_path" yaml:"db_path"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	AI       AIConfig       `mapstructure:"ai" yaml:"ai"`
	Slack    SlackConfig    `mapstructure:"slack" yaml:"slack"`
	Search   SearchConfig   `mapstructure:"search" yaml:"search"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inboxtriage/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inboxtriage", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DBPath: "inboxtriage.db",
		Mailbox: MailboxConfig{
			Provider:       "gmail",
			MaxResults:     25,
			RepliedLogPath: "replied_emails.json",
		},
		AI: AIConfig{
			Model:     "llama3-8b-8192",
			MaxTokens: 500,
		},
		Pipeline: PipelineConfig{
			PollIntervalSec: 120,
			PurgeMissing:    true,
		},
		HTTP: HTTPConfig{
			Port:             5000,
			FetchCooldownSec: 60,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", "inboxtriage.db")
	v.SetDefault("mailbox.provider", "gmail")
	v.SetDefault("mailbox.max_results", 25)
	v.SetDefault("mailbox.replied_log_path", "replied_emails.json")
	v.SetDefault("ai.model", "llama3-8b-8192")
	v.SetDefault("ai.max_tokens", 500)
	v.SetDefault("pipeline.poll_interval_sec", 120)
	v.SetDefault("pipeline.purge_missing", true)
	v.SetDefault("http.port", 5000)
	v.SetDefault("http.fetch_cooldown_sec", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
