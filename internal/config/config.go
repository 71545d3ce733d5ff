// Package config provides YAML-based configuration loading for Backchannel.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Backchannel configuration, loaded from
// backchannel.yaml.
type Config struct {
	Platform  string          `yaml:"platform"` // "discord" or "slack"
	Database  DatabaseConfig  `yaml:"database"`
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Digest    DigestConfig    `yaml:"digest"`
}

// DatabaseConfig holds connection settings for the relay database.
// The sqlite driver is the default; mysql is available for shared
// deployments.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	Path   string `yaml:"path"`   // sqlite database file
	Host   string `yaml:"host"`   // mysql host
	Port   int    `yaml:"port"`   // mysql port
	Name   string `yaml:"name"`   // mysql database name
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	AppID   string `yaml:"app_id"`
	GuildID string `yaml:"guild_id"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"` // xapp-... app-level token
	BotToken string `yaml:"bot_token"` // xoxb-... bot token
}

// DashboardConfig controls the optional read-only HTTP dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DigestConfig controls the scheduled open-room digest posted to the inbox.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // 5-field cron expression
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

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "backchannel.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 9 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "":
		errs = append(errs, "platform is required")
	case "discord":
		if c.Discord.Token == "" {
			errs = append(errs, "discord.token is required")
		}
		if c.Discord.AppID == "" {
			errs = append(errs, "discord.app_id is required")
		}
		if c.Discord.GuildID == "" {
			errs = append(errs, "discord.guild_id is required")
		}
	case "slack":
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}

	switch c.Database.Driver {
	case "sqlite":
		// path always has a default
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
