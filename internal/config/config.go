// Package config loads bot settings from .env, an optional YAML file and the
// process environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "streakkeeper.yaml"

type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Timezone string         `yaml:"timezone"`
	Store    StoreConfig    `yaml:"store"`
	Reminder ReminderConfig `yaml:"reminder"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DiscordConfig struct {
	Token             string   `yaml:"token"`
	CommandPrefix     string   `yaml:"command_prefix"`
	GuildID           string   `yaml:"guild_id"`
	ReminderChannelID string   `yaml:"reminder_channel_id"`
	LeaderboardAdmins []string `yaml:"leaderboard_admins"`
}

type StoreConfig struct {
	Backend         string `yaml:"backend"`
	FilePath        string `yaml:"file_path"`
	DatabaseURL     string `yaml:"database_url"`
	SQLitePath      string `yaml:"sqlite_path"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type ReminderConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	FCMTopic           string        `yaml:"fcm_topic"`
	FCMCredentialsFile string        `yaml:"fcm_credentials_file"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AdminClerkIDs  []string `yaml:"admin_clerk_ids"`
	ClerkSecretKey string   `yaml:"clerk_secret_key"`
	MetricsUser    string   `yaml:"metrics_user"`
	MetricsPass    string   `yaml:"metrics_pass"`
	PprofSecret    string   `yaml:"pprof_secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var validBackends = []string{"file", "sheets", "postgres", "sqlite"}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			CommandPrefix: "!",
		},
		Timezone: "Local",
		Store: StoreConfig{
			Backend:    "file",
			FilePath:   "data.json",
			SQLitePath: "streak.db",
		},
		Reminder: ReminderConfig{
			Enabled:  true,
			Interval: time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":3333",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (missing file means defaults) and applies environment
// overrides. A .env in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, key string) {
		if v := os.Getenv(key); strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}

	setString(&c.Discord.Token, "DISCORD_TOKEN")
	setString(&c.Discord.CommandPrefix, "COMMAND_PREFIX")
	setString(&c.Discord.GuildID, "STREAK_GUILD_ID")
	setString(&c.Discord.ReminderChannelID, "REMINDER_CHANNEL_ID")
	setList(&c.Discord.LeaderboardAdmins, "LEADERBOARD_ADMINS")

	setString(&c.Timezone, "STREAK_TIMEZONE")

	setString(&c.Store.Backend, "STORE_BACKEND")
	setString(&c.Store.FilePath, "DATA_FILE")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")
	setString(&c.Store.SQLitePath, "SQLITE_PATH")
	setString(&c.Store.SpreadsheetID, "SPREADSHEET_ID")
	setString(&c.Store.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	setString(&c.Reminder.FCMTopic, "FCM_TOPIC")

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.Contains(port, ":") {
			port = ":" + port
		}
		c.HTTP.Addr = port
	}
	setList(&c.HTTP.AdminClerkIDs, "ADMIN_CLERK_IDS")
	setString(&c.HTTP.ClerkSecretKey, "CLERK_SECRET_KEY")
	setString(&c.HTTP.MetricsUser, "METRICS_USER")
	setString(&c.HTTP.MetricsPass, "METRICS_PASS")
	setString(&c.HTTP.PprofSecret, "PPROF_SECRET")

	setString(&c.Logging.Level, "LOG_LEVEL")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the settings needed to run the bot.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return errors.New("discord token not configured (set DISCORD_TOKEN)")
	}
	if c.Discord.CommandPrefix == "" {
		return errors.New("command prefix must not be empty")
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Reminder.Enabled {
		if c.Discord.GuildID == "" || c.Discord.ReminderChannelID == "" {
			return errors.New("reminders need STREAK_GUILD_ID and REMINDER_CHANNEL_ID")
		}
		if c.Reminder.Interval <= 0 {
			return fmt.Errorf("invalid reminder interval: %s", c.Reminder.Interval)
		}
	}
	return nil
}

// ValidateStore checks only the storage settings, for commands that never
// connect to Discord.
func (c *Config) ValidateStore() error {
	valid := false
	for _, b := range validBackends {
		if c.Store.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, validBackends)
	}
	switch c.Store.Backend {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("postgres backend needs DATABASE_URL")
		}
	case "sheets":
		if c.Store.SpreadsheetID == "" {
			return errors.New("sheets backend needs SPREADSHEET_ID")
		}
	}
	return nil
}
