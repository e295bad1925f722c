// Package config handles application configuration from a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultConfigFile is read when CONFIG_FILE is not set and the file exists.
const DefaultConfigFile = "config.yaml"

// Reddit holds the credentials of the reddit script application.
type Reddit struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserAgent    string
}

// Config holds the application configuration.
type Config struct {
	DiscordToken         string
	DatabaseURL          string
	LogLevel             string
	LogFile              string
	LogMaxSizeMB         int
	LogMaxBackups        int
	DefaultPrefixes      []string
	DeveloperIDs         []string
	AvatarURL            string
	Reddit               Reddit
	NotificationsEnabled bool
	IndexTTL             time.Duration
	PollInterval         time.Duration
	ModChannels          map[string]string
	DashboardAddr        string
	DashboardToken       string
	AdminWebhookURL      string
}

var keys = []string{
	"discord_token",
	"database_url",
	"log_level",
	"log_file",
	"log_max_size_mb",
	"log_max_backups",
	"default_prefixes",
	"developer_ids",
	"avatar_url",
	"reddit.client_id",
	"reddit.client_secret",
	"reddit.refresh_token",
	"reddit.user_agent",
	"notifications.enabled",
	"index_ttl",
	"poll_interval",
	"mqmm.channels",
	"dashboard.addr",
	"dashboard.token",
	"admin_webhook_url",
}

// Load reads .env, then the optional config file, then environment variables.
// Environment variables use the upper-cased key with dots replaced by underscores,
// e.g. REDDIT_CLIENT_ID for reddit.client_id.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("database_url", "./data/bot.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("default_prefixes", []string{"rpan!", "r!"})
	v.SetDefault("reddit.user_agent", "rpan_bot/1.0 (discord notifications)")
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("index_ttl", 30*time.Second)
	v.SetDefault("poll_interval", 15*time.Second)
	v.SetDefault("dashboard.addr", ":8080")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if err := readFile(v); err != nil {
		return nil, err
	}

	token := v.GetString("discord_token")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}

	channels, err := stringMap(v.Get("mqmm.channels"))
	if err != nil {
		return nil, fmt.Errorf("invalid mqmm.channels: %w", err)
	}

	cfg := &Config{
		DiscordToken:    token,
		DatabaseURL:     v.GetString("database_url"),
		LogLevel:        v.GetString("log_level"),
		LogFile:         v.GetString("log_file"),
		LogMaxSizeMB:    v.GetInt("log_max_size_mb"),
		LogMaxBackups:   v.GetInt("log_max_backups"),
		DefaultPrefixes: stringList(v.Get("default_prefixes")),
		DeveloperIDs:    stringList(v.Get("developer_ids")),
		AvatarURL:       v.GetString("avatar_url"),
		Reddit: Reddit{
			ClientID:     v.GetString("reddit.client_id"),
			ClientSecret: v.GetString("reddit.client_secret"),
			RefreshToken: v.GetString("reddit.refresh_token"),
			UserAgent:    v.GetString("reddit.user_agent"),
		},
		NotificationsEnabled: v.GetBool("notifications.enabled"),
		IndexTTL:             v.GetDuration("index_ttl"),
		PollInterval:         v.GetDuration("poll_interval"),
		ModChannels:          channels,
		DashboardAddr:        v.GetString("dashboard.addr"),
		DashboardToken:       v.GetString("dashboard.token"),
		AdminWebhookURL:      v.GetString("admin_webhook_url"),
	}
	if len(cfg.DefaultPrefixes) == 0 {
		return nil, fmt.Errorf("default_prefixes must not be empty")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive")
	}
	return cfg, nil
}

func readFile(v *viper.Viper) error {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			return nil
		}
		path = DefaultConfigFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// stringList accepts a YAML list or a comma separated environment value.
func stringList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stringMap accepts a YAML mapping or "key=value,key=value" from the environment.
// Keys are lowercased subreddit names.
func stringMap(raw any) (map[string]string, error) {
	out := map[string]string{}
	switch val := raw.(type) {
	case nil:
	case string:
		for _, pair := range stringList(val) {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("malformed pair %q", pair)
			}
			out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	case map[string]any:
		for k, v := range val {
			out[strings.ToLower(k)] = fmt.Sprint(v)
		}
	case map[string]string:
		for k, v := range val {
			out[strings.ToLower(k)] = v
		}
	default:
		return nil, fmt.Errorf("unsupported type %T", raw)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// IsDeveloper checks whether a Discord user id belongs to a bot developer.
func (c *Config) IsDeveloper(userID string) bool {
	return slices.Contains(c.DeveloperIDs, userID)
}

