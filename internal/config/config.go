package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "nudge.db"
	DefaultLogName        = "nudge.log"
	EnvConfigPath         = "NUDGE_CONFIG"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Keymap struct {
	Quit        string `toml:"quit"`
	Add         string `toml:"add"`
	Up          string `toml:"up"`
	Down        string `toml:"down"`
	Toggle      string `toml:"toggle"`
	Delete      string `toml:"delete"`
	Detail      string `toml:"detail"`
	Confirm     string `toml:"confirm"`
	Cancel      string `toml:"cancel"`
	Edit        string `toml:"edit"`
	Search      string `toml:"search"`
	Dismiss     string `toml:"dismiss"`
	SortDue     string `toml:"sort_due"`
	SortCreated string `toml:"sort_created"`
}

type Reminders struct {
	Backend      string `toml:"backend"`
	PollInterval string `toml:"poll_interval"`
	MaxAttempts  int    `toml:"max_attempts"`
	PostgresURL  string `toml:"postgres_url"`
}

// Poll parses PollInterval. Load has already validated it.
func (r Reminders) Poll() time.Duration {
	d, err := time.ParseDuration(r.PollInterval)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type Notifications struct {
	Enabled bool `toml:"enabled"`
	Bell    bool `toml:"bell"`
}

type Config struct {
	DBPath        string        `toml:"db_path"`
	DefaultSort   string        `toml:"default_sort"`
	LogPath       string        `toml:"log_path"`
	LogLevel      string        `toml:"log_level"`
	Reminders     Reminders     `toml:"reminders"`
	Notifications Notifications `toml:"notifications"`
	Keys          Keymap        `toml:"keys"`
}

// ResolveConfigPath picks $NUDGE_CONFIG, then the user config dir, then the
// working directory.
func ResolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(dir, "nudge", DefaultConfigFileName)
}

// LoadOrCreate reads the config at path, writing the defaults first when the
// file does not exist yet. Relative paths inside are resolved against the
// config file's directory.
func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		return resolvePaths(path, cfg), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBName
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return resolvePaths(path, cfg), nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.DefaultSort) {
	case "", "deadline", "created":
	default:
		return fmt.Errorf("default_sort: unknown value %q", c.DefaultSort)
	}
	switch c.Reminders.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if strings.TrimSpace(c.Reminders.PostgresURL) == "" {
			return errors.New("reminders.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("reminders.backend: unknown value %q", c.Reminders.Backend)
	}
	if d, err := time.ParseDuration(c.Reminders.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("reminders.poll_interval: invalid duration %q", c.Reminders.PollInterval)
	}
	return nil
}

func resolvePaths(configPath string, cfg Config) Config {
	dir := filepath.Dir(configPath)
	if cfg.DBPath != "" && !filepath.IsAbs(cfg.DBPath) && !strings.HasPrefix(cfg.DBPath, "file:") {
		cfg.DBPath = filepath.Join(dir, cfg.DBPath)
	}
	if cfg.LogPath != "" && !filepath.IsAbs(cfg.LogPath) {
		cfg.LogPath = filepath.Join(dir, cfg.LogPath)
	}
	return cfg
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultConfig() Config {
	return Config{
		DBPath:      DefaultDBName,
		DefaultSort: "deadline",
		LogPath:     DefaultLogName,
		LogLevel:    "info",
		Reminders: Reminders{
			Backend:      BackendSQLite,
			PollInterval: "15s",
			MaxAttempts:  3,
		},
		Notifications: Notifications{
			Enabled: true,
			Bell:    true,
		},
		Keys: Keymap{
			Quit:        "q",
			Add:         "a",
			Up:          "k",
			Down:        "j",
			Toggle:      " ",
			Delete:      "d",
			Detail:      "enter",
			Confirm:     "enter",
			Cancel:      "esc",
			Edit:        "e",
			Search:      "/",
			Dismiss:     "x",
			SortDue:     "D",
			SortCreated: "C",
		},
	}
}
