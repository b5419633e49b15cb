// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type StorageConfig struct {
	// Driver is "sqlite", or "flat" to skip the structured store.
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
	// LocalStorage is the file backing flat and fast storage. Empty keeps
	// them in memory.
	LocalStorage string        `yaml:"local_storage"`
	QuotaBytes   int           `yaml:"quota_bytes"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

type ThemesConfig struct {
	// BaseURL resolves root-relative stylesheet paths the embedded assets
	// do not contain.
	BaseURL            string        `yaml:"base_url"`
	ManifestPath       string        `yaml:"manifest_path"`
	IndexURL           string        `yaml:"index_url"`
	IndexTTL           time.Duration `yaml:"index_ttl"`
	InitTimeout        time.Duration `yaml:"init_timeout"`
	SaveDebounce       time.Duration `yaml:"save_debounce"`
	TransitionDuration time.Duration `yaml:"transition_duration"`
	PrefetchDelay      time.Duration `yaml:"prefetch_delay"`
	PrefetchIDs        []string      `yaml:"prefetch_ids"`
	RefreshCron        string        `yaml:"refresh_cron"`
}

type FontsConfig struct {
	InitTimeout   time.Duration `yaml:"init_timeout"`
	SaveDebounce  time.Duration `yaml:"save_debounce"`
	BatchWindow   time.Duration `yaml:"batch_window"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	StylesheetURL string        `yaml:"stylesheet_url"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
	} `yaml:"app"`

	Storage StorageConfig `yaml:"storage"`
	Themes  ThemesConfig  `yaml:"themes"`
	Fonts   FontsConfig   `yaml:"fonts"`

	Features struct {
		EnableDebug bool `yaml:"enable_debug"`
	} `yaml:"features"`
}

// Default returns the configuration used for values a file leaves unset.
func Default() Config {
	var cfg Config
	cfg.App.Name = "themecore"
	cfg.App.Environment = "development"
	cfg.App.Port = 8080
	cfg.Storage = StorageConfig{
		Driver:      "sqlite",
		Filename:    "data/themecore.db",
		OpenTimeout: 5 * time.Second,
	}
	cfg.Themes = ThemesConfig{
		ManifestPath:       "/themes/registry.json",
		IndexTTL:           10 * time.Minute,
		InitTimeout:        10 * time.Second,
		SaveDebounce:       200 * time.Millisecond,
		TransitionDuration: 200 * time.Millisecond,
		PrefetchDelay:      2 * time.Second,
	}
	cfg.Fonts = FontsConfig{
		InitTimeout:   5 * time.Second,
		SaveDebounce:  100 * time.Millisecond,
		BatchWindow:   50 * time.Millisecond,
		BatchTimeout:  8 * time.Second,
		StylesheetURL: "https://fonts.googleapis.com/css2",
	}
	return cfg
}

// Load loads both .env and yaml configuration on top of Default.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnv overrides deployment specific values from the environment.
func (c *Config) applyEnv() error {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.App.Environment = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("APP_PORT must be a number: %w", err)
		}
		c.App.Port = port
	}
	if v := os.Getenv("THEMECORE_DB_PATH"); v != "" {
		c.Storage.Filename = v
	}
	if v := os.Getenv("THEMECORE_LOCAL_STORAGE"); v != "" {
		c.Storage.LocalStorage = v
	}
	if v := os.Getenv("THEMECORE_INDEX_URL"); v != "" {
		c.Themes.IndexURL = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app port must be between 1 and 65535")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Filename == "" {
			return fmt.Errorf("storage filename is required for sqlite")
		}
	case "flat":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("storage quota_bytes must not be negative")
	}

	if !strings.HasPrefix(c.Themes.ManifestPath, "/") && !isHTTPURL(c.Themes.ManifestPath) {
		return fmt.Errorf("themes manifest_path must be a root-relative path or an http(s) url")
	}
	if c.Themes.BaseURL != "" && !isHTTPURL(c.Themes.BaseURL) {
		return fmt.Errorf("themes base_url must be an http(s) url")
	}
	if c.Themes.IndexURL != "" && !isHTTPURL(c.Themes.IndexURL) {
		return fmt.Errorf("themes index_url must be an http(s) url")
	}
	if c.Themes.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.Themes.RefreshCron); err != nil {
			return fmt.Errorf("themes refresh_cron: %w", err)
		}
	}
	if !isHTTPURL(c.Fonts.StylesheetURL) {
		return fmt.Errorf("fonts stylesheet_url must be an http(s) url")
	}

	durations := map[string]time.Duration{
		"storage.open_timeout":       c.Storage.OpenTimeout,
		"themes.init_timeout":        c.Themes.InitTimeout,
		"themes.save_debounce":       c.Themes.SaveDebounce,
		"themes.transition_duration": c.Themes.TransitionDuration,
		"fonts.init_timeout":         c.Fonts.InitTimeout,
		"fonts.save_debounce":        c.Fonts.SaveDebounce,
		"fonts.batch_window":         c.Fonts.BatchWindow,
		"fonts.batch_timeout":        c.Fonts.BatchTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Themes.PrefetchDelay < 0 {
		return fmt.Errorf("themes.prefetch_delay must not be negative")
	}

	return nil
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
