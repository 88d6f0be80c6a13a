// Package config loads cineshelf settings from defaults, an optional YAML
// file and CINESHELF_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CINESHELF"

type Config struct {
	DataPath string        `mapstructure:"data_path"`
	TMDB     TMDBConfig    `mapstructure:"tmdb"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	Loader   LoaderConfig  `mapstructure:"loader"`
	Refresh  RefreshConfig `mapstructure:"refresh"`
	Notify   NotifyConfig  `mapstructure:"notify"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

type TMDBConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	ImageBaseURL string `mapstructure:"image_base_url"`
}

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type LoaderConfig struct {
	Workers int `mapstructure:"workers"`
}

// RefreshConfig controls the scheduled favorites refresh.
type RefreshConfig struct {
	Schedule     string `mapstructure:"schedule"` // cron spec with seconds
	RunAtStartup bool   `mapstructure:"run_at_startup"`
}

// NotifyConfig holds the SMTP settings of the refresh digest. No digest is
// sent while Recipient is empty.
type NotifyConfig struct {
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Sender    string `mapstructure:"sender"`
	Recipient string `mapstructure:"recipient"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
	File   string `mapstructure:"file"`   // empty means stderr
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		DataPath: "./data",
		TMDB: TMDBConfig{
			BaseURL:      "https://api.themoviedb.org/3",
			ImageBaseURL: "https://image.tmdb.org/t/p/w185",
		},
		HTTP: HTTPConfig{
			Timeout:   15 * time.Second,
			UserAgent: "cineshelf/1.0",
		},
		Loader: LoaderConfig{
			Workers: 4,
		},
		Refresh: RefreshConfig{
			// 10am and 5pm every day
			Schedule: "0 0 10,17 * * *",
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_path", cfg.DataPath)
	v.SetDefault("tmdb.base_url", cfg.TMDB.BaseURL)
	v.SetDefault("tmdb.api_key", cfg.TMDB.APIKey)
	v.SetDefault("tmdb.image_base_url", cfg.TMDB.ImageBaseURL)
	v.SetDefault("http.timeout", cfg.HTTP.Timeout)
	v.SetDefault("http.user_agent", cfg.HTTP.UserAgent)
	v.SetDefault("loader.workers", cfg.Loader.Workers)
	v.SetDefault("refresh.schedule", cfg.Refresh.Schedule)
	v.SetDefault("refresh.run_at_startup", cfg.Refresh.RunAtStartup)
	v.SetDefault("notify.smtp_host", cfg.Notify.SMTPHost)
	v.SetDefault("notify.smtp_port", cfg.Notify.SMTPPort)
	v.SetDefault("notify.username", cfg.Notify.Username)
	v.SetDefault("notify.password", cfg.Notify.Password)
	v.SetDefault("notify.sender", cfg.Notify.Sender)
	v.SetDefault("notify.recipient", cfg.Notify.Recipient)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
}

// DefaultConfigDir is where config.yaml is looked for besides the working
// directory.
func DefaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cineshelf")
}

// Load reads the configuration. An explicit file must exist; otherwise a
// missing config.yaml is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir := DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// variable names used by earlier deployments
	v.BindEnv("data_path", EnvPrefix+"_DATA_PATH", "DATA_PATH")
	v.BindEnv("tmdb.api_key", EnvPrefix+"_TMDB_API_KEY", "TMDB_API_KEY")
	v.BindEnv("refresh.run_at_startup", EnvPrefix+"_REFRESH_RUN_AT_STARTUP", "RUN_AT_STARTUP")
	v.BindEnv("notify.smtp_host", EnvPrefix+"_NOTIFY_SMTP_HOST", "EMAIL_SMTP_HOST")
	v.BindEnv("notify.smtp_port", EnvPrefix+"_NOTIFY_SMTP_PORT", "EMAIL_SMTP_PORT")
	v.BindEnv("notify.password", EnvPrefix+"_NOTIFY_PASSWORD", "EMAIL_PASSWORD")
	v.BindEnv("notify.sender", EnvPrefix+"_NOTIFY_SENDER", "EMAIL_SENDER")
	v.BindEnv("notify.recipient", EnvPrefix+"_NOTIFY_RECIPIENT", "EMAIL_RECIPIENT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DataPath == "" {
		return errors.New("config: data_path must not be empty")
	}
	if c.Loader.Workers <= 0 {
		return fmt.Errorf("config: loader.workers must be positive, got %d", c.Loader.Workers)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("config: http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	if c.Notify.Recipient != "" {
		if c.Notify.SMTPHost == "" {
			return errors.New("config: notify.smtp_host is required when notify.recipient is set")
		}
		if c.Notify.SMTPPort <= 0 {
			return fmt.Errorf("config: notify.smtp_port must be positive, got %d", c.Notify.SMTPPort)
		}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
