package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smallbiznis/fintrack/internal/authclient/orchestrator"
)

// Config is resolved from flags, FINTRACK_* environment variables and an optional
// config.yaml in the home directory, in that order of precedence.
type Config struct {
	ServerURL        string        `mapstructure:"server_url"`
	Home             string        `mapstructure:"home"`
	Origin           string        `mapstructure:"origin"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	Verbose          bool          `mapstructure:"verbose"`
	Color            string        `mapstructure:"color"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("FINTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("home", defaultHome())
	v.SetDefault("origin", "")
	v.SetDefault("liveness_interval", orchestrator.DefaultLivenessInterval)
	v.SetDefault("verbose", false)
	v.SetDefault("color", "auto")
	return v
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".fintrack"
	}
	return filepath.Join(dir, ".fintrack")
}

func loadConfig(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("home"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.ServerURL == "" {
		return Config{}, errors.New("server_url is required")
	}
	if cfg.LivenessInterval <= 0 {
		return Config{}, fmt.Errorf("liveness_interval must be positive, got %s", cfg.LivenessInterval)
	}
	if _, err := parseColorMode(cfg.Color); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
