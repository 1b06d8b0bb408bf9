package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "GBACKUP"

type storeConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type driveConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UploadURL string `mapstructure:"upload_url"`
}

type cliConfig struct {
	CredentialsFile string      `mapstructure:"credentials_file"`
	WebClientID     string      `mapstructure:"web_client_id"`
	Scopes          []string    `mapstructure:"scopes"`
	LogLevel        string      `mapstructure:"log_level"`
	LogFormat       string      `mapstructure:"log_format"`
	Store           storeConfig `mapstructure:"store"`
	Drive           driveConfig `mapstructure:"drive"`
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "gbackup")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("credentials_file", filepath.Join(configDir(), "credentials.json"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "")
	v.SetDefault("web_client_id", "")
	v.SetDefault("scopes", []string{})
	v.SetDefault("drive.base_url", "")
	v.SetDefault("drive.upload_url", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the config file (explicit path, or gbackup.* in the
// config directory when present) and unmarshals everything into cliConfig.
func loadConfig(v *viper.Viper, path string) (*cliConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gbackup")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &cliConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath(cfg.Store.Driver)
	}
	return cfg, nil
}

func defaultStorePath(driver string) string {
	if driver == "sqlite" {
		return filepath.Join(configDir(), "state.db")
	}
	return filepath.Join(configDir(), "state.json")
}

func setupLogging(cfg *cliConfig) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	switch cfg.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return nil
}
