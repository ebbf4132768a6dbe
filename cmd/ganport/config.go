package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the ganport configuration file (~/.config/ganport/config.yaml).
type Config struct {
	// Backend is the selector default. The --backend flag overrides it per call.
	Backend   string `yaml:"backend"`
	PluginDir string `yaml:"plugin_dir"`
	CacheDir  string `yaml:"cache_dir"`
	ModelsDir string `yaml:"models_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

// fileConfig is loaded once by the root Before hook.
var fileConfig Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ganport", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	cfg, _ := loadConfigFile(configPath())
	return cfg
}

func loadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyBackendConfig fills the backend, checkpoint and models flags from
// the config file when the matching flag was not given.
func applyBackendConfig(c *cli.Command, cfg Config) {
	if cfg.PluginDir != "" && !c.IsSet("plugin-dir") {
		pluginDir = cfg.PluginDir
	}
	if cfg.CacheDir != "" && !c.IsSet("cache-dir") {
		cacheDir = cfg.CacheDir
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-dir") {
		modelsDir = cfg.ModelsDir
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyBackendConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
