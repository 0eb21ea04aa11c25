package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the client's persisted settings: where the relay lives and how
// to authenticate against it.
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`

	UseTLS             bool `yaml:"use_tls"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// GetConfigPath returns the path of the client config file.
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".screenrelay.yml"), nil
}

// LoadConfig reads the config file. A missing file is not an error; it
// yields a zero config for the caller to fill in.
func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the config file with owner-only permissions, since it
// holds credentials.
func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
