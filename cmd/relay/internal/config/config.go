// Package config loads the relay CLI configuration.
//
// The config file lives at ~/.relay/config.yaml by default:
//
//	addr: :8080
//	data_dir: ~/.relay/data
//	queue_size: 64
//	reconnect:
//	  attempts: 5
//	  backoff_ms: 500
//	model: gpt-4o-mini
//	openai_api_key: sk-...
//	gemini_api_key: ...
//
// A missing file yields the defaults; a malformed file is an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	// appDir is the dotdir under the user's home directory.
	appDir = ".relay"

	// configFile is the YAML file name inside appDir.
	configFile = "config.yaml"
)

// Reconnect configures the tail command's session retry loop.
type Reconnect struct {
	// Attempts is the number of reconnects after the initial session.
	Attempts int `yaml:"attempts"`
	// BackoffMS is the initial delay before a reconnect, in milliseconds.
	// The delay doubles after each failed attempt.
	BackoffMS int `yaml:"backoff_ms"`
}

// Backoff returns the initial reconnect delay as a duration.
func (r Reconnect) Backoff() time.Duration {
	return time.Duration(r.BackoffMS) * time.Millisecond
}

// Config holds the relay CLI configuration.
type Config struct {
	// Addr is the server listen address.
	Addr string `yaml:"addr"`
	// DataDir is the Badger database directory. Empty means in-memory.
	DataDir string `yaml:"data_dir"`
	// QueueSize bounds each session's fan-out queue.
	QueueSize int `yaml:"queue_size"`

	Reconnect Reconnect `yaml:"reconnect"`

	// Model selects the default generation backend for serve.
	// Empty means generations echo the prompt word by word.
	Model        string `yaml:"model"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Addr:      ":8080",
		QueueSize: 64,
		Reconnect: Reconnect{Attempts: 5, BackoffMS: 500},
	}
}

// Path returns the default config file path (~/.relay/config.yaml).
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, appDir, configFile), nil
}

// Load loads the configuration from the default location.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from a specific file. A missing file
// is not an error; defaults apply.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	return cfg, nil
}

// Save writes the configuration to a specific file, creating parent
// directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
