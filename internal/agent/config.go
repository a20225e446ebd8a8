package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Defaults for the persisted agent configuration.
const (
	DefaultConfigPath   = "/etc/shebang-remote/config.json"
	DefaultIDPath       = "/etc/shebang-remote/agent_uuid"
	DefaultPollInterval = 300
)

// Config is the agent's persisted configuration, written once at registration
// and read on every run-loop start.
type Config struct {
	ServerURL    string
	AgentID      string
	AgentName    string
	PollInterval int
}

// LoadConfig reads the persisted configuration. There is no run mode without
// a prior successful registration: a missing file or missing server_url or
// agent_id is fatal to the caller.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("poll_interval", DefaultPollInterval)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read agent config %s: %w", path, err)
	}

	cfg := &Config{
		ServerURL:    v.GetString("server_url"),
		AgentID:      v.GetString("agent_id"),
		AgentName:    v.GetString("agent_name"),
		PollInterval: v.GetInt("poll_interval"),
	}
	if cfg.ServerURL == "" || cfg.AgentID == "" {
		return nil, errors.New("agent config missing server_url or agent_id, run register first")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return cfg, nil
}

// SaveConfig persists the configuration as JSON, creating the parent
// directory if needed.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.Set("server_url", cfg.ServerURL)
	v.Set("agent_id", cfg.AgentID)
	v.Set("agent_name", cfg.AgentName)
	v.Set("poll_interval", cfg.PollInterval)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write agent config %s: %w", path, err)
	}
	return nil
}
