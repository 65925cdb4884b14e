package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Providers map[string]ProviderConfig `json:"providers"`
	Agent     AgentConfig               `json:"agent"`
	Device    DeviceConfig              `json:"device"`
	Memory    MemoryConfig              `json:"memory"`
	Policy    PolicyConfig              `json:"policy"`
}

type AppConfig struct {
	Name    string `json:"name"`
	LogPath string `json:"log_path"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Enabled bool   `json:"enabled"`
}

// AgentConfig carries the run budgets and prompt-shaping knobs.
// MaxStepsPerSubgoal bounds raw steps spent on one subgoal;
// MaxAttempts bounds how many failed steps a subgoal absorbs before it is
// marked failed. They are independent budgets on the same loop.
type AgentConfig struct {
	MaxSteps           int `json:"max_steps"`
	MaxStepsPerSubgoal int `json:"max_steps_per_subgoal"`
	MaxAttempts        int `json:"max_attempts"`
	StepDelayMs        int `json:"step_delay_ms"`
	HistoryWindow      int `json:"history_window"`
	SnapshotCharBudget int `json:"snapshot_char_budget"`
	OracleTimeoutS     int `json:"oracle_timeout_s"`
	ActionTimeoutS     int `json:"action_timeout_s"`
	EvaluateEvery      int `json:"evaluate_every"`
}

type DeviceConfig struct {
	Kind     string `json:"kind"`
	StartURL string `json:"start_url,omitempty"`
	Headless bool   `json:"headless"`
}

type MemoryConfig struct {
	Path        string `json:"path"`
	EvidenceDir string `json:"evidence_dir"`
}

type PolicyConfig struct {
	Path string `json:"path,omitempty"`
}

// Load reads a config file, applying defaults for any branch left unset.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied and no providers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "sherpa"
	}
	if c.App.LogPath == "" {
		c.App.LogPath = "logs/run.jsonl"
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 30
	}
	if c.Agent.MaxStepsPerSubgoal == 0 {
		c.Agent.MaxStepsPerSubgoal = 8
	}
	if c.Agent.MaxAttempts == 0 {
		c.Agent.MaxAttempts = 3
	}
	if c.Agent.StepDelayMs == 0 {
		c.Agent.StepDelayMs = 500
	}
	if c.Agent.HistoryWindow == 0 {
		c.Agent.HistoryWindow = 5
	}
	if c.Agent.SnapshotCharBudget == 0 {
		c.Agent.SnapshotCharBudget = 6000
	}
	if c.Agent.OracleTimeoutS == 0 {
		c.Agent.OracleTimeoutS = 60
	}
	if c.Agent.ActionTimeoutS == 0 {
		c.Agent.ActionTimeoutS = 30
	}
	if c.Device.Kind == "" {
		c.Device.Kind = "browser"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "sherpa.db"
	}
	if c.Memory.EvidenceDir == "" {
		c.Memory.EvidenceDir = "evidence"
	}
}

// GetDefaultProvider returns the first enabled provider.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}
