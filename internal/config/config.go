// Package config loads engine configuration from a YAML file with
// environment-variable overrides. All fields have working defaults so the
// engine runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Workspace string `yaml:"workspace"`
	DBPath    string `yaml:"db_path"`

	LLM         LLMConfig     `yaml:"llm"`
	Router      RouterConfig  `yaml:"router"`
	Trainer     TrainerConfig `yaml:"trainer"`
	Logging     LogConfig     `yaml:"logging"`
	StrategyDir string        `yaml:"strategy_dir"`
}

// LLMConfig configures the Anthropic-backed client.
type LLMConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RouterConfig holds the review thresholds and the per-run audit budget.
type RouterConfig struct {
	AutoAccept float64 `yaml:"auto_accept"`
	Audit      float64 `yaml:"audit"`
	AutoReject float64 `yaml:"auto_reject"`
	LLMBudget  int     `yaml:"llm_budget"`
}

// TrainerConfig configures classifier training and persistence.
type TrainerConfig struct {
	ModelPath  string  `yaml:"model_path"`
	TestSplit  float64 `yaml:"test_split"`
	RandomSeed int64   `yaml:"random_seed"`
	UseForest  bool    `yaml:"use_forest"`
	NumTrees   int     `yaml:"num_trees"`
	MaxDepth   int     `yaml:"max_depth"`
}

// LogConfig controls the categorized file logger.
type LogConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// Default returns a configuration with all defaults applied, rooted at the
// given workspace.
func Default(workspace string) *Config {
	if workspace == "" {
		workspace = "."
	}
	return &Config{
		Workspace:   workspace,
		DBPath:      filepath.Join(workspace, ".labindex", "labindex.db"),
		StrategyDir: filepath.Join(workspace, ".labindex", "strategies"),
		LLM: LLMConfig{
			Model:   "claude-sonnet-4-20250514",
			Timeout: 60 * time.Second,
		},
		Router: RouterConfig{
			AutoAccept: 0.9,
			Audit:      0.5,
			AutoReject: 0.2,
			LLMBudget:  50,
		},
		Trainer: TrainerConfig{
			ModelPath:  filepath.Join(workspace, ".labindex", "link_model.json"),
			TestSplit:  0.2,
			RandomSeed: 42,
			NumTrees:   25,
			MaxDepth:   8,
		},
		Logging: LogConfig{Level: "info"},
	}
}

// Load reads the YAML config at path, applies defaults for unset fields,
// then applies environment overrides. A missing file is not an error; the
// defaults are returned.
func Load(path, workspace string) (*Config, error) {
	cfg := Default(workspace)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envString("LABINDEX_WORKSPACE", &c.Workspace)
	envString("LABINDEX_DB_PATH", &c.DBPath)
	envString("ANTHROPIC_API_KEY", &c.LLM.APIKey)
	envString("LABINDEX_LLM_MODEL", &c.LLM.Model)
	envFloat("LABINDEX_AUTO_ACCEPT", &c.Router.AutoAccept)
	envFloat("LABINDEX_AUDIT_THRESHOLD", &c.Router.Audit)
	envFloat("LABINDEX_AUTO_REJECT", &c.Router.AutoReject)
	envInt("LABINDEX_LLM_BUDGET", &c.Router.LLMBudget)
	envString("LABINDEX_MODEL_PATH", &c.Trainer.ModelPath)
	envBool("LABINDEX_DEBUG", &c.Logging.DebugMode)
}

// Validate checks threshold ordering and other invariants.
func (c *Config) Validate() error {
	r := c.Router
	if !(r.AutoReject < r.Audit && r.Audit <= r.AutoAccept) {
		return fmt.Errorf("router thresholds must satisfy reject < audit <= accept, got %.2f / %.2f / %.2f",
			r.AutoReject, r.Audit, r.AutoAccept)
	}
	if r.LLMBudget < 0 {
		return fmt.Errorf("llm_budget must be >= 0, got %d", r.LLMBudget)
	}
	if c.Trainer.TestSplit <= 0 || c.Trainer.TestSplit >= 1 {
		return fmt.Errorf("test_split must be in (0,1), got %.2f", c.Trainer.TestSplit)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
