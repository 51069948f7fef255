// config.go holds .agentplan config types and resolution (load, merge with flags).
package agentplancli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// localConfig holds optional values from .agentplan/config.yaml (flags override).
type localConfig struct {
	DB      string `yaml:"db"`
	Ollama  string `yaml:"ollama"`
	Model   string `yaml:"model"`
	Planner string `yaml:"planner"` // ollama | static
	Actor   string `yaml:"actor"`
	Policy  string `yaml:"policy"`
	Tracing *bool  `yaml:"tracing"`
}

// loadLocalConfig tries ./.agentplan/config.yaml then ~/.agentplan/config.yaml.
// Returns (config, pathToConfigFile, nil). If neither file exists, returns (empty, "", nil).
func loadLocalConfig() (localConfig, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return localConfig{}, "", err
	}
	try := []string{
		filepath.Join(cwd, ".agentplan", "config.yaml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		try = append(try, filepath.Join(home, ".agentplan", "config.yaml"))
	}
	for _, p := range try {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return localConfig{}, "", err
		}
		var cfg localConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return localConfig{}, "", fmt.Errorf("%s: %w", p, err)
		}
		return cfg, p, nil
	}
	return localConfig{}, "", nil
}

// effectiveSettings is the merged view of config file and flags.
type effectiveSettings struct {
	DB         string
	Ollama     string
	Model      string
	Planner    string
	Actor      string
	PolicyPath string
	Tracing    bool
	ConfigDir  string
}

// resolveSettings merges .agentplan/config.yaml with root flags; flags win
// when explicitly set.
func resolveSettings(flags flagReader) (effectiveSettings, error) {
	cfg, configPath, err := loadLocalConfig()
	if err != nil {
		return effectiveSettings{}, fmt.Errorf("failed to load config: %w", err)
	}

	var configDir string
	if configPath != "" {
		configDir = filepath.Dir(configPath)
	} else {
		cwd, _ := os.Getwd()
		configDir = filepath.Join(cwd, ".agentplan")
	}

	s := effectiveSettings{ConfigDir: configDir}

	s.DB, _ = flags.GetString("db")
	if s.DB == "" && !flags.Changed("db") && cfg.DB != "" {
		s.DB = cfg.DB
	}
	if s.DB == "" {
		s.DB = filepath.Join(configDir, "local.db")
	}

	s.Ollama, _ = flags.GetString("ollama")
	if s.Ollama == defaultOllama && !flags.Changed("ollama") && cfg.Ollama != "" {
		s.Ollama = cfg.Ollama
	}

	s.Model, _ = flags.GetString("model")
	if s.Model == defaultModel && !flags.Changed("model") && cfg.Model != "" {
		s.Model = cfg.Model
	}

	s.Planner, _ = flags.GetString("planner")
	if s.Planner == "" && !flags.Changed("planner") && cfg.Planner != "" {
		s.Planner = strings.ToLower(strings.TrimSpace(cfg.Planner))
	}

	s.Actor, _ = flags.GetString("actor")
	if s.Actor == defaultActor && !flags.Changed("actor") && cfg.Actor != "" {
		s.Actor = cfg.Actor
	}

	s.PolicyPath, _ = flags.GetString("policy")
	if s.PolicyPath == "" && !flags.Changed("policy") {
		if cfg.Policy != "" {
			s.PolicyPath = cfg.Policy
		} else {
			wellKnown := filepath.Join(configDir, "policy.yaml")
			if _, err := os.Stat(wellKnown); err == nil {
				s.PolicyPath = wellKnown
			}
		}
	}

	s.Tracing, _ = flags.GetBool("trace")
	if !s.Tracing && !flags.Changed("trace") && cfg.Tracing != nil {
		s.Tracing = *cfg.Tracing
	}

	return s, nil
}

// flagReader is the subset of pflag.FlagSet the resolver needs.
type flagReader interface {
	GetString(name string) (string, error)
	GetBool(name string) (bool, error)
	Changed(name string) bool
}
