package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"foreman/internal/automation"
)

// manifest is the on-disk shape of the automation agent manifest.
type manifest struct {
	Agents []*automation.AgentConfig `yaml:"agents"`
}

// LoadAgentManifest reads automation agent definitions from a YAML file and
// fills in defaults. Every agent must carry an id and a name; duplicate ids
// are rejected.
func LoadAgentManifest(path string) ([]*automation.AgentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent manifest %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing agent manifest %s: %w", path, err)
	}

	seen := make(map[string]bool, len(m.Agents))
	for i, cfg := range m.Agents {
		if cfg == nil {
			return nil, fmt.Errorf("agent manifest %s: entry %d is empty", path, i)
		}
		if cfg.ID == "" {
			return nil, fmt.Errorf("agent manifest %s: entry %d has no id", path, i)
		}
		if cfg.Name == "" {
			return nil, fmt.Errorf("agent manifest %s: agent %s has no name", path, cfg.ID)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("agent manifest %s: duplicate agent id %s", path, cfg.ID)
		}
		seen[cfg.ID] = true
		applyAgentDefaults(cfg)
	}
	return m.Agents, nil
}

func applyAgentDefaults(cfg *automation.AgentConfig) {
	if cfg.Mode == "" {
		cfg.Mode = automation.ModeCreated
	}
	defaults := automation.DefaultConstraints()
	if cfg.Constraints.MaxTasksPerRun <= 0 {
		cfg.Constraints.MaxTasksPerRun = defaults.MaxTasksPerRun
	}
	if cfg.Constraints.MaxRetries <= 0 {
		cfg.Constraints.MaxRetries = defaults.MaxRetries
	}
	if len(cfg.Constraints.AllowedPriorities) == 0 {
		cfg.Constraints.AllowedPriorities = defaults.AllowedPriorities
	}
	if cfg.Constraints.ConfidenceThreshold <= 0 {
		cfg.Constraints.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
}
