package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PricingFile is the on-disk price table.
type PricingFile struct {
	Prices           map[string]int64 `yaml:"prices"`
	AiRemovalPerPage int64            `yaml:"ai_removal_per_page"`
}

// LoadPricingFromPath loads a YAML price table.
func LoadPricingFromPath(path string) (*PricingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing config: %w", err)
	}

	var cfg PricingFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pricing config: %w", err)
	}

	for kind, price := range cfg.Prices {
		if price <= 0 {
			return nil, fmt.Errorf("pricing %s: price must be positive", kind)
		}
	}
	if cfg.AiRemovalPerPage < 0 {
		return nil, fmt.Errorf("pricing: ai_removal_per_page must not be negative")
	}

	return &cfg, nil
}
