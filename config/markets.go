package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MarketOverlay is an optional secondary file that adds or retargets
// market tier assignments without editing the main configuration. A
// deployment typically keeps one overlay per environment.
type MarketOverlay struct {
	Markets []MarketConfig `yaml:"markets"`
}

const defaultOverlayPath = "config/markets.yml"

var overlayEnvPaths = map[string]string{
	environmentProduction: "config/markets.production.yml",
	environmentStaging:    "config/markets.staging.yml",
}

// ResolveOverlayPath picks the overlay file for the current environment.
func ResolveOverlayPath(path string) string {
	return resolveEnvSpecificPath(path, defaultOverlayPath, overlayEnvPaths)
}

// LoadMarketOverlay loads a market overlay from the given path.
func LoadMarketOverlay(path string) (*MarketOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read markets file: %w", err)
	}
	var overlay MarketOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse markets file: %w", err)
	}
	return &overlay, nil
}

// Merge folds the overlay into the base market list. Overlay entries
// replace base entries for the same market and append otherwise.
func (o *MarketOverlay) Merge(base []MarketConfig) []MarketConfig {
	merged := make([]MarketConfig, len(base))
	copy(merged, base)
	for _, m := range o.Markets {
		replaced := false
		for i := range merged {
			if merged[i].Index == m.Index && merged[i].Type == m.Type {
				merged[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, m)
		}
	}
	return merged
}
