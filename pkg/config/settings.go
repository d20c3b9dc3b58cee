package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"Backtest/internal/domain/models"
)

// PortfolioDefaults returns portfolio settings holding only default values.
func PortfolioDefaults() models.PortfolioSettings {
	var s models.PortfolioSettings
	_ = defaults.Set(&s)
	return s
}

// ResolvePortfolioSettings layers a partial override on top of base, fills
// derived fields and validates the result. Keys absent from override keep
// the base value; explicit zero values win.
func ResolvePortfolioSettings(base models.PortfolioSettings, override map[string]any) (models.PortfolioSettings, error) {
	out := base
	if len(override) > 0 {
		b, err := yaml.Marshal(override)
		if err != nil {
			return out, fmt.Errorf("encode settings override: %w", err)
		}
		if err := yaml.Unmarshal(b, &out); err != nil {
			return out, fmt.Errorf("decode settings override: %w", err)
		}
	}
	out = out.Resolve()
	if err := validate.Struct(out); err != nil {
		return out, fmt.Errorf("invalid portfolio settings: %w", err)
	}
	return out, nil
}
