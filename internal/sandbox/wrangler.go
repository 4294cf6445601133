package sandbox

import (
	"github.com/pelletier/go-toml/v2"
)

// WranglerAssets is the "[assets]" table of a wrangler config.
type WranglerAssets struct {
	Directory string `toml:"directory"`
	Binding   string `toml:"binding,omitempty"`
}

// WranglerConfig is a typed subset of the edge-worker deployment descriptor
// (spec.md §4.3, §6: "wrangler.nimbus.toml (authoritative)"). Marshaled with
// pelletier/go-toml/v2 rather than hand-built string concatenation, per
// SPEC_FULL.md §4.3.
type WranglerConfig struct {
	Name              string          `toml:"name"`
	Main              string          `toml:"main"`
	CompatibilityDate string          `toml:"compatibility_date"`
	Assets            *WranglerAssets `toml:"assets,omitempty"`
}

const wranglerCompatibilityDate = "2024-09-23"

// NewWranglerConfig builds the descriptor for a worker named workerName,
// entry point main, and an optional assets directory.
func NewWranglerConfig(workerName, main, assetsDir string) WranglerConfig {
	cfg := WranglerConfig{
		Name:              workerName,
		Main:              main,
		CompatibilityDate: wranglerCompatibilityDate,
	}
	if assetsDir != "" {
		cfg.Assets = &WranglerAssets{Directory: assetsDir, Binding: "ASSETS"}
	}
	return cfg
}

// Marshal renders the config as TOML bytes, trailing newline included.
func (c WranglerConfig) Marshal() ([]byte, error) {
	b, err := toml.Marshal(c)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	return b, nil
}
