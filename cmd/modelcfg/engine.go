package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/samcharles93/modelcfg/internal/api"
	"github.com/samcharles93/modelcfg/internal/engineconfig"
)

// providerConfig builds the descriptor provider settings from the global
// flags. The --engine value becomes the default engine.
func providerConfig() (api.ProviderConfig, error) {
	cfg := api.ProviderConfig{EnginesPath: enginesPath}
	if overridesPath != "" {
		o, err := engineconfig.LoadOverrides(overridesPath)
		if err != nil {
			return cfg, err
		}
		cfg.Overrides = &o
	}
	if enginePath == "" {
		return cfg, nil
	}

	engine := enginePath
	if _, err := os.Stat(engine); err == nil {
		if abs, err := filepath.Abs(engine); err == nil {
			engine = abs
		}
	}
	path, err := api.NewCachedDescriptorProvider(cfg).ResolveEnginePath(engine)
	if err != nil {
		return cfg, err
	}
	cfg.DefaultEnginePath = path
	return cfg, nil
}

func loadSnapshot(ctx context.Context) (*api.Snapshot, error) {
	cfg, err := providerConfig()
	if err != nil {
		return nil, err
	}
	return api.NewCachedDescriptorProvider(cfg).Snapshot(ctx, "")
}
