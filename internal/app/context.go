package app

import (
	"context"
	"errors"
	"fmt"

	"gigline/internal/config"
	"gigline/internal/repo"
)

// ResolveConfig picks the active marketplace config, seeding defaults if the
// workspace has none. It prefers the override, then the single stored config.
func ResolveConfig(ctx context.Context, marketOverride string, r repo.Repo) (*config.Config, error) {
	if marketOverride == "" {
		cfg, err := r.SingleMarketplaceConfig(ctx)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		marketOverride = "default"
	}
	cfg, err := r.GetMarketplaceConfig(ctx, marketOverride)
	if errors.Is(err, repo.ErrNotFound) {
		cfg = config.Default(marketOverride)
		if err := r.UpsertMarketplaceConfig(ctx, marketOverride, cfg); err != nil {
			return nil, fmt.Errorf("seed marketplace config: %w", err)
		}
		return cfg, nil
	}
	return cfg, err
}
