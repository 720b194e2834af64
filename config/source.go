package config

import (
	"context"

	"github.com/hupe1980/kgassist/router"
)

// ProviderSource re-reads the configuration file on every Load, so the
// refresh scheduler picks up edited providers and routing rules without a
// restart.
type ProviderSource struct {
	Path string
}

var _ router.ProviderSource = ProviderSource{}

// Load implements router.ProviderSource.
func (s ProviderSource) Load(ctx context.Context) (router.Source, error) {
	if err := ctx.Err(); err != nil {
		return router.Source{}, err
	}
	cfg, err := Load(s.Path)
	if err != nil {
		return router.Source{}, err
	}
	return cfg.Source()
}

// CatalogSource returns the source a router.Catalog should load from: the
// file Load read, re-read on every refresh, or c itself when it did not
// come from a file.
func (c *Config) CatalogSource() router.ProviderSource {
	if c.File != "" {
		return ProviderSource{Path: c.File}
	}
	return router.ProviderSourceFunc(func(ctx context.Context) (router.Source, error) {
		if err := ctx.Err(); err != nil {
			return router.Source{}, err
		}
		return c.Source()
	})
}

// Source returns the routing view of the configuration.
func (c *Config) Source() (router.Source, error) {
	rules, err := c.RoutingRules()
	if err != nil {
		return router.Source{}, err
	}
	return router.Source{Rules: rules, DefaultProvider: c.DefaultProvider, Providers: c.Providers}, nil
}
