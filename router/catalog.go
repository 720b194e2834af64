package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
)

// Source is one load of routing configuration.
type Source struct {
	Rules           []Rule
	DefaultProvider string
	Providers       []core.ProviderConfig
}

// ProviderSource loads the current routing configuration.
type ProviderSource interface {
	Load(ctx context.Context) (Source, error)
}

// ProviderSourceFunc adapts a function to ProviderSource.
type ProviderSourceFunc func(ctx context.Context) (Source, error)

// Load implements ProviderSource.
func (f ProviderSourceFunc) Load(ctx context.Context) (Source, error) { return f(ctx) }

// CatalogOptions configure a Catalog.
type CatalogOptions struct {
	Logger logging.Logger
}

// Catalog owns the current Router. Refresh builds a new snapshot and router
// and swaps them in; routers handed out earlier are unaffected.
type Catalog struct {
	source  ProviderSource
	current atomic.Pointer[Router]
	version atomic.Int64
	mu      sync.Mutex // serialises refreshes
	logger  logging.Logger
}

// NewCatalog creates a catalog and performs the initial load.
func NewCatalog(ctx context.Context, source ProviderSource, optFns ...func(o *CatalogOptions)) (*Catalog, error) {
	if source == nil {
		return nil, errors.New("router: provider source is required")
	}
	var opts CatalogOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	c := &Catalog{source: source, logger: logging.OrNoOp(opts.Logger)}
	if _, err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Current returns the active router. Its snapshot is the one turns started
// now must use.
func (c *Catalog) Current() *Router { return c.current.Load() }

// Resolve resolves origin against the active router and returns the
// snapshot it used.
func (c *Catalog) Resolve(origin string) (core.RoutingContext, core.ProviderSnapshot) {
	r := c.Current()
	return r.Resolve(origin), r.Snapshot()
}

// Refresh reloads configuration. On failure the previous router stays active.
func (c *Catalog) Refresh(ctx context.Context) (*Router, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, err := c.source.Load(ctx)
	if err != nil {
		c.logger.Warn("router.refresh.failed", "error", err)
		return nil, fmt.Errorf("load routing configuration: %w", err)
	}
	snap := core.NewProviderSnapshot(c.version.Load()+1, src.DefaultProvider, src.Providers)
	r, err := New(src.Rules, snap)
	if err != nil {
		c.logger.Warn("router.refresh.invalid", "error", err)
		return nil, err
	}
	c.version.Store(snap.Version())
	c.current.Store(r)
	c.logger.Info("router.refresh.done", "version", snap.Version(), "rules", len(src.Rules), "providers", len(src.Providers))
	return r, nil
}
