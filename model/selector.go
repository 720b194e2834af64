package model

import (
	"fmt"
	"sync"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
)

// Factory builds a provider from its configuration.
type Factory func(cfg core.ProviderConfig) (Provider, error)

// SelectorOptions configure a Selector.
type SelectorOptions struct {
	Logger    logging.Logger
	OnFailure func(provider string, retryable bool)
}

// Selector resolves providers for a capability from a configuration
// snapshot. Providers are built once per name for the latest snapshot
// version seen.
type Selector struct {
	mu        sync.Mutex
	factories map[string]Factory
	cache     map[string]Provider
	version   int64
	opts      SelectorOptions
}

// NewSelector creates a selector with the "mock" kind registered.
func NewSelector(optFns ...func(o *SelectorOptions)) *Selector {
	var opts SelectorOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	s := &Selector{factories: map[string]Factory{}, cache: map[string]Provider{}, opts: opts}
	s.Register("mock", func(cfg core.ProviderConfig) (Provider, error) { return NewMockProvider(cfg.Name), nil })
	return s
}

// Register installs the factory of a provider kind, replacing any previous one.
func (s *Selector) Register(kind string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[kind] = f
	for k := range s.cache {
		delete(s.cache, k)
	}
}

// Select returns the provider for capability c. The preferred provider comes
// first, other capable providers follow as fallbacks. Several candidates are
// combined into a Chain.
func (s *Selector) Select(snap core.ProviderSnapshot, preferred string, c core.Capability) (Provider, error) {
	candidates := snap.WithCapability(c, preferred)
	if len(candidates) == 0 {
		return nil, &core.ProviderError{Provider: preferred, Err: fmt.Errorf("no provider supports capability %q", c)}
	}

	providers := make([]Provider, 0, len(candidates))
	for _, cfg := range candidates {
		p, err := s.build(snap.Version(), cfg)
		if err != nil {
			s.opts.Logger.Warn("model.selector.build_failed", "provider", cfg.Name, "kind", cfg.Kind, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	switch len(providers) {
	case 0:
		return nil, &core.ProviderError{Provider: preferred, Err: fmt.Errorf("no usable provider for capability %q", c)}
	case 1:
		return providers[0], nil
	default:
		return NewChain(providers, func(o *ChainOptions) {
			o.Logger = s.opts.Logger
			o.OnFailure = s.opts.OnFailure
		}), nil
	}
}

func (s *Selector) build(version int64, cfg core.ProviderConfig) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version != s.version {
		s.cache = map[string]Provider{}
		s.version = version
	}
	key := cfg.Name
	if p, ok := s.cache[key]; ok {
		return p, nil
	}
	f, ok := s.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, err
	}
	s.cache[key] = p
	return p, nil
}
