package core

import (
	"slices"
	"time"
)

// LocalTenant is the tenant id used when an origin matches no rule.
const LocalTenant = "local"

// Capability is a kind of work a provider can do.
type Capability string

const (
	CapabilityText   Capability = "text"
	CapabilityVision Capability = "vision"
	CapabilitySpeech Capability = "speech"
	CapabilitySearch Capability = "search"
)

// ProviderConfig describes one configured AI provider.
type ProviderConfig struct {
	Name         string       `json:"name" yaml:"name" mapstructure:"name"`
	Kind         string       `json:"kind" yaml:"kind" mapstructure:"kind"`
	Model        string       `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL      string       `json:"base_url,omitempty" yaml:"base_url" mapstructure:"base_url"`
	APIKeyEnv    string       `json:"api_key_env,omitempty" yaml:"api_key_env" mapstructure:"api_key_env"`
	Temperature  float64      `json:"temperature,omitempty" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int64        `json:"max_tokens,omitempty" yaml:"max_tokens" mapstructure:"max_tokens"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities" mapstructure:"capabilities"`
}

// Supports reports whether the provider declares capability c. A provider
// without declared capabilities is treated as text-only.
func (p ProviderConfig) Supports(c Capability) bool {
	if len(p.Capabilities) == 0 {
		return c == CapabilityText
	}
	return slices.Contains(p.Capabilities, c)
}

// ProviderSnapshot is an immutable view of the provider configuration taken
// at one point in time. Refreshing configuration produces a new snapshot;
// existing snapshots never change.
type ProviderSnapshot struct {
	version     int64
	loadedAt    time.Time
	defaultName string
	providers   []ProviderConfig
}

// NewProviderSnapshot copies providers into a new snapshot.
func NewProviderSnapshot(version int64, defaultName string, providers []ProviderConfig) ProviderSnapshot {
	cp := make([]ProviderConfig, len(providers))
	for i, p := range providers {
		p.Capabilities = slices.Clone(p.Capabilities)
		cp[i] = p
	}
	return ProviderSnapshot{version: version, loadedAt: time.Now(), defaultName: defaultName, providers: cp}
}

// Version increases with every refresh.
func (s ProviderSnapshot) Version() int64 { return s.version }

// LoadedAt is the time the snapshot was built.
func (s ProviderSnapshot) LoadedAt() time.Time { return s.loadedAt }

// Providers returns a copy of the configured providers in declaration order.
func (s ProviderSnapshot) Providers() []ProviderConfig {
	return slices.Clone(s.providers)
}

// Lookup finds a provider by name.
func (s ProviderSnapshot) Lookup(name string) (ProviderConfig, bool) {
	for _, p := range s.providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Default returns the default provider, falling back to the first declared one.
func (s ProviderSnapshot) Default() (ProviderConfig, bool) {
	if p, ok := s.Lookup(s.defaultName); ok {
		return p, true
	}
	if len(s.providers) > 0 {
		return s.providers[0], true
	}
	return ProviderConfig{}, false
}

// WithCapability returns providers supporting c, preferred first.
func (s ProviderSnapshot) WithCapability(c Capability, preferred string) []ProviderConfig {
	out := make([]ProviderConfig, 0, len(s.providers))
	if p, ok := s.Lookup(preferred); ok && p.Supports(c) {
		out = append(out, p)
	}
	for _, p := range s.providers {
		if p.Name != preferred && p.Supports(c) {
			out = append(out, p)
		}
	}
	return out
}

// RoutingContext holds the per-request tenant resolution.
type RoutingContext struct {
	TenantID        string         `json:"tenant_id"`
	DataStoreRef    string         `json:"data_store_ref"`
	DefaultProvider ProviderConfig `json:"default_provider"`
}

// IsLocal reports whether the context is the local fallback.
func (r RoutingContext) IsLocal() bool { return r.TenantID == LocalTenant }
