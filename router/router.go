package router

import (
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/hupe1980/kgassist/core"
)

// Rule routes origins matching Pattern to a tenant. Pattern is an exact host
// or a path.Match glob such as "*.kg-a.example.com". Provider names the
// tenant's default provider; empty means the snapshot default.
type Rule struct {
	Pattern      string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	TenantID     string `json:"tenant_id" yaml:"tenant_id" mapstructure:"tenant_id"`
	DataStoreRef string `json:"data_store_ref" yaml:"data_store_ref" mapstructure:"data_store_ref"`
	Provider     string `json:"provider,omitempty" yaml:"provider" mapstructure:"provider"`
}

// Router resolves origins. It is immutable after New.
type Router struct {
	rules    []Rule
	snapshot core.ProviderSnapshot
}

// New validates rules and builds a router over snapshot.
func New(rules []Rule, snapshot core.ProviderSnapshot) (*Router, error) {
	cp := make([]Rule, len(rules))
	for i, r := range rules {
		r.Pattern = strings.ToLower(strings.TrimSpace(r.Pattern))
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		if _, err := path.Match(r.Pattern, ""); err != nil {
			return nil, fmt.Errorf("rule %d: bad pattern %q: %w", i, r.Pattern, err)
		}
		if r.TenantID == "" {
			return nil, fmt.Errorf("rule %d: tenant_id is required", i)
		}
		if r.Provider != "" {
			if _, ok := snapshot.Lookup(r.Provider); !ok {
				return nil, fmt.Errorf("rule %d: unknown provider %q", i, r.Provider)
			}
		}
		cp[i] = r
	}
	return &Router{rules: cp, snapshot: snapshot}, nil
}

// Snapshot returns the provider snapshot the router was built with.
func (r *Router) Snapshot() core.ProviderSnapshot { return r.snapshot }

// Rules returns a copy of the routing rules.
func (r *Router) Rules() []Rule { return append([]Rule(nil), r.rules...) }

// Resolve maps origin to a routing context. It never fails: unknown, empty
// and loopback origins resolve to the local tenant.
func (r *Router) Resolve(origin string) core.RoutingContext {
	host := NormalizeOrigin(origin)
	if host != "" && !isLoopback(host) {
		for _, rule := range r.rules {
			if ok, _ := path.Match(rule.Pattern, host); ok {
				return core.RoutingContext{
					TenantID:        rule.TenantID,
					DataStoreRef:    rule.DataStoreRef,
					DefaultProvider: r.provider(rule.Provider),
				}
			}
		}
	}
	return core.RoutingContext{TenantID: core.LocalTenant, DefaultProvider: r.provider("")}
}

func (r *Router) provider(name string) core.ProviderConfig {
	if name != "" {
		if p, ok := r.snapshot.Lookup(name); ok {
			return p
		}
	}
	p, _ := r.snapshot.Default()
	return p
}

// NormalizeOrigin lower-cases origin and strips scheme, userinfo, port and
// path, leaving the host.
func NormalizeOrigin(origin string) string {
	s := strings.ToLower(strings.TrimSpace(origin))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "]"); end > 0 {
			return s[1:end]
		}
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.TrimSuffix(s, ".")
}

func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
