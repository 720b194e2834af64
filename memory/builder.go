package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
)

// ErrBudgetTooSmall is returned together with the identity-only context when
// core identity alone exceeds the budget.
var ErrBudgetTooSmall = errors.New("memory budget smaller than core identity")

// DefaultLimits caps candidates fetched per dimension.
var DefaultLimits = map[core.Dimension]int{
	core.DimensionCoreIdentity:      20,
	core.DimensionRecentEvent:       10,
	core.DimensionKeyConcept:        10,
	core.DimensionProcedural:        5,
	core.DimensionResourceReference: 5,
	core.DimensionKnowledge:         5,
}

var sectionTitles = map[core.Dimension]string{
	core.DimensionCoreIdentity:      "Core identity",
	core.DimensionRecentEvent:       "Recent events",
	core.DimensionKeyConcept:        "Key concepts",
	core.DimensionProcedural:        "Procedures",
	core.DimensionResourceReference: "Resources",
	core.DimensionKnowledge:         "Knowledge",
}

// Options configure a ContextBuilder.
type Options struct {
	// Limits overrides DefaultLimits per dimension.
	Limits  map[core.Dimension]int
	Counter Counter
	Logger  logging.Logger
}

// ContextBuilder renders memory records into a bounded context string.
type ContextBuilder struct {
	store Store
	opts  Options
}

// NewContextBuilder creates a builder reading from store.
func NewContextBuilder(store Store, optFns ...func(o *Options)) *ContextBuilder {
	opts := Options{Limits: map[core.Dimension]int{}, Counter: CharCounter{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	limits := make(map[core.Dimension]int, len(DefaultLimits))
	for d, n := range DefaultLimits {
		limits[d] = n
	}
	for d, n := range opts.Limits {
		limits[d] = n
	}
	opts.Limits = limits
	if opts.Counter == nil {
		opts.Counter = CharCounter{}
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &ContextBuilder{store: store, opts: opts}
}

type section struct {
	dim   core.Dimension
	items []string
}

// Build assembles the memory context of ownerID measured against budget.
//
// Dimensions render in priority order. When the text is over budget, records
// are dropped from the lowest-priority dimension upward, lowest-ranked first.
// Core identity is never dropped; if it alone is over budget the
// identity-only context is returned with ErrBudgetTooSmall.
func (b *ContextBuilder) Build(ctx context.Context, ownerID string, budget int) (string, error) {
	if budget <= 0 {
		return "", fmt.Errorf("memory budget must be positive, got %d", budget)
	}

	sections := make([]section, 0, len(core.Dimensions))
	for _, dim := range core.Dimensions {
		records, err := b.store.Query(ctx, ownerID, dim, b.opts.Limits[dim])
		if err != nil {
			return "", fmt.Errorf("query %s memory: %w", dim, err)
		}
		SortByRank(records)
		if limit := b.opts.Limits[dim]; limit > 0 && len(records) > limit {
			records = records[:limit]
		}
		if len(records) == 0 {
			continue
		}
		items := make([]string, len(records))
		for i, rec := range records {
			items[i] = flatten(rec.Content)
		}
		sections = append(sections, section{dim: dim, items: items})
	}

	out := render(sections)
	trimmed := 0
	for b.opts.Counter.Count(out) > budget {
		if !dropLowest(&sections) {
			b.opts.Logger.Warn("memory.context.identity_over_budget", "owner_id", ownerID, "budget", budget, "length", b.opts.Counter.Count(out))
			return out, ErrBudgetTooSmall
		}
		trimmed++
		out = render(sections)
	}

	if trimmed > 0 {
		b.opts.Logger.Debug("memory.context.trimmed", "owner_id", ownerID, "dropped", trimmed, "budget", budget)
	}
	return out, nil
}

// dropLowest removes the lowest-ranked record of the lowest-priority
// non-identity section. It reports false when nothing can be dropped.
func dropLowest(sections *[]section) bool {
	s := *sections
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].dim == core.DimensionCoreIdentity {
			continue
		}
		s[i].items = s[i].items[:len(s[i].items)-1]
		if len(s[i].items) == 0 {
			s = append(s[:i], s[i+1:]...)
		}
		*sections = s
		return true
	}
	return false
}

func render(sections []section) string {
	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## ")
		sb.WriteString(sectionTitles[s.dim])
		sb.WriteString("\n")
		for _, item := range s.items {
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
