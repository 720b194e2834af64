package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
)

// ChainOptions configure a Chain.
type ChainOptions struct {
	Logger logging.Logger
	// OnFailure observes every provider failure, e.g. for metrics.
	OnFailure func(provider string, retryable bool)
}

// Chain tries providers in order. A retryable failure falls through to the
// next provider; a fatal failure or cancellation stops immediately. When
// every provider fails the chain returns a fatal ProviderError.
type Chain struct {
	providers []Provider
	opts      ChainOptions
}

var _ Provider = (*Chain)(nil)

// NewChain creates a chain. It panics without providers.
func NewChain(providers []Provider, optFns ...func(o *ChainOptions)) *Chain {
	if len(providers) == 0 {
		panic("model: chain needs at least one provider")
	}
	var opts ChainOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Chain{providers: append([]Provider(nil), providers...), opts: opts}
}

// Providers returns the chained providers in order.
func (c *Chain) Providers() []Provider { return append([]Provider(nil), c.providers...) }

// Classify implements Provider.
func (c *Chain) Classify(ctx context.Context, p Prompt) (ClassifyResult, error) {
	return try(ctx, c, "classify", func(pr Provider) (ClassifyResult, error) { return pr.Classify(ctx, p) })
}

// ProposeTools implements Provider.
func (c *Chain) ProposeTools(ctx context.Context, p Prompt) ([]core.ProposedCall, error) {
	return try(ctx, c, "propose_tools", func(pr Provider) ([]core.ProposedCall, error) { return pr.ProposeTools(ctx, p) })
}

// GenerateAnswer implements Provider.
func (c *Chain) GenerateAnswer(ctx context.Context, p Prompt) (string, error) {
	return try(ctx, c, "generate_answer", func(pr Provider) (string, error) { return pr.GenerateAnswer(ctx, p) })
}

// Info reports the first provider.
func (c *Chain) Info() Info { return c.providers[0].Info() }

func try[T any](ctx context.Context, c *Chain, op string, call func(Provider) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i, pr := range c.providers {
		out, err := call(pr)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return zero, err
		}
		name := pr.Info().Provider
		retryable := core.IsRetryableProvider(err)
		if c.opts.OnFailure != nil {
			c.opts.OnFailure(name, retryable)
		}
		if !retryable {
			var pe *core.ProviderError
			if errors.As(err, &pe) {
				return zero, err
			}
			return zero, &core.ProviderError{Provider: name, Retryable: false, Err: err}
		}
		c.opts.Logger.Warn("model.chain.fallback", "op", op, "provider", name, "position", i, "error", err)
		lastErr = err
	}
	return zero, &core.ProviderError{
		Provider:  "chain",
		Retryable: false,
		Err:       fmt.Errorf("all %d providers failed: %w", len(c.providers), lastErr),
	}
}
