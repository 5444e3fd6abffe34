package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/utils/errutil"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
	"github.com/secmon-lab/asclepius/pkg/utils/retry"
)

const DefaultTimeout = 30 * time.Second

// Client embeds text with a primary provider and falls back to a secondary one.
// Every returned vector has exactly Dimension elements.
type Client struct {
	primary   Provider
	secondary Provider
	dimension int
	timeout   time.Duration
}

var _ interfaces.Embedder = &Client{}

type Option func(*Client)

// WithSecondary sets the fallback provider
func WithSecondary(p Provider) Option {
	return func(c *Client) {
		c.secondary = p
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithDimension overrides the expected vector length
func WithDimension(d int) Option {
	return func(c *Client) {
		c.dimension = d
	}
}

func NewClient(primary Provider, opts ...Option) *Client {
	c := &Client{
		primary:   primary,
		dimension: model.EmbeddingDimension,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimension returns the expected vector length
func (c *Client) Dimension() int {
	return c.dimension
}

// Validate reports a configuration error when the secondary provider declares
// a native dimension different from the store's.
func (c *Client) Validate() error {
	if c.primary == nil && c.secondary == nil {
		return goerr.Wrap(ErrConfiguration, "no embedding provider configured")
	}
	if c.secondary != nil {
		if d := c.secondary.Dimension(); d != 0 && d != c.dimension {
			return goerr.Wrap(newProviderError(c.secondary.Name(), ErrConfiguration, nil),
				"secondary embedding provider dimension mismatch",
				goerr.V("provider", c.secondary.Name()),
				goerr.V("provider_dimension", d),
				goerr.V("expected_dimension", c.dimension))
		}
	}
	return nil
}

// Embed returns the embedding of text computed as caller.
//
// The primary provider is tried first. Unreachable, timed out and wrong-length
// results fall back to the secondary provider. An authentication failure does
// not fall back because the caller's own credential was rejected. A secondary
// provider that cannot produce vectors of the expected length is a
// configuration error and is never retried.
func (c *Client) Embed(ctx context.Context, caller model.Caller, text string) ([]float32, error) {
	var primaryErr error
	if c.primary != nil {
		vec, err := c.attempt(ctx, c.primary, caller, text)
		if err == nil {
			return vec, nil
		}
		primaryErr = err

		if errors.Is(err, ErrAuthenticationFailed) || c.secondary == nil {
			return nil, c.fail(primaryErr)
		}

		logging.From(ctx).Warn("primary embedding provider failed, falling back",
			"primary", c.primary.Name(),
			"secondary", c.secondary.Name(),
			"error", err.Error())
	}

	if c.secondary == nil {
		return nil, goerr.Wrap(errors.Join(ErrEmbeddingFailure, ErrConfiguration), "no embedding provider configured")
	}

	if err := c.Validate(); err != nil {
		_ = errutil.Handle(ctx, err, "embedding configuration error")
		return nil, c.fail(primaryErr, err)
	}

	vec, err := c.attempt(ctx, c.secondary, caller, text)
	if err != nil {
		if errors.Is(err, ErrInvalidDimension) {
			cfgErr := goerr.Wrap(newProviderError(c.secondary.Name(), ErrConfiguration, err),
				"secondary embedding provider returned wrong dimension",
				goerr.V("expected_dimension", c.dimension))
			_ = errutil.Handle(ctx, cfgErr, "embedding configuration error")
			return nil, c.fail(primaryErr, cfgErr)
		}
		return nil, c.fail(primaryErr, err)
	}
	return vec, nil
}

// attempt calls p with one retry on transient failure and checks the vector length
func (c *Client) attempt(ctx context.Context, p Provider, caller model.Caller, text string) ([]float32, error) {
	vec, err := retry.Once(ctx, "embed:"+p.Name(), func(ctx context.Context) ([]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return p.Embed(ctx, caller, text)
	})
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			err = newProviderError(p.Name(), ErrProviderUnreachable, err)
		}
		return nil, err
	}

	if len(vec) != c.dimension {
		return nil, goerr.Wrap(newProviderError(p.Name(), ErrInvalidDimension, nil),
			"embedding has wrong dimension",
			goerr.V("provider", p.Name()),
			goerr.V("got", len(vec)),
			goerr.V("expected", c.dimension))
	}
	return vec, nil
}

func (c *Client) fail(errs ...error) error {
	joined := []error{ErrEmbeddingFailure}
	for _, err := range errs {
		if err != nil {
			joined = append(joined, err)
		}
	}
	return goerr.Wrap(errors.Join(joined...), "failed to embed text")
}
