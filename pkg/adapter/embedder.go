package adapter

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

// Embedder turns a signature text into a dense vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Limited wraps an Embedder with an optional request rate limit and
// per-call timeout.
type Limited struct {
	embedder Embedder
	limiter  *rate.Limiter
	timeout  time.Duration
}

type LimitOption func(*Limited)

// WithRate allows at most perSecond calls per second with the given burst.
// A non-positive perSecond disables rate limiting.
func WithRate(perSecond float64, burst int) LimitOption {
	return func(l *Limited) {
		if perSecond <= 0 {
			l.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout bounds each Embed call. Zero disables the timeout.
func WithTimeout(d time.Duration) LimitOption {
	return func(l *Limited) {
		l.timeout = d
	}
}

// Limit wraps embedder. Without options the wrapper is transparent.
func Limit(embedder Embedder, opts ...LimitOption) *Limited {
	l := &Limited{embedder: embedder}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, goerr.Wrap(err, "embedding rate limit wait aborted")
		}
	}

	return l.embedder.Embed(ctx, text)
}
