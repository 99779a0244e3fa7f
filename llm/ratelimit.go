package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a token-bucket limiter so a tight agent
// loop cannot hammer the serving endpoint. Waiting respects the caller's
// context; a cancelled wait surfaces as the context error.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps provider with a limiter of rps requests per second and
// the given burst. rps <= 0 disables limiting.
func NewRateLimited(provider Provider, rps float64, burst int) *RateLimited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   provider,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (r *RateLimited) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Completion(ctx, req)
}

func (r *RateLimited) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return r.inner.HealthCheck(ctx)
}

func (r *RateLimited) Name() string { return r.inner.Name() }
