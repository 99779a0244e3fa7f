package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	completionFn func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	calls        int
}

func (f *fakeProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.completionFn != nil {
		return f.completionFn(ctx, req)
	}
	return &ChatResponse{Model: "fake"}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func TestRateLimitedPassThrough(t *testing.T) {
	inner := &fakeProvider{}
	p := NewRateLimited(inner, 0, 0) // unlimited

	resp, err := p.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fake", resp.Model)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "fake", p.Name())
}

func TestRateLimitedCancelledContext(t *testing.T) {
	inner := &fakeProvider{}
	// 1 req/hour with burst 1: the second call must block, so a cancelled
	// context has to surface instead of reaching the inner provider.
	p := NewRateLimited(inner, 1.0/3600, 1)

	_, err := p.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Completion(ctx, &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
