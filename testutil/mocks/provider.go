// Package mocks provides scripted test doubles for the llm boundary.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/codeact/llm"
	"github.com/BaSui01/codeact/types"
)

// Provider is a scripted llm.Provider: queue assistant replies (or errors) in
// order and inspect the recorded requests afterwards. Safe for concurrent use.
type Provider struct {
	// CompletionFunc, when set, overrides the scripted queue entirely.
	CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	name string

	mu       sync.Mutex
	script   []step
	requests []*llm.ChatRequest
}

type step struct {
	text string
	err  error
}

// NewProvider creates an empty scripted provider.
func NewProvider(name string) *Provider {
	if name == "" {
		name = "mock"
	}
	return &Provider{name: name}
}

// QueueResponse appends an assistant reply to the script.
func (p *Provider) QueueResponse(text string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, step{text: text})
	return p
}

// QueueError appends a transport failure to the script.
func (p *Provider) QueueError(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, step{err: err})
	return p
}

// Requests returns the completion requests seen so far, in order.
func (p *Provider) Requests() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount returns how many completion requests were made.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.CompletionFunc != nil {
		p.mu.Lock()
		p.requests = append(p.requests, req)
		p.mu.Unlock()
		return p.CompletionFunc(ctx, req)
	}

	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider: script exhausted after %d requests", len(p.requests))
	}
	next := p.script[0]
	p.script = p.script[1:]
	p.mu.Unlock()

	if next.err != nil {
		return nil, next.err
	}
	return &llm.ChatResponse{
		Provider: p.name,
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      types.NewAssistantMessage(next.text),
		}},
		CreatedAt: time.Now(),
	}, nil
}

func (p *Provider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *Provider) Name() string { return p.name }
