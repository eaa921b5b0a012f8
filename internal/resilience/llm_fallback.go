package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/simi/pkg/provider/llm"
)

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallback is an llm.Provider that fails over across several backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewLLMFallback creates an LLMFallback. Providers are tried in the order
// given; add more with [LLMFallback.Add].
func NewLLMFallback(cfg FallbackConfig, providers ...llm.Provider) *LLMFallback {
	f := &LLMFallback{group: NewFallbackGroup[llm.Provider](cfg)}
	for _, p := range providers {
		f.Add(p)
	}
	return f
}

// Add appends p under its own name.
func (f *LLMFallback) Add(p llm.Provider) {
	f.group.Add(p.Name(), p)
}

// Complete implements llm.Provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return Execute(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}

// Name implements llm.Provider. It lists the chain, e.g. "gemini>openai".
func (f *LLMFallback) Name() string {
	return strings.Join(f.group.Names(), ">")
}

// Group exposes the underlying group for health reporting.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }
