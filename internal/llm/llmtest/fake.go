// Package llmtest provides a scripted LLM client for tests. Responses are
// consumed from a queue or produced by a handler, and every request is
// recorded for assertions.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/chartflow/chartflow/internal/llm"
)

// Fake implements llm.Client deterministically.
type Fake struct {
	mu sync.Mutex

	// Queue holds raw response contents consumed in order. When empty and
	// Handler is nil, calls fail.
	Queue []string

	// Handler, when set, produces the response for each request after the
	// queue is exhausted.
	Handler func(req *llm.Request) (string, error)

	// PerCallUsage is attributed to every call.
	PerCallUsage llm.Usage

	calls []llm.Request
}

// Calls returns a copy of every request seen so far.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of requests seen so far.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Fake) nextContent(req *llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	if len(f.Queue) > 0 {
		content := f.Queue[0]
		f.Queue = f.Queue[1:]
		f.mu.Unlock()
		return content, nil
	}
	handler := f.Handler
	f.mu.Unlock()
	if handler != nil {
		return handler(req)
	}
	return "", fmt.Errorf("llmtest: no scripted response for request (system %q)", truncate(req.System, 60))
}

// Complete implements llm.Client.
func (f *Fake) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	content, err := f.nextContent(req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content, Usage: f.PerCallUsage}, nil
}

// CompleteStructured implements llm.Client.
func (f *Fake) CompleteStructured(ctx context.Context, req *llm.Request, out any) (llm.Usage, error) {
	content, err := f.nextContent(req)
	if err != nil {
		return llm.Usage{}, err
	}
	if err := llm.DecodeStructured(content, out); err != nil {
		return f.PerCallUsage, err
	}
	return f.PerCallUsage, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
