// Package llm provides a unified client over LLM providers with usage and
// cost accounting. Agents use CompleteStructured to obtain typed outputs;
// every response carries the tokens and dollars it cost so callers can
// attribute spend per turn and per experiment.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Errors surfaced by providers. Agents translate these into
// success=false results; they never escape to the orchestrator loop.
var (
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrBadJSON       = errors.New("llm: response is not valid JSON")
)

// Message is one turn of provider-neutral conversation input.
type Message struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Usage accounts tokens and cost for one or more calls.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates another usage record in place.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// Response is a completed (non-streaming) LLM reply.
type Response struct {
	Content string
	Usage   Usage
}

// Client is the single LLM capability the engine consumes. Implementations
// must be safe for concurrent use.
type Client interface {
	// Complete returns the model's text reply.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// CompleteStructured asks the model for a single JSON object and
	// unmarshals it into out. Usage is returned even when decoding fails
	// so cost accounting stays accurate.
	CompleteStructured(ctx context.Context, req *Request, out any) (Usage, error)
}

// DecodeStructured parses a model reply into out, tolerating markdown
// fences and prose around the JSON object.
func DecodeStructured(content string, out any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return fmt.Errorf("%w: %q", ErrBadJSON, truncate(content, 120))
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	return nil
}

// ExtractJSON returns the first top-level JSON object or array embedded in
// the text, or "" when none exists.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if fenced, ok := stripFence(s); ok {
		s = fenced
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func stripFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// structuredInstruction is appended to the system prompt by providers that
// have no native JSON mode.
const structuredInstruction = "\n\nRespond with a single JSON object and nothing else. No markdown fences, no prose."
