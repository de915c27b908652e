// Package tools is the closed catalog of operations workflows can invoke.
// Every tool declares its role, a JSON schema for inputs, and a schema for
// outputs, so agents can plan over the catalog and the executor can invoke
// any tool uniformly.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/record"
)

// Role classifies what a tool may touch. Readers return raw record data,
// compute tools derive values (often via LLM), and writers are the only
// tools allowed to mutate named variable stores.
type Role string

const (
	RoleReader  Role = "reader"
	RoleCompute Role = "compute"
	RoleWriter  Role = "writer"
)

// ErrUnknownTool is returned by Catalog.Get for unregistered names.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ValidationError reports inputs that do not satisfy a tool's input schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q: invalid inputs: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ToolError wraps a failure inside a tool implementation.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Spec describes a tool for agents and the UI.
type Spec struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Role         Role            `json:"role"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`
	UsesLLM      bool            `json:"uses_llm"`
}

// CallMeta carries the cost of one invocation. Zero for non-LLM tools.
type CallMeta struct {
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// Context is the per-invocation environment: the patient being processed
// and the capabilities tools may reach.
type Context struct {
	Records record.Store
	LLM     llm.Client
	Dataset string
	MRN     string
	CSN     string
}

// Tool is one catalog entry. Implementations are stateless values; they
// have no per-call identity and are registered once at process start.
type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error)
}

// DataItem identifies the frontend-visible object a tool call targets,
// e.g. read_medication targets one medication id.
type DataItem struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Status       string `json:"status"`
}

// DataItemExtractor is optionally implemented by tools whose calls map to
// a data item.
type DataItemExtractor interface {
	DataItem(inputs map[string]any) (DataItem, bool)
}

// PromptSpec is the filled form of an LLM-prompt input field. Generators
// leave prompt fields null; the prompt filler populates them.
type PromptSpec struct {
	SystemPrompt string   `json:"system_prompt"`
	UserPrompt   string   `json:"user_prompt"`
	Examples     []string `json:"examples,omitempty"`
}

// ParsePrompt interprets a step input value as a prompt spec. Returns nil
// when the value is null or missing.
func ParsePrompt(v any) (*PromptSpec, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var p PromptSpec
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("prompt field is not a prompt object: %w", err)
	}
	return &p, nil
}

func inputString(inputs map[string]any, key string) (string, error) {
	v, ok := inputs[key]
	if !ok {
		return "", fmt.Errorf("missing input %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("input %q must be a string, got %T", key, v)
	}
	return s, nil
}
