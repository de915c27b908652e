package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Catalog is the registry of tools, keyed by name and listed in
// registration order. Input schemas are compiled once at registration.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: map[string]*entry{}}
}

// Register adds a tool, compiling its input schema. Registering a
// duplicate name replaces the previous tool but keeps its position.
func (c *Catalog) Register(t Tool) error {
	spec := t.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tools: tool has no name")
	}
	var schema *jsonschema.Schema
	if len(spec.InputSchema) > 0 {
		compiled, err := jsonschema.CompileString(spec.Name+".json", string(spec.InputSchema))
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", spec.Name, err)
		}
		schema = compiled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[spec.Name]; !exists {
		c.order = append(c.order, spec.Name)
	}
	c.entries[spec.Name] = &entry{tool: t, schema: schema}
	return nil
}

// List returns the specs of all tools in registration order.
func (c *Catalog) List() []Spec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Spec, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].tool.Spec())
	}
	return out
}

// Get returns the tool with the given name.
func (c *Catalog) Get(name string) (Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return e.tool, nil
}

// Invoke validates inputs against the tool's schema and executes it.
// Schema violations surface as *ValidationError, execution failures as
// *ToolError.
func (c *Catalog) Invoke(ctx context.Context, tc *Context, name string, inputs map[string]any) (any, CallMeta, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, CallMeta{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if e.schema != nil {
		normalized, err := normalizeJSON(inputs)
		if err != nil {
			return nil, CallMeta{}, &ValidationError{Tool: name, Err: err}
		}
		if err := e.schema.Validate(normalized); err != nil {
			return nil, CallMeta{}, &ValidationError{Tool: name, Err: err}
		}
	}

	out, meta, err := e.tool.Execute(ctx, tc, inputs)
	if err != nil {
		var verr *ValidationError
		var terr *ToolError
		if errors.As(err, &verr) || errors.As(err, &terr) {
			return nil, meta, err
		}
		return nil, meta, &ToolError{Tool: name, Err: err}
	}
	return out, meta, nil
}

// DataItem returns the data item a call targets, when the tool declares an
// extractor.
func (c *Catalog) DataItem(name string, inputs map[string]any) (DataItem, bool) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return DataItem{}, false
	}
	extractor, ok := e.tool.(DataItemExtractor)
	if !ok {
		return DataItem{}, false
	}
	return extractor.DataItem(inputs)
}

// normalizeJSON round-trips a value through encoding/json so schema
// validation sees plain JSON types regardless of what produced the inputs.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
