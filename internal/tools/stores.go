package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Writer tools declare intent against named variable stores; the executor
// owns the store registry and materializes each operation. Their Execute
// methods therefore return a StoreOp rather than performing the mutation.

// StoreType enumerates the store shapes.
type StoreType string

const (
	StoreList StoreType = "list"
	StoreText StoreType = "text"
	StoreDict StoreType = "dict"
)

// StoreOpKind enumerates the declared operations.
type StoreOpKind string

const (
	StoreOpInit      StoreOpKind = "init"
	StoreOpAppend    StoreOpKind = "append"
	StoreOpRead      StoreOpKind = "read"
	StoreOpBuildText StoreOpKind = "build_text"
)

// StoreOp is the declaration a writer tool hands back to the executor.
type StoreOp struct {
	Kind      StoreOpKind
	Store     string
	Type      StoreType // init
	Value     any       // append
	Key       string    // append/read into dict
	Separator string    // append/build_text over text
	Source    string    // build_text
	Mode      string    // build_text: join | template
	Template  string    // build_text template with {{items}}
}

type initStoreTool struct{}

// NewInitStoreTool declares a new named store.
func NewInitStoreTool() Tool { return initStoreTool{} }

func (initStoreTool) Spec() Spec {
	return Spec{
		Name:        "init_store",
		Category:    "stores",
		Role:        RoleWriter,
		Description: "Create a named store for aggregating values across loop iterations.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"type": {"type": "string", "enum": ["list", "text", "dict"]}
			},
			"required": ["name", "type"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{"type": "null"}`),
	}
}

func (initStoreTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	name, err := inputString(inputs, "name")
	if err != nil {
		return nil, CallMeta{}, err
	}
	typ, err := inputString(inputs, "type")
	if err != nil {
		return nil, CallMeta{}, err
	}
	switch StoreType(typ) {
	case StoreList, StoreText, StoreDict:
	default:
		return nil, CallMeta{}, fmt.Errorf("unknown store type %q", typ)
	}
	return StoreOp{Kind: StoreOpInit, Store: name, Type: StoreType(typ)}, CallMeta{}, nil
}

type storeAppendTool struct{}

// NewStoreAppendTool appends a value to a store.
func NewStoreAppendTool() Tool { return storeAppendTool{} }

func (storeAppendTool) Spec() Spec {
	return Spec{
		Name:        "store_append",
		Category:    "stores",
		Role:        RoleWriter,
		Description: "Append a value to a named store. Dict stores require a key; text stores accept a separator.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"store": {"type": "string"},
				"value": {},
				"key": {"type": "string"},
				"separator": {"type": "string"}
			},
			"required": ["store", "value"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{"type": "null"}`),
	}
}

func (storeAppendTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	store, err := inputString(inputs, "store")
	if err != nil {
		return nil, CallMeta{}, err
	}
	op := StoreOp{Kind: StoreOpAppend, Store: store, Value: inputs["value"]}
	if key, ok := inputs["key"].(string); ok {
		op.Key = key
	}
	if sep, ok := inputs["separator"].(string); ok {
		op.Separator = sep
	}
	return op, CallMeta{}, nil
}

type storeReadTool struct{}

// NewStoreReadTool surfaces a store's committed value.
func NewStoreReadTool() Tool { return storeReadTool{} }

func (storeReadTool) Spec() Spec {
	return Spec{
		Name:        "store_read",
		Category:    "stores",
		Role:        RoleWriter,
		Description: "Read the committed contents of a named store, or one key of a dict store.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"store": {"type": "string"},
				"key": {"type": "string"}
			},
			"required": ["store"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{}`),
	}
}

func (storeReadTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	store, err := inputString(inputs, "store")
	if err != nil {
		return nil, CallMeta{}, err
	}
	op := StoreOp{Kind: StoreOpRead, Store: store}
	if key, ok := inputs["key"].(string); ok {
		op.Key = key
	}
	return op, CallMeta{}, nil
}

type buildTextTool struct{}

// NewBuildTextTool assembles text from a store's contents.
func NewBuildTextTool() Tool { return buildTextTool{} }

func (buildTextTool) Spec() Spec {
	return Spec{
		Name:        "build_text",
		Category:    "stores",
		Role:        RoleWriter,
		Description: "Build a text from a source store, either joining items with a separator or instantiating a template with {{items}} bound to the store contents.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"source": {"type": "string"},
				"mode": {"type": "string", "enum": ["join", "template"]},
				"separator": {"type": "string"},
				"template": {"type": "string"}
			},
			"required": ["source", "mode"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{"type": "string"}`),
	}
}

func (buildTextTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	source, err := inputString(inputs, "source")
	if err != nil {
		return nil, CallMeta{}, err
	}
	mode, err := inputString(inputs, "mode")
	if err != nil {
		return nil, CallMeta{}, err
	}
	op := StoreOp{Kind: StoreOpBuildText, Source: source, Mode: mode}
	if sep, ok := inputs["separator"].(string); ok {
		op.Separator = sep
	}
	if tmpl, ok := inputs["template"].(string); ok {
		op.Template = tmpl
	}
	if mode == "template" && op.Template == "" {
		return nil, CallMeta{}, fmt.Errorf("template mode requires a template")
	}
	return op, CallMeta{}, nil
}

// NewDefaultCatalog registers the full tool set in its canonical order.
func NewDefaultCatalog() (*Catalog, error) {
	c := NewCatalog()
	all := []Tool{
		NewNotesIDsTool(),
		NewReadNoteTool(),
		NewMedicationsTool(),
		NewReadMedicationTool(),
		NewDiagnosesTool(),
		NewFlowsheetsTool(),
		NewAnalyzeNoteTool(),
		NewAnalyzeSpanTool(),
		NewFilterMedicationsTool(),
		NewInitStoreTool(),
		NewStoreAppendTool(),
		NewStoreReadTool(),
		NewBuildTextTool(),
	}
	for _, t := range all {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}
