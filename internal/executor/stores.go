package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chartflow/chartflow/internal/template"
	"github.com/chartflow/chartflow/internal/tools"
)

// storeValue is one named store owned by a run. Writer tools only declare
// operations; the executor materializes them here.
type storeValue struct {
	typ  tools.StoreType
	list []any
	text strings.Builder
	dict map[string]any
}

func (s *storeValue) contents() any {
	switch s.typ {
	case tools.StoreList:
		out := make([]any, len(s.list))
		copy(out, s.list)
		return out
	case tools.StoreText:
		return s.text.String()
	case tools.StoreDict:
		out := make(map[string]any, len(s.dict))
		for k, v := range s.dict {
			out[k] = v
		}
		return out
	}
	return nil
}

// applyStoreOp materializes one writer-tool declaration and returns the
// value to bind to the step's output, if any.
func (r *run) applyStoreOp(op tools.StoreOp) (any, error) {
	switch op.Kind {
	case tools.StoreOpInit:
		// Re-initializing resets the store.
		sv := &storeValue{typ: op.Type}
		if op.Type == tools.StoreDict {
			sv.dict = map[string]any{}
		}
		r.stores[op.Store] = sv
		return nil, nil

	case tools.StoreOpAppend:
		sv, ok := r.stores[op.Store]
		if !ok {
			return nil, fmt.Errorf("unknown store %q", op.Store)
		}
		switch sv.typ {
		case tools.StoreList:
			sv.list = append(sv.list, op.Value)
		case tools.StoreText:
			if sv.text.Len() > 0 && op.Separator != "" {
				sv.text.WriteString(op.Separator)
			}
			sv.text.WriteString(template.Stringify(op.Value))
		case tools.StoreDict:
			if op.Key == "" {
				return nil, fmt.Errorf("dict store %q requires a key", op.Store)
			}
			sv.dict[op.Key] = op.Value
		}
		return nil, nil

	case tools.StoreOpRead:
		sv, ok := r.stores[op.Store]
		if !ok {
			return nil, fmt.Errorf("unknown store %q", op.Store)
		}
		if op.Key != "" {
			if sv.typ != tools.StoreDict {
				return nil, fmt.Errorf("store %q is not a dict", op.Store)
			}
			return sv.dict[op.Key], nil
		}
		return sv.contents(), nil

	case tools.StoreOpBuildText:
		sv, ok := r.stores[op.Source]
		if !ok {
			return nil, fmt.Errorf("unknown store %q", op.Source)
		}
		items := r.storeItemsText(sv, op.Separator)
		if op.Mode == "template" {
			rendered, err := template.RenderString(op.Template, template.MapScope{"items": items})
			if err != nil {
				return nil, err
			}
			return rendered, nil
		}
		return items, nil
	}
	return nil, fmt.Errorf("unknown store operation %q", op.Kind)
}

// storeItemsText flattens a store's contents into text for build_text.
func (r *run) storeItemsText(sv *storeValue, sep string) string {
	if sep == "" {
		sep = "\n"
	}
	switch sv.typ {
	case tools.StoreText:
		return sv.text.String()
	case tools.StoreList:
		parts := make([]string, len(sv.list))
		for i, v := range sv.list {
			parts[i] = template.Stringify(v)
		}
		return strings.Join(parts, sep)
	case tools.StoreDict:
		keys := make([]string, 0, len(sv.dict))
		for k := range sv.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+template.Stringify(sv.dict[k]))
		}
		return strings.Join(parts, sep)
	}
	return ""
}
