package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StepType discriminates the step union. Steps are a tagged union rather
// than a class hierarchy so that interpreters can match exhaustively.
type StepType string

const (
	StepTool         StepType = "tool"
	StepLoop         StepType = "loop"
	StepIf           StepType = "if"
	StepFlagVariable StepType = "flag_variable"
)

// Workflow is a declarative tree of steps operating on a single encounter,
// plus the output-definition layer that types what the run yields.
type Workflow struct {
	Steps             []Step             `json:"steps"`
	OutputDefinitions []OutputDefinition `json:"output_definitions,omitempty"`
	OutputMappings    []OutputMapping    `json:"output_mappings,omitempty"`
}

// Step is one node of the workflow tree. Exactly one variant's fields are
// populated, selected by Type. Loop steps serialize their variable and
// source under the aliased keys "for" and "in"; agents are required to keep
// all field names stable across edits.
type Step struct {
	ID   string   `json:"id"`
	Type StepType `json:"type"`

	// tool
	StepSummary string         `json:"step_summary,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Output      string         `json:"output,omitempty"`

	// loop
	For        string `json:"for,omitempty"`
	In         string `json:"in,omitempty"`
	Body       []Step `json:"body,omitempty"`
	OutputDict string `json:"output_dict,omitempty"`

	// if
	Condition *Condition `json:"condition,omitempty"`
	Then      StepList   `json:"then,omitempty"`
	Otherwise StepList   `json:"otherwise,omitempty"`

	// flag_variable
	Variable string `json:"variable,omitempty"`
	Value    *bool  `json:"value,omitempty"`
}

type stepAlias Step

// UnmarshalJSON normalizes an explicit empty "inputs": {} to nil so that
// serialize and reparse yields a structurally equal step. The serialized
// form omits empty inputs either way.
func (s *Step) UnmarshalJSON(data []byte) error {
	var a stepAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if len(a.Inputs) == 0 {
		a.Inputs = nil
	}
	*s = Step(a)
	return nil
}

// StepList is a list of steps that also accepts a single step object on
// input. Agents sometimes emit a bare object for a one-step branch; the
// canonical serialized form is always an array.
type StepList []Step

// UnmarshalJSON accepts either a step object or an array of steps.
func (l *StepList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var s Step
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StepList{s}
		return nil
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}
	*l = steps
	return nil
}

// ComparisonOp enumerates the operators a comparison condition may use.
var ComparisonOps = map[string]bool{
	"==": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"in": true, "not in": true,
}

// Condition is either a simple truthy expression, a binary comparison, or
// a logical combination. Exactly one form is populated:
//
//   - simple:     {"expr": "{{found_depression}}"}
//   - comparison: {"left": "{{len(notes)}}", "op": ">", "right": 0}
//   - logical:    {"and": [...]} | {"or": [...]} | {"not": {...}}
type Condition struct {
	Expr string `json:"expr,omitempty"`

	Left  any    `json:"left,omitempty"`
	Op    string `json:"op,omitempty"`
	Right any    `json:"right,omitempty"`

	And []Condition `json:"and,omitempty"`
	Or  []Condition `json:"or,omitempty"`
	Not *Condition  `json:"not,omitempty"`
}

// Kind reports which condition form is populated, or an error when the
// condition is ambiguous or empty.
func (c *Condition) Kind() (string, error) {
	forms := 0
	kind := ""
	if c.Expr != "" {
		forms, kind = forms+1, "simple"
	}
	if c.Op != "" {
		forms, kind = forms+1, "comparison"
	}
	if len(c.And) > 0 {
		forms, kind = forms+1, "and"
	}
	if len(c.Or) > 0 {
		forms, kind = forms+1, "or"
	}
	if c.Not != nil {
		forms, kind = forms+1, "not"
	}
	switch forms {
	case 0:
		return "", fmt.Errorf("condition is empty")
	case 1:
		return kind, nil
	default:
		return "", fmt.Errorf("condition mixes multiple forms")
	}
}

// OutputDefinition declares one typed result a workflow yields. Definitions
// are deduplicated by ID when experiments accumulate results.
type OutputDefinition struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Label        string        `json:"label,omitempty"`
	ToolName     string        `json:"tool_name,omitempty"`
	ResourceType string        `json:"resource_type,omitempty"`
	Fields       []OutputField `json:"fields,omitempty"`
}

// OutputField types a single field of an output value, including the
// evidence fields (span, reason) produced by analyzers.
type OutputField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// OutputMapping binds a step-produced variable to an output-definition
// field. Mappings may only reference variables produced by preceding steps.
type OutputMapping struct {
	OutputDefinitionID string `json:"output_definition_id"`
	Variable           string `json:"variable"`
	Field              string `json:"field"`
}

// Clone returns a deep copy of the workflow via its JSON form.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var out Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Walk visits every step in the tree depth-first, in execution order,
// passing a pointer so that callers may mutate steps in place.
func (w *Workflow) Walk(fn func(*Step)) {
	walkSteps(w.Steps, fn)
}

func walkSteps(steps []Step, fn func(*Step)) {
	for i := range steps {
		s := &steps[i]
		fn(s)
		switch s.Type {
		case StepLoop:
			walkSteps(s.Body, fn)
		case StepIf:
			walkSteps(s.Then, fn)
			walkSteps(s.Otherwise, fn)
		}
	}
}

// StepIDs returns every step id in the tree, in visit order, including
// duplicates. Validation dedups and reports.
func (w *Workflow) StepIDs() []string {
	var ids []string
	w.Walk(func(s *Step) { ids = append(ids, s.ID) })
	return ids
}

// FindStep returns the step with the given id, or nil.
func (w *Workflow) FindStep(id string) *Step {
	var found *Step
	w.Walk(func(s *Step) {
		if found == nil && s.ID == id {
			found = s
		}
	})
	return found
}

// CountSteps returns the number of steps using the named tool anywhere in
// the tree.
func (w *Workflow) CountSteps(tool string) int {
	n := 0
	w.Walk(func(s *Step) {
		if s.Type == StepTool && s.Tool == tool {
			n++
		}
	})
	return n
}
