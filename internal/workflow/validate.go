// Package workflow validates workflow trees before execution. Validation
// is rule-based and never calls an LLM; the validator agent delegates here.
package workflow

import (
	"fmt"

	"github.com/chartflow/chartflow/internal/template"
	"github.com/chartflow/chartflow/pkg/models"
)

// Result reports the first structural problem found, if any.
type Result struct {
	Valid        bool   `json:"valid"`
	BrokenStepID string `json:"broken_step_id,omitempty"`
	BrokenReason string `json:"broken_reason,omitempty"`
}

// baseVars are bound by the executor before the first step runs.
var baseVars = map[string]bool{
	"mrn": true,
	"csn": true,
}

// Validate checks a workflow tree: step ids are unique and non-empty, every
// templated reference resolves to a prior assignment or an enclosing loop
// variable, loop sources name a defined variable, and conditions are
// well-formed. Output mappings are not checked yet; they pass through.
func Validate(w *models.Workflow) Result {
	if w == nil {
		return broken("", "workflow is empty")
	}

	seen := map[string]bool{}
	dup := Result{Valid: true}
	w.Walk(func(s *models.Step) {
		if !dup.Valid {
			return
		}
		if s.ID == "" {
			dup = broken("", "step has no id")
			return
		}
		if seen[s.ID] {
			dup = broken(s.ID, fmt.Sprintf("duplicate step id %q", s.ID))
			return
		}
		seen[s.ID] = true
	})
	if !dup.Valid {
		return dup
	}

	v := &validator{scopes: []map[string]bool{copySet(baseVars)}}
	if res := v.block(w.Steps); !res.Valid {
		return res
	}
	return Result{Valid: true}
}

type validator struct {
	scopes []map[string]bool
}

func (v *validator) define(name string) {
	if name != "" {
		v.scopes[len(v.scopes)-1][name] = true
	}
}

func (v *validator) defined(name string) bool {
	for i := len(v.scopes) - 1; i >= 0; i-- {
		if v.scopes[i][name] {
			return true
		}
	}
	return false
}

func (v *validator) block(steps []models.Step) Result {
	for i := range steps {
		if res := v.step(&steps[i]); !res.Valid {
			return res
		}
	}
	return Result{Valid: true}
}

func (v *validator) step(s *models.Step) Result {
	switch s.Type {
	case models.StepTool:
		return v.toolStep(s)
	case models.StepLoop:
		return v.loopStep(s)
	case models.StepIf:
		return v.ifStep(s)
	case models.StepFlagVariable:
		if s.Variable == "" {
			return broken(s.ID, "flag_variable step has no variable")
		}
		v.define(s.Variable)
		return Result{Valid: true}
	default:
		return broken(s.ID, fmt.Sprintf("unknown step type %q", s.Type))
	}
}

func (v *validator) toolStep(s *models.Step) Result {
	if s.Tool == "" {
		return broken(s.ID, "tool step names no tool")
	}
	for key, val := range s.Inputs {
		// build_text templates bind {{items}} internally.
		if s.Tool == "build_text" && key == "template" {
			continue
		}
		if res := v.refsIn(s.ID, val); !res.Valid {
			return res
		}
	}
	v.define(s.Output)
	return Result{Valid: true}
}

func (v *validator) loopStep(s *models.Step) Result {
	if s.For == "" {
		return broken(s.ID, "loop step has no loop variable")
	}
	source := s.In
	roots := template.Refs(source)
	if len(roots) == 0 && source != "" {
		// A bare name is the common form.
		roots = []string{source}
	}
	if len(roots) == 0 {
		return broken(s.ID, "loop step has no source")
	}
	for _, name := range roots {
		if !v.defined(name) {
			return broken(s.ID, fmt.Sprintf("loop source references undefined variable %q", name))
		}
	}

	v.scopes = append(v.scopes, map[string]bool{s.For: true})
	res := v.block(s.Body)
	v.scopes = v.scopes[:len(v.scopes)-1]
	if !res.Valid {
		return res
	}
	v.define(s.OutputDict)
	return Result{Valid: true}
}

func (v *validator) ifStep(s *models.Step) Result {
	if s.Condition == nil {
		return broken(s.ID, "if step has no condition")
	}
	if res := v.condition(s.ID, s.Condition); !res.Valid {
		return res
	}
	// Branch assignments are visible downstream; the executor binds them in
	// the enclosing scope when the branch runs.
	if res := v.block(s.Then); !res.Valid {
		return res
	}
	return v.block(s.Otherwise)
}

func (v *validator) condition(stepID string, c *models.Condition) Result {
	kind, err := c.Kind()
	if err != nil {
		return broken(stepID, err.Error())
	}
	switch kind {
	case "simple":
		return v.refsIn(stepID, c.Expr)
	case "comparison":
		if !models.ComparisonOps[c.Op] {
			return broken(stepID, fmt.Sprintf("unknown comparison operator %q", c.Op))
		}
		if res := v.refsIn(stepID, c.Left); !res.Valid {
			return res
		}
		return v.refsIn(stepID, c.Right)
	case "and":
		for i := range c.And {
			if res := v.condition(stepID, &c.And[i]); !res.Valid {
				return res
			}
		}
	case "or":
		for i := range c.Or {
			if res := v.condition(stepID, &c.Or[i]); !res.Valid {
				return res
			}
		}
	case "not":
		return v.condition(stepID, c.Not)
	}
	return Result{Valid: true}
}

// refsIn extracts template references from a value, recursing through
// nested maps and lists, and checks each root against the scope chain.
func (v *validator) refsIn(stepID string, val any) Result {
	switch t := val.(type) {
	case string:
		for _, name := range template.Refs(t) {
			if !v.defined(name) {
				return broken(stepID, fmt.Sprintf("reference to undefined variable %q", name))
			}
		}
	case map[string]any:
		for _, nested := range t {
			if res := v.refsIn(stepID, nested); !res.Valid {
				return res
			}
		}
	case []any:
		for _, nested := range t {
			if res := v.refsIn(stepID, nested); !res.Valid {
				return res
			}
		}
	}
	return Result{Valid: true}
}

func broken(stepID, reason string) Result {
	return Result{Valid: false, BrokenStepID: stepID, BrokenReason: reason}
}

func copySet(src map[string]bool) map[string]bool {
	out := make(map[string]bool, len(src))
	for k := range src {
		out[k] = true
	}
	return out
}
