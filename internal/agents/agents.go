// Package agents implements the specialized workers the orchestrator
// dispatches: generator, editor, chunk operator, validator, prompt filler,
// summarizer, output-definition, and clarifier.
//
// Agents are stateless values holding only their LLM client. Each exposes a
// single Run method with a typed input and output. Failures never raise to
// the orchestrator; they set Success = false with an error message, and the
// orchestrator's LLM sees the failure in the next decision context.
package agents

import (
	"encoding/json"
	"strings"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

// Outcome is the shared trailer of every agent output.
type Outcome struct {
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Usage        llm.Usage `json:"usage"`
}

func failure(err error, usage llm.Usage) Outcome {
	return Outcome{Success: false, ErrorMessage: err.Error(), Usage: usage}
}

func success(usage llm.Usage) Outcome {
	return Outcome{Success: true, Usage: usage}
}

// workflowJSON renders a workflow for inclusion in a prompt.
func workflowJSON(w *models.Workflow) string {
	if w == nil {
		return "(none)"
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return "(unserializable workflow)"
	}
	return string(data)
}

// toolSpecsText renders the catalog for a prompt.
func toolSpecsText(specs []tools.Spec) string {
	if len(specs) == 0 {
		return "(no tools)"
	}
	return tools.SummarizeSpecs(specs)
}

// specTakesPrompt reports whether a tool declares an LLM-prompt input.
func specTakesPrompt(spec tools.Spec) bool {
	return strings.Contains(string(spec.InputSchema), `"prompt"`)
}

// promptTools returns the set of tool names with a prompt input field.
func promptTools(specs []tools.Spec) map[string]bool {
	out := map[string]bool{}
	for _, s := range specs {
		if specTakesPrompt(s) {
			out[s.Name] = true
		}
	}
	return out
}

// nullifyPrompts forces prompt inputs to null for the named tools, for
// every step whose id passes the filter. Generators leave prompts null for
// the prompt filler; chunk edits null only the steps they introduced.
func nullifyPrompts(w *models.Workflow, withPrompt map[string]bool, include func(stepID string) bool) {
	if w == nil {
		return
	}
	w.Walk(func(s *models.Step) {
		if s.Type != models.StepTool || !withPrompt[s.Tool] {
			return
		}
		if include != nil && !include(s.ID) {
			return
		}
		if s.Inputs == nil {
			s.Inputs = map[string]any{}
		}
		s.Inputs["prompt"] = nil
	})
}

const workflowFormatGuide = `A workflow is JSON: {"steps": [...]}. Step variants:
- tool: {"id", "type": "tool", "step_summary", "tool", "inputs": {...}, "output"}
- loop: {"id", "type": "loop", "for": "<var>", "in": "<list variable>", "body": [...], "output_dict"?}
- if:   {"id", "type": "if", "condition": {...}, "then": [...], "otherwise"?: [...]}
- flag_variable: {"id", "type": "flag_variable", "variable", "value": true|false}
Conditions are {"expr": "{{var}}"}, {"left", "op", "right"} with op in
(==, !=, <, <=, >, >=, in, not in), or {"and": [...]} / {"or": [...]} / {"not": {...}}.
Step inputs may reference earlier outputs with {{variable}} templates.
Every step id must be unique. Tools with a "prompt" input take null there;
a later pass fills prompts in.`
