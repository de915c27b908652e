package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/template"
	"github.com/chartflow/chartflow/pkg/models"
)

// Compute tools derive values from record data, usually through an LLM
// call. Their prompt input is null until the prompt filler runs.

type analyzeNoteTool struct{}

// NewAnalyzeNoteTool answers a free-form question about a note.
func NewAnalyzeNoteTool() Tool { return analyzeNoteTool{} }

func (analyzeNoteTool) Spec() Spec {
	return Spec{
		Name:        "analyze_note",
		Category:    "analysis",
		Role:        RoleCompute,
		Description: "Analyze a note's text with an LLM prompt and return a free-text answer.",
		UsesLLM:     true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"note_text": {"type": "string"},
				"prompt": {"type": ["object", "null"]}
			},
			"required": ["note_text"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"answer": {"type": "string"}
			}
		}`),
	}
}

func (analyzeNoteTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	noteText, err := inputString(inputs, "note_text")
	if err != nil {
		return nil, CallMeta{}, err
	}
	prompt, err := ParsePrompt(inputs["prompt"])
	if err != nil {
		return nil, CallMeta{}, err
	}
	if prompt == nil {
		return nil, CallMeta{}, fmt.Errorf("prompt has not been filled")
	}

	var out struct {
		Answer string `json:"answer"`
	}
	usage, err := tc.LLM.CompleteStructured(ctx, &llm.Request{
		System: prompt.SystemPrompt + "\n\nReturn {\"answer\": \"...\"}.",
		Messages: []llm.Message{{
			Role:    "user",
			Content: prompt.UserPrompt + "\n\nNote text:\n" + noteText,
		}},
	}, &out)
	meta := CallMeta{CostUSD: usage.CostUSD, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	if err != nil {
		return nil, meta, err
	}
	return map[string]any{"answer": out.Answer}, meta, nil
}

type analyzeSpanTool struct{}

// NewAnalyzeSpanTool runs a detection prompt over a note and returns the
// flag plus its evidence: the supporting span and the model's reasoning.
func NewAnalyzeSpanTool() Tool { return analyzeSpanTool{} }

func (analyzeSpanTool) Spec() Spec {
	return Spec{
		Name:        "analyze_note_with_span_and_reason",
		Category:    "analysis",
		Role:        RoleCompute,
		Description: "Detect a condition in a note, returning detected, the exact supporting text span, and the reasoning.",
		UsesLLM:     true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"note_text": {"type": "string"},
				"prompt": {"type": ["object", "null"]}
			},
			"required": ["note_text"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"detected": {"type": "boolean"},
				"span": {"type": "string"},
				"reason": {"type": "string"}
			}
		}`),
	}
}

func (analyzeSpanTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	noteText, err := inputString(inputs, "note_text")
	if err != nil {
		return nil, CallMeta{}, err
	}
	prompt, err := ParsePrompt(inputs["prompt"])
	if err != nil {
		return nil, CallMeta{}, err
	}
	if prompt == nil {
		return nil, CallMeta{}, fmt.Errorf("prompt has not been filled")
	}

	var out struct {
		Detected bool   `json:"detected"`
		Span     string `json:"span"`
		Reason   string `json:"reason"`
	}
	usage, err := tc.LLM.CompleteStructured(ctx, &llm.Request{
		System: prompt.SystemPrompt +
			"\n\nReturn {\"detected\": bool, \"span\": \"exact text from the note\", \"reason\": \"...\"}." +
			" When nothing is detected, span and reason are empty strings.",
		Messages: []llm.Message{{
			Role:    "user",
			Content: prompt.UserPrompt + "\n\nNote text:\n" + noteText,
		}},
	}, &out)
	meta := CallMeta{CostUSD: usage.CostUSD, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	if err != nil {
		return nil, meta, err
	}
	return map[string]any{
		"detected": out.Detected,
		"span":     out.Span,
		"reason":   out.Reason,
	}, meta, nil
}

type filterMedicationsTool struct{}

// NewFilterMedicationsTool filters a medication list by a natural-language
// criterion. The LLM produces a comparison condition which is evaluated in
// the template sandbox per medication; a condition that fails the safety
// check yields an empty list rather than an error.
func NewFilterMedicationsTool() Tool { return filterMedicationsTool{} }

func (filterMedicationsTool) Spec() Spec {
	return Spec{
		Name:        "filter_medications",
		Category:    "medications",
		Role:        RoleCompute,
		Description: "Filter a medication list by a natural-language criterion.",
		UsesLLM:     true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"medications": {"type": "array"},
				"criteria": {"type": "string"}
			},
			"required": ["medications", "criteria"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "array",
			"items": {"type": "object"}
		}`),
	}
}

func (filterMedicationsTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	meds, ok := inputs["medications"].([]any)
	if !ok {
		return nil, CallMeta{}, fmt.Errorf("input %q must be a list", "medications")
	}
	criteria, err := inputString(inputs, "criteria")
	if err != nil {
		return nil, CallMeta{}, err
	}

	var cond models.Condition
	usage, err := tc.LLM.CompleteStructured(ctx, &llm.Request{
		System: "Translate a medication filter criterion into a single comparison condition " +
			`of the form {"left": "{{medication.<field>}}", "op": "...", "right": ...}. ` +
			"Fields: name, dose, route, order. Operators: ==, !=, <, <=, >, >=, in, not in.",
		Messages: []llm.Message{{Role: "user", Content: criteria}},
	}, &cond)
	meta := CallMeta{CostUSD: usage.CostUSD, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	if err != nil {
		return nil, meta, err
	}

	filtered := make([]any, 0, len(meds))
	for _, med := range meds {
		scope := template.MapScope{"medication": med}
		keep, err := template.EvalCondition(&cond, scope)
		if err != nil {
			// The produced expression failed the sandbox; the contract is
			// an empty result, not a raised error.
			return []any{}, meta, nil
		}
		if keep {
			filtered = append(filtered, med)
		}
	}
	return filtered, meta, nil
}

// SummarizeSpecs renders catalog specs as compact text for agent prompts.
func SummarizeSpecs(specs []Spec) string {
	var sb strings.Builder
	for _, s := range specs {
		fmt.Fprintf(&sb, "- %s (%s, %s)", s.Name, s.Role, s.Category)
		if s.UsesLLM {
			sb.WriteString(" [llm]")
		}
		fmt.Fprintf(&sb, ": %s\n", s.Description)
		fmt.Fprintf(&sb, "  input: %s\n", compactJSON(s.InputSchema))
	}
	return sb.String()
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
