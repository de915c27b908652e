package workflow

import (
	"strings"
	"testing"

	"github.com/chartflow/chartflow/pkg/models"
)

func toolStep(id, tool, output string, inputs map[string]any) models.Step {
	return models.Step{ID: id, Type: models.StepTool, Tool: tool, Output: output, Inputs: inputs}
}

func TestValidateAcceptsWellFormedWorkflow(t *testing.T) {
	w := &models.Workflow{Steps: []models.Step{
		toolStep("get_notes", "get_patient_notes_ids", "note_ids", map[string]any{}),
		{
			ID: "note_loop", Type: models.StepLoop, For: "note_id", In: "note_ids",
			OutputDict: "loop_results",
			Body: []models.Step{
				toolStep("read_note", "read_patient_note", "note", map[string]any{
					"note_id": "{{note_id}}",
				}),
				toolStep("analyze", "analyze_note_with_span_and_reason", "finding", map[string]any{
					"note_text": "{{note.text}}",
					"prompt":    nil,
				}),
				{
					ID: "check", Type: models.StepIf,
					Condition: &models.Condition{Expr: "{{finding.detected}}"},
					Then: models.StepList{{
						ID: "flag", Type: models.StepFlagVariable,
						Variable: "found_depression", Value: boolPtr(true),
					}},
				},
			},
		},
	}}

	res := Validate(w)
	if !res.Valid {
		t.Fatalf("Validate() = %+v, want valid", res)
	}
}

func TestValidateDuplicateStepID(t *testing.T) {
	w := &models.Workflow{Steps: []models.Step{
		toolStep("step1", "get_medications", "a", nil),
		toolStep("step1", "get_diagnoses", "b", nil),
	}}

	res := Validate(w)
	if res.Valid {
		t.Fatal("Validate() accepted duplicate step ids")
	}
	if !strings.Contains(res.BrokenReason, "duplicate") {
		t.Errorf("BrokenReason = %q, want mention of duplicate", res.BrokenReason)
	}
	if res.BrokenStepID != "step1" {
		t.Errorf("BrokenStepID = %q, want step1", res.BrokenStepID)
	}
}

func TestValidateUndefinedLoopVariable(t *testing.T) {
	w := &models.Workflow{Steps: []models.Step{
		{ID: "loop1", Type: models.StepLoop, For: "x", In: "undefined_var"},
	}}

	res := Validate(w)
	if res.Valid {
		t.Fatal("Validate() accepted an undefined loop source")
	}
	if !strings.Contains(res.BrokenReason, "undefined_var") {
		t.Errorf("BrokenReason = %q, want mention of undefined_var", res.BrokenReason)
	}
}

func TestValidateUndefinedTemplateReference(t *testing.T) {
	w := &models.Workflow{Steps: []models.Step{
		toolStep("read", "read_patient_note", "note", map[string]any{
			"note_id": "{{missing.id}}",
		}),
	}}

	res := Validate(w)
	if res.Valid {
		t.Fatal("Validate() accepted an unresolved reference")
	}
	if !strings.Contains(res.BrokenReason, "missing") {
		t.Errorf("BrokenReason = %q, want mention of missing", res.BrokenReason)
	}
	if res.BrokenStepID != "read" {
		t.Errorf("BrokenStepID = %q, want read", res.BrokenStepID)
	}
}

func TestValidateLoopVariableScopedToBody(t *testing.T) {
	w := &models.Workflow{Steps: []models.Step{
		toolStep("get_notes", "get_patient_notes_ids", "note_ids", nil),
		{
			ID: "loop1", Type: models.StepLoop, For: "note_id", In: "note_ids",
			Body: []models.Step{
				toolStep("read", "read_patient_note", "note", map[string]any{
					"note_id": "{{note_id}}",
				}),
			},
		},
		toolStep("after", "read_patient_note", "note2", map[string]any{
			"note_id": "{{note_id}}",
		}),
	}}

	res := Validate(w)
	if res.Valid {
		t.Fatal("Validate() allowed a loop variable to escape its body")
	}
	if res.BrokenStepID != "after" {
		t.Errorf("BrokenStepID = %q, want after", res.BrokenStepID)
	}
}

func TestValidateMalformedCondition(t *testing.T) {
	tests := []struct {
		name string
		cond models.Condition
	}{
		{"empty", models.Condition{}},
		{"mixed forms", models.Condition{Expr: "{{mrn}}", Op: "=="}},
		{"unknown operator", models.Condition{Left: "{{mrn}}", Op: "~=", Right: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := tt.cond
			w := &models.Workflow{Steps: []models.Step{{
				ID: "branch", Type: models.StepIf, Condition: &cond,
			}}}
			if res := Validate(w); res.Valid {
				t.Errorf("Validate() accepted condition %+v", tt.cond)
			}
		})
	}
}

func TestValidateBuildTextTemplateItemsAllowed(t *testing.T) {
	w := &models.Workflow{Steps: []models.Step{
		toolStep("init", "init_store", "", map[string]any{"name": "findings", "type": "list"}),
		toolStep("summary", "build_text", "report", map[string]any{
			"source":   "findings",
			"mode":     "template",
			"template": "Findings:\n{{items}}",
		}),
	}}

	if res := Validate(w); !res.Valid {
		t.Errorf("Validate() = %+v, want valid", res)
	}
}

func boolPtr(b bool) *bool { return &b }
