package agents

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/llm/llmtest"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

func testSpecs(t *testing.T) []tools.Spec {
	t.Helper()
	c, err := tools.NewDefaultCatalog()
	if err != nil {
		t.Fatalf("NewDefaultCatalog() error = %v", err)
	}
	return c.List()
}

const generatedWorkflowJSON = `{
  "steps": [
    {"id": "get_notes", "type": "tool", "tool": "get_patient_notes_ids", "output": "note_ids"},
    {"id": "note_loop", "type": "loop", "for": "note_id", "in": "note_ids", "body": [
      {"id": "read_note", "type": "tool", "tool": "read_patient_note",
       "inputs": {"note_id": "{{note_id}}"}, "output": "note"},
      {"id": "analyze", "type": "tool", "tool": "analyze_note_with_span_and_reason",
       "inputs": {"note_text": "{{note.text}}", "prompt": {"system_prompt": "stale", "user_prompt": "stale"}},
       "output": "finding"}
    ]}
  ]
}`

func TestGeneratorNullsPromptFields(t *testing.T) {
	fake := &llmtest.Fake{
		Queue:        []string{generatedWorkflowJSON},
		PerCallUsage: llm.Usage{CostUSD: 0.01, InputTokens: 200, OutputTokens: 150},
	}
	g := NewGenerator(fake)

	out := g.Run(context.Background(), GeneratorInput{
		TaskDescription: "read every note and flag depression",
		ToolSpecs:       testSpecs(t),
		PatientContext:  "mrn-1 / csn-1",
	})
	if !out.Success {
		t.Fatalf("Run() failed: %s", out.ErrorMessage)
	}
	analyze := out.Workflow.FindStep("analyze")
	if analyze == nil {
		t.Fatal("generated workflow lost the analyze step")
	}
	if v, present := analyze.Inputs["prompt"]; !present || v != nil {
		t.Errorf("prompt = %#v, want explicit null for the prompt filler", v)
	}
	if math.Abs(out.Usage.CostUSD-0.01) > 1e-9 {
		t.Errorf("Usage.CostUSD = %v, want 0.01", out.Usage.CostUSD)
	}
}

func TestGeneratorFailureDoesNotRaise(t *testing.T) {
	g := NewGenerator(&llmtest.Fake{}) // empty queue, calls fail

	out := g.Run(context.Background(), GeneratorInput{TaskDescription: "anything"})
	if out.Success {
		t.Fatal("Run() reported success with no LLM response")
	}
	if out.Workflow != nil {
		t.Error("failed run still produced a workflow")
	}
	if out.ErrorMessage == "" {
		t.Error("failure carries no error message")
	}
}

func TestEditorRequiresWorkflow(t *testing.T) {
	e := NewEditor(&llmtest.Fake{})
	out := e.Run(context.Background(), EditorInput{EditRequest: "add a step"})
	if out.Success {
		t.Fatal("Run() succeeded without a workflow to edit")
	}
}

func TestChunkOperatorNullsOnlyNewSteps(t *testing.T) {
	current := &models.Workflow{Steps: []models.Step{
		{ID: "analyze", Type: models.StepTool, Tool: "analyze_note",
			Inputs: map[string]any{
				"note_text": "x",
				"prompt":    map[string]any{"system_prompt": "keep", "user_prompt": "keep"},
			}},
	}}
	// The operator returns the old step plus one appended analyze step.
	fake := &llmtest.Fake{Queue: []string{`{
	  "steps": [
	    {"id": "analyze", "type": "tool", "tool": "analyze_note",
	     "inputs": {"note_text": "x", "prompt": {"system_prompt": "keep", "user_prompt": "keep"}}},
	    {"id": "analyze_2", "type": "tool", "tool": "analyze_note",
	     "inputs": {"note_text": "y", "prompt": {"system_prompt": "new", "user_prompt": "new"}}}
	  ]
	}`}}
	c := NewChunkOperator(fake)

	out := c.Run(context.Background(), ChunkOperatorInput{
		CurrentWorkflow: current,
		Operation:       ChunkAppend,
		Description:     "also analyze the discharge note",
		ToolSpecs:       testSpecs(t),
	})
	if !out.Success {
		t.Fatalf("Run() failed: %s", out.ErrorMessage)
	}

	kept := out.Workflow.FindStep("analyze")
	if prompt, ok := kept.Inputs["prompt"].(map[string]any); !ok || prompt["system_prompt"] != "keep" {
		t.Errorf("existing step prompt = %#v, want preserved", kept.Inputs["prompt"])
	}
	added := out.Workflow.FindStep("analyze_2")
	if v, present := added.Inputs["prompt"]; !present || v != nil {
		t.Errorf("new step prompt = %#v, want null", v)
	}
}

func TestValidatorReportsDuplicateIDs(t *testing.T) {
	v := NewValidator()
	out := v.Run(context.Background(), ValidatorInput{Workflow: &models.Workflow{Steps: []models.Step{
		{ID: "step1", Type: models.StepTool, Tool: "get_medications", Output: "a"},
		{ID: "step1", Type: models.StepTool, Tool: "get_diagnoses", Output: "b"},
	}}})
	if !out.Success {
		t.Fatalf("Run() failed: %s", out.ErrorMessage)
	}
	if out.Valid {
		t.Fatal("validator accepted duplicate step ids")
	}
	if !strings.Contains(out.BrokenReason, "duplicate") {
		t.Errorf("BrokenReason = %q, want mention of duplicate", out.BrokenReason)
	}
}

func TestPromptFillerFillsNullPrompts(t *testing.T) {
	wf := &models.Workflow{Steps: []models.Step{
		{ID: "get_notes", Type: models.StepTool, Tool: "get_patient_notes_ids", Output: "note_ids"},
		{ID: "loop", Type: models.StepLoop, For: "note_id", In: "note_ids", Body: []models.Step{
			{ID: "analyze", Type: models.StepTool, Tool: "analyze_note_with_span_and_reason",
				Inputs: map[string]any{"note_text": "{{note_id}}", "prompt": nil}},
		}},
	}}
	fake := &llmtest.Fake{
		Queue:        []string{`{"system_prompt": "Screen for depression.", "user_prompt": "Is depression documented?"}`},
		PerCallUsage: llm.Usage{CostUSD: 0.004, InputTokens: 80, OutputTokens: 40},
	}
	p := NewPromptFiller(fake)

	out := p.Run(context.Background(), PromptFillerInput{
		Workflow:   wf,
		UserIntent: "flag depression in every note",
	})
	if !out.Success {
		t.Fatalf("Run() failed: %s", out.ErrorMessage)
	}
	if out.FilledCount != 1 || out.FallbackCount != 0 {
		t.Errorf("filled/fallback = %d/%d, want 1/0", out.FilledCount, out.FallbackCount)
	}

	filled := out.Workflow.FindStep("analyze").Inputs["prompt"].(map[string]any)
	if filled["system_prompt"] != "Screen for depression." {
		t.Errorf("filled prompt = %#v", filled)
	}
	// The input workflow is untouched.
	if wf.FindStep("analyze").Inputs["prompt"] != nil {
		t.Error("prompt filler mutated its input workflow")
	}
	if math.Abs(out.Usage.CostUSD-0.004) > 1e-9 {
		t.Errorf("Usage.CostUSD = %v, want summed fill cost", out.Usage.CostUSD)
	}
}

func TestPromptFillerFallsBackOnFailure(t *testing.T) {
	wf := &models.Workflow{Steps: []models.Step{
		{ID: "analyze", Type: models.StepTool, Tool: "analyze_note",
			StepSummary: "Check for insulin use",
			Inputs:      map[string]any{"note_text": "x", "prompt": nil}},
	}}
	p := NewPromptFiller(&llmtest.Fake{}) // every call fails

	out := p.Run(context.Background(), PromptFillerInput{Workflow: wf, UserIntent: "insulin"})
	if !out.Success {
		t.Fatalf("Run() failed: %s", out.ErrorMessage)
	}
	if out.FallbackCount != 1 {
		t.Errorf("FallbackCount = %d, want 1", out.FallbackCount)
	}
	filled := out.Workflow.FindStep("analyze").Inputs["prompt"].(map[string]any)
	if filled["user_prompt"] != "Check for insulin use" {
		t.Errorf("fallback prompt = %#v, want the step summary", filled)
	}
}

func TestSummarizer(t *testing.T) {
	fake := &llmtest.Fake{Queue: []string{
		`{"summary": "Reads every note in the encounter. Flags documented depression with the supporting text."}`,
	}}
	s := NewSummarizer(fake)

	out := s.Run(context.Background(), SummarizerInput{Workflow: &models.Workflow{}})
	if !out.Success || out.Summary == "" {
		t.Fatalf("Run() = %+v", out)
	}
}

func TestOutputDefinerDerivesFromComputeSteps(t *testing.T) {
	wf := &models.Workflow{Steps: []models.Step{
		{ID: "get_notes", Type: models.StepTool, Tool: "get_patient_notes_ids", Output: "note_ids"},
		{ID: "analyze", Type: models.StepTool, Tool: "analyze_note_with_span_and_reason",
			StepSummary: "Screen for depression",
			Inputs:      map[string]any{"note_text": "x", "prompt": nil}},
	}}
	o := NewOutputDefiner()

	out := o.Run(context.Background(), OutputDefinerInput{
		Workflow:  wf,
		ToolSpecs: testSpecs(t),
	})
	if !out.Success {
		t.Fatalf("Run() failed: %s", out.ErrorMessage)
	}
	defs := out.Workflow.OutputDefinitions
	if len(defs) != 1 {
		t.Fatalf("derived %d definitions, want 1 (compute steps only)", len(defs))
	}
	if defs[0].ID != "out_analyze" || defs[0].ToolName != "analyze_note_with_span_and_reason" {
		t.Errorf("definition = %+v", defs[0])
	}
	if len(defs[0].Fields) != 3 {
		t.Errorf("fields = %+v, want detected/span/reason", defs[0].Fields)
	}
}

func TestClarifier(t *testing.T) {
	fake := &llmtest.Fake{Queue: []string{"Which notes should I look at: all of them, or just discharge summaries?"}}
	c := NewClarifier(fake)

	out := c.Run(context.Background(), ClarifierInput{UserRequest: "check the notes"})
	if !out.Success || out.ResponseText == "" {
		t.Fatalf("Run() = %+v", out)
	}
}
