package executor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/llm/llmtest"
	"github.com/chartflow/chartflow/internal/record"
	"github.com/chartflow/chartflow/internal/template"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

func testPatient() *models.Patient {
	return &models.Patient{
		MRN: "mrn-1",
		Encounters: []models.Encounter{{
			CSN: "csn-1",
			Notes: []models.Note{
				{ID: "n1", Type: "progress", Text: "Patient reports low mood.", CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
				{ID: "n2", Type: "discharge", Text: "Stable at discharge.", CreatedAt: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
			},
		}},
	}
}

func testSetup(t *testing.T, fake *llmtest.Fake) (*Executor, *tools.Context) {
	t.Helper()
	catalog, err := tools.NewDefaultCatalog()
	if err != nil {
		t.Fatalf("NewDefaultCatalog() error = %v", err)
	}
	tc := &tools.Context{
		Records: record.NewMemory("testset", testPatient()),
		LLM:     fake,
		Dataset: "testset",
		MRN:     "mrn-1",
		CSN:     "csn-1",
	}
	return New(catalog), tc
}

func filledPrompt() map[string]any {
	return map[string]any{
		"system_prompt": "You screen clinical notes for depression.",
		"user_prompt":   "Does this note document depression?",
	}
}

func noteAnalysisWorkflow() *models.Workflow {
	return &models.Workflow{Steps: []models.Step{
		{ID: "get_notes", Type: models.StepTool, Tool: "get_patient_notes_ids", Output: "note_ids"},
		{
			ID: "note_loop", Type: models.StepLoop, For: "note_id", In: "note_ids",
			OutputDict: "loop_results",
			Body: []models.Step{
				{ID: "read_note", Type: models.StepTool, Tool: "read_patient_note", Output: "note",
					Inputs: map[string]any{"note_id": "{{note_id}}"}},
				{ID: "analyze", Type: models.StepTool, Tool: "analyze_note_with_span_and_reason", Output: "finding",
					StepSummary: "Screen the note for depression",
					Inputs:      map[string]any{"note_text": "{{note.text}}", "prompt": filledPrompt()}},
				{ID: "check", Type: models.StepIf,
					Condition: &models.Condition{Expr: "{{finding.detected}}"},
					Then: models.StepList{{
						ID: "flag", Type: models.StepFlagVariable, Variable: "found_depression", Value: boolPtr(true),
					}}},
			},
		},
	}}
}

func TestRunNoteAnalysisWorkflow(t *testing.T) {
	fake := &llmtest.Fake{
		Queue: []string{
			`{"detected": true, "span": "low mood", "reason": "explicit mention"}`,
			`{"detected": false, "span": "", "reason": ""}`,
		},
		PerCallUsage: llm.Usage{CostUSD: 0.001, InputTokens: 10, OutputTokens: 5},
	}
	exec, tc := testSetup(t, fake)

	res, err := exec.Run(context.Background(), noteAnalysisWorkflow(), tc, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.MRN != "mrn-1" || res.CSN != "csn-1" {
		t.Errorf("envelope identity = %s/%s", res.MRN, res.CSN)
	}

	if len(res.OutputDefinitions) != 1 {
		t.Fatalf("derived %d output definitions, want 1", len(res.OutputDefinitions))
	}
	def := res.OutputDefinitions[0]
	if def.ID != "out_analyze" || def.Name != "analyze" || def.ToolName != "analyze_note_with_span_and_reason" {
		t.Errorf("definition = %+v", def)
	}

	if len(res.OutputValues) != 2 {
		t.Fatalf("got %d output values, want 2 (one per note)", len(res.OutputValues))
	}
	first := res.OutputValues[0]
	if first.OutputDefinitionID != "out_analyze" || first.ResourceID != "n1" {
		t.Errorf("first value = %+v", first)
	}
	if first.Values["detected"] != true || first.Values["span"] != "low mood" {
		t.Errorf("first values = %#v", first.Values)
	}
	if res.OutputValues[1].ResourceID != "n2" || res.OutputValues[1].Values["detected"] != false {
		t.Errorf("second value = %+v", res.OutputValues[1])
	}
	if first.Metadata["patient_id"] != "mrn-1" {
		t.Errorf("metadata = %#v", first.Metadata)
	}

	if math.Abs(res.TotalCostUSD-0.002) > 1e-9 {
		t.Errorf("TotalCostUSD = %v, want 0.002", res.TotalCostUSD)
	}
	if res.TotalInputTokens != 20 || res.TotalOutputTokens != 10 {
		t.Errorf("tokens = %d/%d, want 20/10", res.TotalInputTokens, res.TotalOutputTokens)
	}
	if fake.CallCount() != 2 {
		t.Errorf("LLM called %d times, want 2", fake.CallCount())
	}
}

func TestRunEmptyLoopLeavesEmptyOutputDict(t *testing.T) {
	exec, tc := testSetup(t, &llmtest.Fake{})
	w := &models.Workflow{
		Steps: []models.Step{{
			ID: "loop1", Type: models.StepLoop, For: "item", In: "empty_list",
			OutputDict: "results",
			Body: []models.Step{{
				ID: "read", Type: models.StepTool, Tool: "read_patient_note", Output: "note",
				Inputs: map[string]any{"note_id": "{{item}}"},
			}},
		}},
		OutputDefinitions: []models.OutputDefinition{{ID: "d1", Name: "results"}},
		OutputMappings:    []models.OutputMapping{{OutputDefinitionID: "d1", Variable: "results", Field: "items"}},
	}

	res, err := exec.Run(context.Background(), w, tc, map[string]any{"empty_list": []any{}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.OutputValues) != 1 {
		t.Fatalf("got %d output values, want 1", len(res.OutputValues))
	}
	items, ok := res.OutputValues[0].Values["items"].(map[string]any)
	if !ok || len(items) != 0 {
		t.Errorf("empty loop output dict = %#v, want {}", res.OutputValues[0].Values["items"])
	}
}

func TestRunLoopSourceMustBeList(t *testing.T) {
	exec, tc := testSetup(t, &llmtest.Fake{})
	w := &models.Workflow{Steps: []models.Step{{
		ID: "loop1", Type: models.StepLoop, For: "x", In: "not_list",
	}}}

	_, err := exec.Run(context.Background(), w, tc, map[string]any{"not_list": "abc"})
	var terr *TypeError
	if !errors.As(err, &terr) {
		t.Fatalf("Run() error = %v, want *TypeError", err)
	}
	if terr.StepID != "loop1" {
		t.Errorf("StepID = %q, want loop1", terr.StepID)
	}
}

func TestRunUnsafeTemplateAborts(t *testing.T) {
	fake := &llmtest.Fake{}
	exec, tc := testSetup(t, fake)
	w := &models.Workflow{Steps: []models.Step{{
		ID: "bad", Type: models.StepTool, Tool: "read_patient_note", Output: "note",
		Inputs: map[string]any{"note_id": "{{ __import__('os').system('rm -rf /') }}"},
	}}}

	_, err := exec.Run(context.Background(), w, tc, nil)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("Run() error = %v, want *ExecutionError", err)
	}
	if eerr.StepID != "bad" {
		t.Errorf("StepID = %q, want bad", eerr.StepID)
	}
	var terr *template.Error
	if !errors.As(err, &terr) {
		t.Errorf("cause = %v, want *template.Error", err)
	}
	if fake.CallCount() != 0 {
		t.Errorf("unsafe template reached the LLM (%d calls)", fake.CallCount())
	}
}

func TestRunStoresAcrossLoop(t *testing.T) {
	exec, tc := testSetup(t, &llmtest.Fake{})
	w := &models.Workflow{
		Steps: []models.Step{
			{ID: "init", Type: models.StepTool, Tool: "init_store",
				Inputs: map[string]any{"name": "findings", "type": "list"}},
			{ID: "get_notes", Type: models.StepTool, Tool: "get_patient_notes_ids", Output: "note_ids"},
			{
				ID: "note_loop", Type: models.StepLoop, For: "note_id", In: "note_ids",
				Body: []models.Step{
					{ID: "read_note", Type: models.StepTool, Tool: "read_patient_note", Output: "note",
						Inputs: map[string]any{"note_id": "{{note_id}}"}},
					{ID: "collect", Type: models.StepTool, Tool: "store_append",
						Inputs: map[string]any{"store": "findings", "value": "{{note.text}}"}},
				},
			},
			{ID: "report", Type: models.StepTool, Tool: "build_text", Output: "report",
				Inputs: map[string]any{"source": "findings", "mode": "join", "separator": "\n"}},
		},
		OutputDefinitions: []models.OutputDefinition{{ID: "d_report", Name: "report"}},
		OutputMappings:    []models.OutputMapping{{OutputDefinitionID: "d_report", Variable: "report", Field: "text"}},
	}

	res, err := exec.Run(context.Background(), w, tc, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.OutputValues) != 1 {
		t.Fatalf("got %d output values, want 1", len(res.OutputValues))
	}
	want := "Patient reports low mood.\nStable at discharge."
	if got := res.OutputValues[0].Values["text"]; got != want {
		t.Errorf("report = %q, want %q", got, want)
	}
	if res.OutputDefinitions[0].ID != "d_report" {
		t.Errorf("declared definitions not preserved: %+v", res.OutputDefinitions)
	}
}

func TestRunUnknownToolTaggedWithStep(t *testing.T) {
	exec, tc := testSetup(t, &llmtest.Fake{})
	w := &models.Workflow{Steps: []models.Step{{
		ID: "mystery", Type: models.StepTool, Tool: "no_such_tool",
	}}}

	_, err := exec.Run(context.Background(), w, tc, nil)
	var eerr *ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("Run() error = %v, want *ExecutionError", err)
	}
	if eerr.StepID != "mystery" {
		t.Errorf("StepID = %q, want mystery", eerr.StepID)
	}
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Errorf("cause = %v, want ErrUnknownTool", err)
	}
}

func boolPtr(b bool) *bool { return &b }
