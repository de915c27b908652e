package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/llm/llmtest"
	"github.com/chartflow/chartflow/internal/record"
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
			Medications: []models.Medication{
				{ID: "m1", Name: "insulin glargine", Dose: "10 units", Route: "subcutaneous"},
				{ID: "m2", Name: "lisinopril", Dose: "10 mg", Route: "oral"},
			},
			Diagnoses: []models.Diagnosis{
				{ID: "d1", Code: "E11.9", Name: "Type 2 diabetes", Chronicity: "chronic"},
			},
		}},
	}
}

func testContext(fake *llmtest.Fake) *Context {
	return &Context{
		Records: record.NewMemory("testset", testPatient()),
		LLM:     fake,
		Dataset: "testset",
		MRN:     "mrn-1",
		CSN:     "csn-1",
	}
}

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewDefaultCatalog()
	if err != nil {
		t.Fatalf("NewDefaultCatalog() error = %v", err)
	}
	return c
}

func TestCatalogListOrderAndRoles(t *testing.T) {
	c := mustCatalog(t)
	specs := c.List()
	if len(specs) != 13 {
		t.Fatalf("List() returned %d tools, want 13", len(specs))
	}
	if specs[0].Name != "get_patient_notes_ids" {
		t.Errorf("first tool = %q, want get_patient_notes_ids", specs[0].Name)
	}
	roles := map[Role]int{}
	for _, s := range specs {
		roles[s.Role]++
	}
	if roles[RoleReader] != 6 || roles[RoleCompute] != 3 || roles[RoleWriter] != 4 {
		t.Errorf("role counts = %v, want 6 readers, 3 compute, 4 writers", roles)
	}
}

func TestCatalogGetUnknown(t *testing.T) {
	c := mustCatalog(t)
	_, err := c.Get("no_such_tool")
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Get() error = %v, want ErrUnknownTool", err)
	}
}

func TestInvokeReadNote(t *testing.T) {
	c := mustCatalog(t)
	tc := testContext(&llmtest.Fake{})

	out, meta, err := c.Invoke(context.Background(), tc, "read_patient_note", map[string]any{"note_id": "n1"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if meta.CostUSD != 0 {
		t.Errorf("reader tool reported cost %v", meta.CostUSD)
	}
	note, ok := out.(map[string]any)
	if !ok || note["text"] != "Patient reports low mood." {
		t.Errorf("Invoke() = %#v", out)
	}
}

func TestInvokeSchemaValidation(t *testing.T) {
	c := mustCatalog(t)
	tc := testContext(&llmtest.Fake{})

	_, _, err := c.Invoke(context.Background(), tc, "read_patient_note", map[string]any{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Invoke() error = %v, want *ValidationError", err)
	}

	_, _, err = c.Invoke(context.Background(), tc, "init_store", map[string]any{
		"name": "s", "type": "queue",
	})
	if !errors.As(err, &verr) {
		t.Errorf("bad enum value error = %v, want *ValidationError", err)
	}
}

func TestDataItemExtraction(t *testing.T) {
	c := mustCatalog(t)

	item, ok := c.DataItem("read_medication", map[string]any{"medication_id": "m2"})
	if !ok {
		t.Fatal("expected data item for read_medication")
	}
	if item.ResourceType != "medication" || item.ResourceID != "m2" {
		t.Errorf("DataItem() = %+v", item)
	}

	if _, ok := c.DataItem("get_diagnoses", map[string]any{}); ok {
		t.Error("get_diagnoses should not declare a data item")
	}
}

func TestAnalyzeSpanTool(t *testing.T) {
	c := mustCatalog(t)
	fake := &llmtest.Fake{
		Queue:        []string{`{"detected": true, "span": "low mood", "reason": "explicit mention"}`},
		PerCallUsage: llm.Usage{InputTokens: 100, OutputTokens: 20, CostUSD: 0.002},
	}
	tc := testContext(fake)

	out, meta, err := c.Invoke(context.Background(), tc, "analyze_note_with_span_and_reason", map[string]any{
		"note_text": "Patient reports low mood.",
		"prompt":    map[string]any{"system_prompt": "Detect depression.", "user_prompt": "Is depression present?"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	result := out.(map[string]any)
	if result["detected"] != true || result["span"] != "low mood" {
		t.Errorf("result = %#v", result)
	}
	if meta.InputTokens != 100 || meta.OutputTokens != 20 {
		t.Errorf("meta = %+v, want llm usage propagated", meta)
	}
}

func TestAnalyzeToolRequiresFilledPrompt(t *testing.T) {
	c := mustCatalog(t)
	tc := testContext(&llmtest.Fake{})

	_, _, err := c.Invoke(context.Background(), tc, "analyze_note", map[string]any{
		"note_text": "x",
		"prompt":    nil,
	})
	var terr *ToolError
	if !errors.As(err, &terr) {
		t.Fatalf("Invoke() error = %v, want *ToolError", err)
	}
}

func TestFilterMedicationsUnsafeExpressionReturnsEmpty(t *testing.T) {
	c := mustCatalog(t)
	// The scripted condition references a forbidden token, so the sandbox
	// rejects it and the tool returns an empty list without raising.
	fake := &llmtest.Fake{Queue: []string{`{"left": "{{medication.pop()}}", "op": "==", "right": "x"}`}}
	tc := testContext(fake)

	meds := []any{map[string]any{"name": "insulin glargine", "route": "subcutaneous"}}
	out, _, err := c.Invoke(context.Background(), tc, "filter_medications", map[string]any{
		"medications": meds,
		"criteria":    "insulin only",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if list := out.([]any); len(list) != 0 {
		t.Errorf("unsafe expression produced %d results, want 0", len(list))
	}
}

func TestFilterMedications(t *testing.T) {
	c := mustCatalog(t)
	fake := &llmtest.Fake{Queue: []string{`{"left": "insulin", "op": "in", "right": "{{medication.name}}"}`}}
	tc := testContext(fake)

	meds := []any{
		map[string]any{"name": "insulin glargine"},
		map[string]any{"name": "lisinopril"},
	}
	out, _, err := c.Invoke(context.Background(), tc, "filter_medications", map[string]any{
		"medications": meds,
		"criteria":    "insulin only",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	list := out.([]any)
	if len(list) != 1 {
		t.Fatalf("filtered %d medications, want 1", len(list))
	}
	if list[0].(map[string]any)["name"] != "insulin glargine" {
		t.Errorf("kept %#v", list[0])
	}
}

func TestWriterToolsReturnStoreOps(t *testing.T) {
	c := mustCatalog(t)
	tc := testContext(&llmtest.Fake{})

	out, _, err := c.Invoke(context.Background(), tc, "init_store", map[string]any{
		"name": "findings", "type": "list",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	op, ok := out.(StoreOp)
	if !ok || op.Kind != StoreOpInit || op.Store != "findings" || op.Type != StoreList {
		t.Errorf("init_store returned %#v", out)
	}
}
