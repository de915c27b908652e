package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

const sampleWorkflowJSON = `{
  "steps": [
    {
      "id": "get_notes",
      "type": "tool",
      "step_summary": "List note ids",
      "tool": "get_patient_notes_ids",
      "inputs": {},
      "output": "note_ids"
    },
    {
      "id": "note_loop",
      "type": "loop",
      "for": "note_id",
      "in": "note_ids",
      "output_dict": "note_results",
      "body": [
        {
          "id": "read_note",
          "type": "tool",
          "tool": "read_patient_note",
          "inputs": {"note_id": "{{note_id}}"},
          "output": "note"
        },
        {
          "id": "analyze",
          "type": "tool",
          "tool": "analyze_note_with_span_and_reason",
          "inputs": {"note_text": "{{note.text}}", "prompt": null},
          "output": "analysis"
        }
      ]
    },
    {
      "id": "check",
      "type": "if",
      "condition": {"left": "{{len(note_ids)}}", "op": ">", "right": 0},
      "then": [
        {"id": "flag", "type": "flag_variable", "variable": "has_notes", "value": true}
      ]
    }
  ]
}`

func TestWorkflowRoundTrip(t *testing.T) {
	var w Workflow
	if err := json.Unmarshal([]byte(sampleWorkflowJSON), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	data, err := json.Marshal(&w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var again Workflow
	if err := json.Unmarshal(data, &again); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if !reflect.DeepEqual(w, again) {
		t.Errorf("round trip not structurally equal\nfirst:  %+v\nsecond: %+v", w, again)
	}

	// Loop keys must keep their aliased names.
	if !strings.Contains(string(data), `"for":"note_id"`) {
		t.Errorf("serialized loop missing aliased for key: %s", data)
	}
	if !strings.Contains(string(data), `"in":"note_ids"`) {
		t.Errorf("serialized loop missing aliased in key: %s", data)
	}
}

func TestWorkflowNullPromptSurvivesRoundTrip(t *testing.T) {
	var w Workflow
	if err := json.Unmarshal([]byte(sampleWorkflowJSON), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, err := json.Marshal(&w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"prompt":null`) {
		t.Errorf("null prompt dropped from serialized workflow: %s", data)
	}
}

func TestEmptyInputsNormalizedToNil(t *testing.T) {
	raw := `{"id":"s1","type":"tool","tool":"get_patient_notes_ids","inputs":{},"output":"ids"}`
	var s Step
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Inputs != nil {
		t.Errorf("empty inputs parsed as %#v, want nil", s.Inputs)
	}
	data, err := json.Marshal(&s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "inputs") {
		t.Errorf("empty inputs not omitted on serialize: %s", data)
	}
}

func TestStepListAcceptsSingleObject(t *testing.T) {
	raw := `{"id":"s1","type":"if","condition":{"expr":"{{flag}}"},"then":{"id":"s2","type":"flag_variable","variable":"x","value":false}}`
	var s Step
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(s.Then) != 1 || s.Then[0].ID != "s2" {
		t.Fatalf("expected single then step, got %+v", s.Then)
	}
	if s.Then[0].Value == nil || *s.Then[0].Value != false {
		t.Errorf("flag value false not preserved: %+v", s.Then[0].Value)
	}
}

func TestWalkVisitsNestedSteps(t *testing.T) {
	var w Workflow
	if err := json.Unmarshal([]byte(sampleWorkflowJSON), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ids := w.StepIDs()
	want := []string{"get_notes", "note_loop", "read_note", "analyze", "check", "flag"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("walk order = %v, want %v", ids, want)
	}
	if n := w.CountSteps("analyze_note_with_span_and_reason"); n != 1 {
		t.Errorf("CountSteps = %d, want 1", n)
	}
}

func TestConditionKind(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		want    string
		wantErr bool
	}{
		{"simple", Condition{Expr: "{{x}}"}, "simple", false},
		{"comparison", Condition{Left: "a", Op: "==", Right: "b"}, "comparison", false},
		{"and", Condition{And: []Condition{{Expr: "{{x}}"}}}, "and", false},
		{"not", Condition{Not: &Condition{Expr: "{{x}}"}}, "not", false},
		{"empty", Condition{}, "", true},
		{"mixed", Condition{Expr: "{{x}}", Op: "=="}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Kind()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Kind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}
