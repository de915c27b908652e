package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Reader tools return raw data from the record store. They never touch the
// variable store except through their declared output binding.

type notesIDsTool struct{}

// NewNotesIDsTool lists the ids of every note in the encounter.
func NewNotesIDsTool() Tool { return notesIDsTool{} }

func (notesIDsTool) Spec() Spec {
	return Spec{
		Name:        "get_patient_notes_ids",
		Category:    "notes",
		Role:        RoleReader,
		Description: "List the ids of all clinical notes in the current encounter.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {},
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "array",
			"items": {"type": "string"}
		}`),
	}
}

func (notesIDsTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	enc, err := tc.Records.Encounter(ctx, tc.Dataset, tc.MRN, tc.CSN)
	if err != nil {
		return nil, CallMeta{}, err
	}
	ids := make([]any, 0, len(enc.Notes))
	for _, n := range enc.Notes {
		ids = append(ids, n.ID)
	}
	return ids, CallMeta{}, nil
}

type readNoteTool struct{}

// NewReadNoteTool reads one note by id.
func NewReadNoteTool() Tool { return readNoteTool{} }

func (readNoteTool) Spec() Spec {
	return Spec{
		Name:        "read_patient_note",
		Category:    "notes",
		Role:        RoleReader,
		Description: "Read a single clinical note by id, returning its type and full text.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"note_id": {"type": "string"}
			},
			"required": ["note_id"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"type": {"type": "string"},
				"text": {"type": "string"}
			}
		}`),
	}
}

func (readNoteTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	noteID, err := inputString(inputs, "note_id")
	if err != nil {
		return nil, CallMeta{}, err
	}
	enc, err := tc.Records.Encounter(ctx, tc.Dataset, tc.MRN, tc.CSN)
	if err != nil {
		return nil, CallMeta{}, err
	}
	note := enc.Note(noteID)
	if note == nil {
		return nil, CallMeta{}, fmt.Errorf("note %q not found in encounter %s", noteID, tc.CSN)
	}
	return map[string]any{
		"id":   note.ID,
		"type": note.Type,
		"text": note.Text,
	}, CallMeta{}, nil
}

// DataItem implements DataItemExtractor: the call targets the note it reads.
func (readNoteTool) DataItem(inputs map[string]any) (DataItem, bool) {
	id, _ := inputs["note_id"].(string)
	if id == "" {
		return DataItem{}, false
	}
	return DataItem{ResourceType: "note", ResourceID: id, Status: "read"}, true
}

type medicationsTool struct{}

// NewMedicationsTool lists every medication order in the encounter.
func NewMedicationsTool() Tool { return medicationsTool{} }

func (medicationsTool) Spec() Spec {
	return Spec{
		Name:        "get_medications",
		Category:    "medications",
		Role:        RoleReader,
		Description: "List all medication orders in the current encounter.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {},
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "array",
			"items": {"type": "object"}
		}`),
	}
}

func (medicationsTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	enc, err := tc.Records.Encounter(ctx, tc.Dataset, tc.MRN, tc.CSN)
	if err != nil {
		return nil, CallMeta{}, err
	}
	return toJSONValue(enc.Medications)
}

type readMedicationTool struct{}

// NewReadMedicationTool reads one medication order by id.
func NewReadMedicationTool() Tool { return readMedicationTool{} }

func (readMedicationTool) Spec() Spec {
	return Spec{
		Name:        "read_medication",
		Category:    "medications",
		Role:        RoleReader,
		Description: "Read a single medication order by id.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"medication_id": {"type": "string"}
			},
			"required": ["medication_id"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (readMedicationTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	medID, err := inputString(inputs, "medication_id")
	if err != nil {
		return nil, CallMeta{}, err
	}
	enc, err := tc.Records.Encounter(ctx, tc.Dataset, tc.MRN, tc.CSN)
	if err != nil {
		return nil, CallMeta{}, err
	}
	med := enc.Medication(medID)
	if med == nil {
		return nil, CallMeta{}, fmt.Errorf("medication %q not found in encounter %s", medID, tc.CSN)
	}
	return toJSONValue(med)
}

// DataItem implements DataItemExtractor.
func (readMedicationTool) DataItem(inputs map[string]any) (DataItem, bool) {
	id, _ := inputs["medication_id"].(string)
	if id == "" {
		return DataItem{}, false
	}
	return DataItem{ResourceType: "medication", ResourceID: id, Status: "read"}, true
}

type diagnosesTool struct{}

// NewDiagnosesTool lists every coded diagnosis in the encounter.
func NewDiagnosesTool() Tool { return diagnosesTool{} }

func (diagnosesTool) Spec() Spec {
	return Spec{
		Name:        "get_diagnoses",
		Category:    "diagnoses",
		Role:        RoleReader,
		Description: "List all coded diagnoses in the current encounter.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {},
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "array",
			"items": {"type": "object"}
		}`),
	}
}

func (diagnosesTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	enc, err := tc.Records.Encounter(ctx, tc.Dataset, tc.MRN, tc.CSN)
	if err != nil {
		return nil, CallMeta{}, err
	}
	return toJSONValue(enc.Diagnoses)
}

type flowsheetsTool struct{}

// NewFlowsheetsTool returns the stored per-timestamp flowsheet instances.
// The record already keeps flowsheets in instance form; this serves the
// stored rows rather than recomputing them.
func NewFlowsheetsTool() Tool { return flowsheetsTool{} }

func (flowsheetsTool) Spec() Spec {
	return Spec{
		Name:        "get_flowsheets",
		Category:    "flowsheets",
		Role:        RoleReader,
		Description: "List timestamped flowsheet measurement instances for the current encounter.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"measurement_id": {"type": "string"}
			},
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "array",
			"items": {"type": "object"}
		}`),
	}
}

func (flowsheetsTool) Execute(ctx context.Context, tc *Context, inputs map[string]any) (any, CallMeta, error) {
	enc, err := tc.Records.Encounter(ctx, tc.Dataset, tc.MRN, tc.CSN)
	if err != nil {
		return nil, CallMeta{}, err
	}
	measurementID, _ := inputs["measurement_id"].(string)
	rows := enc.FlowsheetsInstances
	if measurementID != "" {
		filtered := rows[:0:0]
		for _, r := range rows {
			if r.MeasurementID == measurementID {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	return toJSONValue(rows)
}

// toJSONValue round-trips a typed value into plain JSON types so template
// rendering sees maps and lists.
func toJSONValue(v any) (any, CallMeta, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, CallMeta{}, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, CallMeta{}, err
	}
	if out == nil {
		out = []any{}
	}
	return out, CallMeta{}, nil
}
