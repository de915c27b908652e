package models

import "time"

// Patient is a single medical record, identified by MRN. The record is
// read-only from the engine's perspective: tools read from it, nothing
// writes back.
type Patient struct {
	MRN        string      `json:"mrn"`
	Name       string      `json:"name,omitempty"`
	BirthDate  string      `json:"birth_date,omitempty"`
	Encounters []Encounter `json:"encounters"`
}

// Encounter is one hospital visit. (MRN, CSN) uniquely identifies an
// encounter; resource ids are unique within an encounter per resource type.
type Encounter struct {
	CSN                 string              `json:"csn"`
	AdmissionDate       string              `json:"admission_date,omitempty"`
	DischargeDate       string              `json:"discharge_date,omitempty"`
	Notes               []Note              `json:"notes"`
	Medications         []Medication        `json:"medications"`
	Diagnoses           []Diagnosis         `json:"diagnoses"`
	FlowsheetsInstances []FlowsheetInstance `json:"flowsheets_instances"`
}

// Note is a clinical note attached to an encounter.
type Note struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Medication is a medication order within an encounter.
type Medication struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Order string   `json:"order,omitempty"`
	Dose  string   `json:"dose,omitempty"`
	Route string   `json:"route,omitempty"`
	Times []string `json:"times,omitempty"`
}

// Diagnosis is a coded diagnosis within an encounter.
type Diagnosis struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Chronicity string `json:"chronicity,omitempty"`
}

// FlowsheetInstance is one timestamped measurement row. The canonical
// record stores flowsheets already grouped into per-timestamp instances;
// readers serve this stored form as-is.
type FlowsheetInstance struct {
	Timestamp     time.Time `json:"timestamp"`
	MeasurementID string    `json:"measurement_id"`
	DisplayName   string    `json:"display_name"`
	Value         string    `json:"value"`
}

// PatientSummary is the listing view of a patient: identity plus counts,
// without the full encounter payload.
type PatientSummary struct {
	MRN            string `json:"mrn"`
	Name           string `json:"name,omitempty"`
	EncounterCount int    `json:"encounter_count"`
	NoteCount      int    `json:"note_count"`
}

// DatasetMeta describes a patient cohort on disk.
type DatasetMeta struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	PatientCount int    `json:"patient_count"`
}

// Summary produces the listing view of a patient.
func (p *Patient) Summary() PatientSummary {
	notes := 0
	for _, enc := range p.Encounters {
		notes += len(enc.Notes)
	}
	return PatientSummary{
		MRN:            p.MRN,
		Name:           p.Name,
		EncounterCount: len(p.Encounters),
		NoteCount:      notes,
	}
}

// Encounter returns the encounter with the given CSN, or nil.
func (p *Patient) Encounter(csn string) *Encounter {
	for i := range p.Encounters {
		if p.Encounters[i].CSN == csn {
			return &p.Encounters[i]
		}
	}
	return nil
}

// Note returns the note with the given id, or nil.
func (e *Encounter) Note(id string) *Note {
	for i := range e.Notes {
		if e.Notes[i].ID == id {
			return &e.Notes[i]
		}
	}
	return nil
}

// Medication returns the medication with the given id, or nil.
func (e *Encounter) Medication(id string) *Medication {
	for i := range e.Medications {
		if e.Medications[i].ID == id {
			return &e.Medications[i]
		}
	}
	return nil
}
