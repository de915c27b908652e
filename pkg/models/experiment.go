package models

import "time"

// ExperimentState is the lifecycle state of an experiment run.
type ExperimentState string

const (
	ExperimentPending         ExperimentState = "pending"
	ExperimentRunning         ExperimentState = "running"
	ExperimentCompleted       ExperimentState = "completed"
	ExperimentPartialComplete ExperimentState = "partial_complete"
	ExperimentFailed          ExperimentState = "failed"
)

// Terminal reports whether the state is final.
func (s ExperimentState) Terminal() bool {
	switch s {
	case ExperimentCompleted, ExperimentPartialComplete, ExperimentFailed:
		return true
	}
	return false
}

// Experiment is the metadata record of one workflow fan-out across a
// cohort. Results and status live in sibling files and are updated
// incrementally while the run progresses.
type Experiment struct {
	Name             string    `json:"name"`
	ProjectName      string    `json:"project_name"`
	WorkflowName     string    `json:"workflow_name"`
	DatasetName      string    `json:"dataset_name"`
	CreatedDate      time.Time `json:"created_date"`
	LastModifiedDate time.Time `json:"last_modified_date"`
	TotalPatients    int       `json:"total_patients"`
	TotalEncounters  int       `json:"total_encounters"`
}

// ExperimentResults accumulates the fan-out output. Definitions are
// deduplicated by id; values stream in one patient at a time.
type ExperimentResults struct {
	OutputDefinitions []OutputDefinition `json:"output_definitions"`
	OutputValues      []OutputValue      `json:"output_values"`
}

// OutputValue is one typed result row, tied to its definition and to the
// resource (typically a note) it was derived from.
type OutputValue struct {
	ID                 string         `json:"id"`
	OutputDefinitionID string         `json:"output_definition_id"`
	ResourceID         string         `json:"resource_id,omitempty"`
	Values             map[string]any `json:"values"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// ExperimentProgress tracks per-patient completion counters.
// processed_count + failed_count never exceeds total_patients, and equals
// it once the run reaches a terminal state.
type ExperimentProgress struct {
	TotalPatients     int    `json:"total_patients"`
	ProcessedCount    int    `json:"processed_count"`
	FailedCount       int    `json:"failed_count"`
	CurrentPatientMRN string `json:"current_patient_mrn,omitempty"`
}

// ExperimentError records one isolated per-patient failure.
type ExperimentError struct {
	MRN     string    `json:"mrn,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ExperimentStatus is the live status record persisted to status.json.
type ExperimentStatus struct {
	Status             ExperimentState    `json:"status"`
	Progress           ExperimentProgress `json:"progress"`
	StartedAt          *time.Time         `json:"started_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	TotalFlagsDetected int                `json:"total_flags_detected"`
	Errors             []ExperimentError  `json:"errors"`
}
