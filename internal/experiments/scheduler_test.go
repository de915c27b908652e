package experiments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chartflow/chartflow/internal/executor"
	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/llm/llmtest"
	"github.com/chartflow/chartflow/internal/store"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

func screeningWorkflow() models.Workflow {
	return models.Workflow{Steps: []models.Step{
		{ID: "get_notes", Type: models.StepTool, Tool: "get_patient_notes_ids", Output: "note_ids"},
		{
			ID: "note_loop", Type: models.StepLoop, For: "note_id", In: "note_ids",
			Body: []models.Step{
				{ID: "read_note", Type: models.StepTool, Tool: "read_patient_note", Output: "note",
					Inputs: map[string]any{"note_id": "{{note_id}}"}},
				{ID: "analyze", Type: models.StepTool, Tool: "analyze_note_with_span_and_reason", Output: "finding",
					StepSummary: "Screen the note for depression",
					Inputs: map[string]any{
						"note_text": "{{note.text}}",
						"prompt": map[string]any{
							"system_prompt": "You screen clinical notes for depression.",
							"user_prompt":   "Does this note document depression?",
						},
					}},
			},
		},
	}}
}

func note(id, text string) models.Note {
	return models.Note{ID: id, Type: "progress", Text: text}
}

// testCohort has three patients; mrn-3 has no encounters and must fail
// without stopping the run.
func testCohort() []models.Patient {
	return []models.Patient{
		{MRN: "mrn-1", Encounters: []models.Encounter{{
			CSN:   "csn-1",
			Notes: []models.Note{note("n1", "Patient reports low mood."), note("n2", "Stable today.")},
		}}},
		{MRN: "mrn-2", Encounters: []models.Encounter{{
			CSN:   "csn-2",
			Notes: []models.Note{note("n3", "Sleeping poorly, appetite down.")},
		}}},
		{MRN: "mrn-3"},
	}
}

func testScheduler(t *testing.T, fake *llmtest.Fake, opts ...Option) (*Scheduler, *store.Registry) {
	t.Helper()
	reg, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := reg.Datasets().WriteDataset(models.DatasetMeta{Name: "cohort"}, testCohort()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Projects().Save(&models.Project{Name: "proj", Owner: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Plans().Save(&models.Plan{Name: "screen", Owner: "alice", Workflow: screeningWorkflow()}); err != nil {
		t.Fatal(err)
	}

	catalog, err := tools.NewDefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	return NewScheduler(reg, executor.New(catalog), fake, opts...), reg
}

func TestRunCohortWithOneEmptyPatient(t *testing.T) {
	// Calls arrive in dataset order: two notes for mrn-1, one for
	// mrn-2. Two findings are positive.
	fake := &llmtest.Fake{
		Queue: []string{
			`{"detected": true, "span": "low mood", "reason": "explicit mention"}`,
			`{"detected": false, "span": "", "reason": ""}`,
			`{"detected": true, "span": "sleeping poorly", "reason": "neurovegetative signs"}`,
		},
		PerCallUsage: llm.Usage{CostUSD: 0.001, InputTokens: 10, OutputTokens: 5},
	}
	sched, reg := testScheduler(t, fake)

	exp, err := sched.Submit(context.Background(), SubmitRequest{
		Name: "exp-1", ProjectName: "proj", WorkflowName: "screen", DatasetName: "cohort",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if exp.TotalPatients != 3 || exp.TotalEncounters != 2 {
		t.Errorf("metadata = %+v", exp)
	}
	sched.Wait()

	st, err := reg.Experiments().Status("exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != models.ExperimentPartialComplete {
		t.Errorf("status = %q, want partial_complete", st.Status)
	}
	if st.Progress.ProcessedCount != 2 || st.Progress.FailedCount != 1 {
		t.Errorf("progress = %+v", st.Progress)
	}
	if st.TotalFlagsDetected != 2 {
		t.Errorf("total_flags_detected = %d, want 2", st.TotalFlagsDetected)
	}
	if st.StartedAt == nil || st.CompletedAt == nil {
		t.Error("started_at/completed_at not set")
	}
	if len(st.Errors) != 1 {
		t.Fatalf("errors = %+v, want one entry", st.Errors)
	}
	if st.Errors[0].MRN != "mrn-3" || !strings.Contains(st.Errors[0].Message, "No encounters found") {
		t.Errorf("error entry = %+v", st.Errors[0])
	}

	meta, err := reg.Experiments().Metadata("exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if !meta.LastModifiedDate.After(meta.CreatedDate) {
		t.Errorf("last_modified_date %v not advanced past created_date %v",
			meta.LastModifiedDate, meta.CreatedDate)
	}

	res, err := reg.Experiments().Results("exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.OutputDefinitions) != 1 || res.OutputDefinitions[0].ID != "out_analyze" {
		t.Errorf("definitions = %+v", res.OutputDefinitions)
	}
	if len(res.OutputValues) != 3 {
		t.Errorf("values = %d, want 3 (one per note)", len(res.OutputValues))
	}
}

func TestRunAllPatientsFailing(t *testing.T) {
	// Every analysis errors, so every patient with encounters fails
	// and the run lands on failed.
	fake := &llmtest.Fake{
		Handler: func(req *llm.Request) (string, error) {
			return "", errors.New("model unavailable")
		},
	}
	sched, reg := testScheduler(t, fake)

	if _, err := sched.Submit(context.Background(), SubmitRequest{
		Name: "exp-1", ProjectName: "proj", WorkflowName: "screen", DatasetName: "cohort",
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	sched.Wait()

	st, err := reg.Experiments().Status("exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != models.ExperimentFailed {
		t.Errorf("status = %q, want failed", st.Status)
	}
	if st.Progress.FailedCount != 3 || st.Progress.ProcessedCount != 0 {
		t.Errorf("progress = %+v", st.Progress)
	}
}

func TestSubmitRejectsDuplicateName(t *testing.T) {
	sched, _ := testScheduler(t, &llmtest.Fake{Queue: []string{
		`{"detected": false}`, `{"detected": false}`, `{"detected": false}`,
	}})
	req := SubmitRequest{Name: "exp-1", ProjectName: "proj", WorkflowName: "screen", DatasetName: "cohort"}

	if _, err := sched.Submit(context.Background(), req); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if _, err := sched.Submit(context.Background(), req); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("second Submit() error = %v, want ErrDuplicateName", err)
	}
	sched.Wait()
}

func TestSubmitEnforcesAccess(t *testing.T) {
	sched, _ := testScheduler(t, &llmtest.Fake{})
	outsider := &models.User{Username: "mallory"}

	_, err := sched.Submit(context.Background(), SubmitRequest{
		Name: "exp-1", ProjectName: "proj", WorkflowName: "screen", DatasetName: "cohort",
		User: outsider,
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Submit() error = %v, want ErrAccessDenied", err)
	}

	owner := &models.User{Username: "alice", AllowedDatasets: []string{"cohort"}}
	_, err = sched.Submit(context.Background(), SubmitRequest{
		Name: "exp-1", ProjectName: "proj", WorkflowName: "screen", DatasetName: "other",
		User: owner,
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("dataset Submit() error = %v, want ErrAccessDenied", err)
	}
}

func TestSubmitChecksWorkflowShape(t *testing.T) {
	sched, reg := testScheduler(t, &llmtest.Fake{}, WithExpectedAnalyzeSteps(2))

	_, err := sched.Submit(context.Background(), SubmitRequest{
		Name: "exp-1", ProjectName: "proj", WorkflowName: "screen", DatasetName: "cohort",
	})
	if err == nil || !strings.Contains(err.Error(), "analyze_note_with_span_and_reason") {
		t.Errorf("Submit() error = %v, want shape mismatch", err)
	}
	if reg.Experiments().Exists("exp-1") {
		t.Error("rejected experiment was persisted")
	}
}

func TestSubmitRestrictsCohortToRequestedMRNs(t *testing.T) {
	fake := &llmtest.Fake{
		Queue:        []string{`{"detected": true, "span": "s", "reason": "r"}`},
		PerCallUsage: llm.Usage{CostUSD: 0.001, InputTokens: 10, OutputTokens: 5},
	}
	sched, reg := testScheduler(t, fake)

	exp, err := sched.Submit(context.Background(), SubmitRequest{
		Name: "exp-1", ProjectName: "proj", WorkflowName: "screen", DatasetName: "cohort",
		MRNs: []string{"mrn-2"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if exp.TotalPatients != 1 {
		t.Errorf("TotalPatients = %d, want 1", exp.TotalPatients)
	}
	sched.Wait()

	st, err := reg.Experiments().Status("exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != models.ExperimentCompleted || st.Progress.ProcessedCount != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.TotalFlagsDetected != 1 {
		t.Errorf("total_flags_detected = %d, want 1", st.TotalFlagsDetected)
	}
}
