// Package experiments runs a saved workflow across every patient in a
// dataset, streaming results and status to the experiment store as it
// goes. Patients are isolated: one failing never aborts the run.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/chartflow/chartflow/internal/auth"
	"github.com/chartflow/chartflow/internal/executor"
	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/observability"
	"github.com/chartflow/chartflow/internal/store"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

var (
	ErrDuplicateName = errors.New("experiment name already exists")
	ErrAccessDenied  = errors.New("access denied")
)

// analyzeTool is the step the workflow shape check counts.
const analyzeTool = "analyze_note_with_span_and_reason"

// Scheduler validates experiment submissions and fans workflow runs out
// across a cohort in the background.
type Scheduler struct {
	registry *store.Registry
	exec     *executor.Executor
	llm      llm.Client
	logger   *slog.Logger
	tracer   oteltrace.Tracer
	metrics  *observability.Metrics

	// expectedAnalyzeSteps gates submission on the workflow containing
	// exactly this many analyze steps. Zero disables the check.
	expectedAnalyzeSteps int

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithExpectedAnalyzeSteps enables the workflow shape check.
func WithExpectedAnalyzeSteps(n int) Option {
	return func(s *Scheduler) { s.expectedAnalyzeSteps = n }
}

// NewScheduler wires a scheduler to its stores and executor.
func NewScheduler(registry *store.Registry, exec *executor.Executor, client llm.Client, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		exec:     exec,
		llm:      client,
		logger:   slog.Default(),
		tracer:   otel.Tracer("chartflow/experiments"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest names the workflow to run and the cohort to run it over.
type SubmitRequest struct {
	Name         string   `json:"name"`
	ProjectName  string   `json:"project_name"`
	WorkflowName string   `json:"workflow_name"`
	DatasetName  string   `json:"dataset_name"`

	// MRNs restricts the cohort; empty means every patient in the
	// dataset.
	MRNs []string `json:"mrns,omitempty"`

	// User is the submitter; nil skips access checks for internal
	// callers.
	User *models.User `json:"-"`
}

// Submit validates a request, persists the pending experiment, and
// starts the run in the background. Validation failures surface
// synchronously; execution failures land in the status record.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*models.Experiment, error) {
	if req.Name == "" {
		return nil, errors.New("experiment name required")
	}
	if s.registry.Experiments().Exists(req.Name) {
		return nil, fmt.Errorf("experiment %q: %w", req.Name, ErrDuplicateName)
	}

	project, err := s.registry.Projects().Get(req.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", req.ProjectName, err)
	}
	if req.User != nil && !auth.CanAccessProject(req.User, project) {
		return nil, fmt.Errorf("project %q: %w", req.ProjectName, ErrAccessDenied)
	}
	if req.User != nil && !auth.CanAccessDataset(req.User, req.DatasetName) {
		return nil, fmt.Errorf("dataset %q: %w", req.DatasetName, ErrAccessDenied)
	}

	plan, err := s.registry.Plans().Get(req.WorkflowName)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", req.WorkflowName, err)
	}
	if s.expectedAnalyzeSteps > 0 {
		if n := plan.Workflow.CountSteps(analyzeTool); n != s.expectedAnalyzeSteps {
			return nil, fmt.Errorf("workflow %q has %d %s steps, want %d",
				req.WorkflowName, n, analyzeTool, s.expectedAnalyzeSteps)
		}
	}

	summaries, err := s.registry.Datasets().Patients(ctx, req.DatasetName)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", req.DatasetName, err)
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("dataset %q has no patients", req.DatasetName)
	}

	cohort, totalEncounters := buildCohort(summaries, req.MRNs)
	if len(cohort) == 0 {
		return nil, fmt.Errorf("none of the requested mrns are in dataset %q", req.DatasetName)
	}

	now := time.Now().UTC()
	exp := &models.Experiment{
		Name:             req.Name,
		ProjectName:      req.ProjectName,
		WorkflowName:     req.WorkflowName,
		DatasetName:      req.DatasetName,
		CreatedDate:      now,
		LastModifiedDate: now,
		TotalPatients:    len(cohort),
		TotalEncounters:  totalEncounters,
	}
	status := &models.ExperimentStatus{
		Status:   models.ExperimentPending,
		Progress: models.ExperimentProgress{TotalPatients: len(cohort)},
		Errors:   []models.ExperimentError{},
	}
	if err := s.registry.Experiments().Create(exp, status); err != nil {
		return nil, err
	}

	wf, err := plan.Workflow.Clone()
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", req.WorkflowName, err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), req.Name, req.DatasetName, wf, cohort)
	}()
	return exp, nil
}

// Wait blocks until every background run finishes.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// buildCohort keeps dataset order and counts encounters. MRNs absent
// from the dataset are kept so the run records a per-patient error for
// them instead of silently dropping them.
func buildCohort(summaries []models.PatientSummary, mrns []string) ([]string, int) {
	counts := make(map[string]int, len(summaries))
	for _, sum := range summaries {
		counts[sum.MRN] = sum.EncounterCount
	}
	if len(mrns) == 0 {
		cohort := make([]string, 0, len(summaries))
		total := 0
		for _, sum := range summaries {
			cohort = append(cohort, sum.MRN)
			total += sum.EncounterCount
		}
		return cohort, total
	}
	cohort := make([]string, 0, len(mrns))
	total := 0
	seen := map[string]bool{}
	for _, mrn := range mrns {
		if seen[mrn] {
			continue
		}
		seen[mrn] = true
		cohort = append(cohort, mrn)
		total += counts[mrn]
	}
	return cohort, total
}

func (s *Scheduler) run(ctx context.Context, name, dataset string, wf *models.Workflow, cohort []string) {
	ctx, span := s.tracer.Start(ctx, "experiment.run")
	defer span.End()

	exps := s.registry.Experiments()
	startedAt := time.Now().UTC()
	if _, err := exps.UpdateStatus(name, map[string]any{
		"status":     string(models.ExperimentRunning),
		"started_at": startedAt.Format(time.RFC3339Nano),
	}); err != nil {
		s.logger.Error("experiment status write failed", "experiment", name, "error", err)
		return
	}
	s.logger.Info("experiment started", "experiment", name, "dataset", dataset, "patients", len(cohort))

	processed, failed, flags := 0, 0, 0
	for _, mrn := range cohort {
		if _, err := exps.UpdateStatus(name, map[string]any{
			"progress.current_patient_mrn": mrn,
		}); err != nil {
			s.logger.Error("experiment status write failed", "experiment", name, "error", err)
		}

		detected, err := s.runPatient(ctx, name, dataset, mrn, wf)
		if err != nil {
			failed++
			s.recordFailure(name, mrn, err, failed)
			s.countPatient("failed")
			s.logger.Warn("patient failed", "experiment", name, "mrn", mrn, "error", err)
			continue
		}
		processed++
		flags += detected
		s.countPatient("processed")
		if _, err := exps.UpdateStatus(name, map[string]any{
			"progress.processed_count": processed,
			"total_flags_detected":     flags,
		}); err != nil {
			s.logger.Error("experiment status write failed", "experiment", name, "error", err)
		}
	}

	terminal := models.ExperimentCompleted
	switch {
	case processed == 0:
		terminal = models.ExperimentFailed
	case failed > 0:
		terminal = models.ExperimentPartialComplete
	}
	if _, err := exps.UpdateStatus(name, map[string]any{
		"status":                       string(terminal),
		"completed_at":                 time.Now().UTC().Format(time.RFC3339Nano),
		"progress.current_patient_mrn": "",
	}); err != nil {
		s.logger.Error("experiment status write failed", "experiment", name, "error", err)
	}
	if meta, err := exps.Metadata(name); err == nil {
		meta.LastModifiedDate = time.Now().UTC()
		if err := exps.SaveMetadata(meta); err != nil {
			s.logger.Error("experiment metadata write failed", "experiment", name, "error", err)
		}
	} else {
		s.logger.Error("experiment metadata read failed", "experiment", name, "error", err)
	}
	exps.Invalidate()
	if s.metrics != nil {
		s.metrics.ExperimentsTotal.WithLabelValues(string(terminal)).Inc()
	}
	s.logger.Info("experiment finished", "experiment", name, "status", string(terminal),
		"processed", processed, "failed", failed, "flags", flags)
}

// runPatient executes the workflow over the patient's first encounter
// and appends its output. Returns the number of detected flags.
func (s *Scheduler) runPatient(ctx context.Context, name, dataset, mrn string, wf *models.Workflow) (int, error) {
	patient, err := s.registry.Datasets().Patient(ctx, dataset, mrn)
	if err != nil {
		return 0, err
	}
	if len(patient.Encounters) == 0 {
		return 0, fmt.Errorf("No encounters found for patient %s", mrn)
	}
	enc := &patient.Encounters[0]

	tc := &tools.Context{
		Records: s.registry.Datasets(),
		LLM:     s.llm,
		Dataset: dataset,
		MRN:     mrn,
		CSN:     enc.CSN,
	}
	result, err := s.exec.Run(ctx, wf, tc, nil)
	if err != nil {
		return 0, err
	}
	if err := s.registry.Experiments().AppendResults(name, result.OutputDefinitions, result.OutputValues); err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.LLMCostUSD.Add(result.TotalCostUSD)
		s.metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(result.TotalInputTokens))
		s.metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(result.TotalOutputTokens))
	}

	detected := 0
	for _, v := range result.OutputValues {
		if d, ok := v.Values["detected"].(bool); ok && d {
			detected++
		}
	}
	return detected, nil
}

// recordFailure appends an error entry and bumps the failed count. The
// scheduler is the only status writer while a run is live, so the
// read-modify-write is safe.
func (s *Scheduler) recordFailure(name, mrn string, cause error, failed int) {
	exps := s.registry.Experiments()
	st, err := exps.Status(name)
	if err != nil {
		s.logger.Error("experiment status read failed", "experiment", name, "error", err)
		return
	}
	st.Errors = append(st.Errors, models.ExperimentError{
		MRN:     mrn,
		Message: cause.Error(),
		At:      time.Now().UTC(),
	})
	st.Progress.FailedCount = failed
	if err := exps.SaveStatus(name, st); err != nil {
		s.logger.Error("experiment status write failed", "experiment", name, "error", err)
	}
}

func (s *Scheduler) countPatient(result string) {
	if s.metrics != nil {
		s.metrics.ExperimentPatientsTotal.WithLabelValues(result).Inc()
	}
}
