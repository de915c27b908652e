// Package executor interprets a validated workflow against one patient
// encounter. It owns the scoped variable store and the named-store
// registry, renders templated inputs through the sandbox, and produces an
// immutable result envelope of output definitions and values.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chartflow/chartflow/internal/template"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

// ExecutionError tags a failure with the step where it occurred.
type ExecutionError struct {
	StepID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %q: %v", e.StepID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TypeError reports a loop source that did not produce a list.
type TypeError struct {
	StepID string
	Msg    string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("step %q: %s", e.StepID, e.Msg)
}

// Result is the envelope one run returns.
type Result struct {
	MRN               string                    `json:"mrn"`
	CSN               string                    `json:"csn"`
	OutputDefinitions []models.OutputDefinition `json:"output_definitions"`
	OutputValues      []models.OutputValue      `json:"output_values"`

	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
}

// Executor interprets workflows. It is stateless across runs and safe for
// concurrent use; per-run state lives in a run value.
type Executor struct {
	catalog *tools.Catalog
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New builds an Executor over a tool catalog.
func New(catalog *tools.Catalog, opts ...Option) *Executor {
	e := &Executor{catalog: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the mutable state of one workflow execution.
type run struct {
	exec   *Executor
	tc     *tools.Context
	scopes *Scopes
	stores map[string]*storeValue

	observations []observation
	cost         tools.CallMeta
}

// observation is one compute-step execution, kept so output values can be
// derived when the workflow declares no explicit mappings.
type observation struct {
	defID      string
	resourceID string
	values     map[string]any
}

// Run executes the workflow for the encounter named by the tool context.
// initialVars supplements the base scope; mrn and csn are always bound.
func (e *Executor) Run(ctx context.Context, w *models.Workflow, tc *tools.Context, initialVars map[string]any) (*Result, error) {
	base := map[string]any{"mrn": tc.MRN, "csn": tc.CSN}
	for k, v := range initialVars {
		base[k] = v
	}

	r := &run{
		exec:   e,
		tc:     tc,
		scopes: NewScopes(base),
		stores: map[string]*storeValue{},
	}

	e.logger.Debug("workflow run starting",
		"mrn", tc.MRN, "csn", tc.CSN, "steps", len(w.Steps))

	if err := r.block(ctx, w.Steps); err != nil {
		return nil, err
	}

	result := &Result{
		MRN:               tc.MRN,
		CSN:               tc.CSN,
		OutputDefinitions: e.deriveDefinitions(w),
		OutputValues:      r.materializeValues(w),
		TotalCostUSD:      r.cost.CostUSD,
		TotalInputTokens:  r.cost.InputTokens,
		TotalOutputTokens: r.cost.OutputTokens,
	}
	e.logger.Debug("workflow run finished",
		"mrn", tc.MRN, "values", len(result.OutputValues), "cost_usd", result.TotalCostUSD)
	return result, nil
}

func (r *run) block(ctx context.Context, steps []models.Step) error {
	for i := range steps {
		if err := r.step(ctx, &steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) step(ctx context.Context, s *models.Step) error {
	var err error
	switch s.Type {
	case models.StepTool:
		err = r.toolStep(ctx, s)
	case models.StepLoop:
		err = r.loopStep(ctx, s)
	case models.StepIf:
		err = r.ifStep(ctx, s)
	case models.StepFlagVariable:
		v := s.Value != nil && *s.Value
		r.scopes.Bind(s.Variable, v)
	default:
		err = fmt.Errorf("unknown step type %q", s.Type)
	}
	if err != nil {
		var tagged *ExecutionError
		var typed *TypeError
		if errors.As(err, &tagged) || errors.As(err, &typed) {
			return err
		}
		return &ExecutionError{StepID: s.ID, Err: err}
	}
	return nil
}

func (r *run) toolStep(ctx context.Context, s *models.Step) error {
	inputs, err := r.renderInputs(s.Inputs)
	if err != nil {
		return err
	}

	out, meta, err := r.exec.catalog.Invoke(ctx, r.tc, s.Tool, inputs)
	r.cost.CostUSD += meta.CostUSD
	r.cost.InputTokens += meta.InputTokens
	r.cost.OutputTokens += meta.OutputTokens
	if err != nil {
		return err
	}

	if op, ok := out.(tools.StoreOp); ok {
		bound, err := r.applyStoreOp(op)
		if err != nil {
			return err
		}
		if s.Output != "" {
			r.scopes.BindBase(s.Output, bound)
		}
		return nil
	}

	value := normalizeJSON(out)
	if s.Output != "" {
		r.scopes.Bind(s.Output, value)
	}

	if r.isComputeStep(s.Tool) {
		rid := resourceIDFromInputs(inputs)
		if rid == "" {
			// Analyzers take note text, not ids; inside a note loop the
			// loop variable identifies the resource.
			if v, ok := r.scopes.Lookup("note_id"); ok {
				rid, _ = v.(string)
			}
		}
		r.observations = append(r.observations, observation{
			defID:      "out_" + s.ID,
			resourceID: rid,
			values:     asValuesMap(value),
		})
	}
	return nil
}

func (r *run) loopStep(ctx context.Context, s *models.Step) error {
	source, err := r.resolveLoopSource(s.In)
	if err != nil {
		return err
	}
	items, ok := source.([]any)
	if !ok {
		return &TypeError{StepID: s.ID, Msg: fmt.Sprintf("loop source %q is %T, not a list", s.In, source)}
	}

	collected := map[string]any{}
	for _, item := range items {
		r.scopes.Push(map[string]any{s.For: item})
		err := r.block(ctx, s.Body)
		frame := r.scopes.Pop()
		if err != nil {
			return err
		}
		if s.OutputDict != "" {
			iteration := map[string]any{}
			for k, v := range frame {
				if k != s.For {
					iteration[k] = v
				}
			}
			collected[template.Stringify(item)] = iteration
		}
	}
	if s.OutputDict != "" {
		r.scopes.Bind(s.OutputDict, collected)
	}
	return nil
}

func (r *run) ifStep(ctx context.Context, s *models.Step) error {
	if s.Condition == nil {
		return fmt.Errorf("if step has no condition")
	}
	truthy, err := template.EvalCondition(s.Condition, r.scopes)
	if err != nil {
		return err
	}
	if truthy {
		return r.block(ctx, s.Then)
	}
	return r.block(ctx, s.Otherwise)
}

// resolveLoopSource accepts a bare variable name or a templated expression.
func (r *run) resolveLoopSource(in string) (any, error) {
	if template.IsTemplated(in) {
		return template.Render(in, r.scopes)
	}
	if v, ok := r.scopes.Lookup(in); ok {
		return v, nil
	}
	return template.Eval(in, r.scopes)
}

// renderInputs resolves templates in every string reachable from the input
// map, recursing through nested maps and lists.
func (r *run) renderInputs(inputs map[string]any) (map[string]any, error) {
	if inputs == nil {
		return map[string]any{}, nil
	}
	out, err := r.renderValue(inputs)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (r *run) renderValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return template.Render(t, r.scopes)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, nested := range t {
			rendered, err := r.renderValue(nested)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, nested := range t {
			rendered, err := r.renderValue(nested)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *run) isComputeStep(tool string) bool {
	t, err := r.exec.catalog.Get(tool)
	if err != nil {
		return false
	}
	return t.Spec().Role == tools.RoleCompute
}

// deriveDefinitions returns the workflow's declared definitions, or derives
// one per compute tool step when none are declared.
func (e *Executor) deriveDefinitions(w *models.Workflow) []models.OutputDefinition {
	if len(w.OutputDefinitions) > 0 {
		return w.OutputDefinitions
	}
	var defs []models.OutputDefinition
	w.Walk(func(s *models.Step) {
		if s.Type != models.StepTool {
			return
		}
		t, err := e.catalog.Get(s.Tool)
		if err != nil || t.Spec().Role != tools.RoleCompute {
			return
		}
		defs = append(defs, models.OutputDefinition{
			ID:       "out_" + s.ID,
			Name:     s.ID,
			Label:    s.StepSummary,
			ToolName: s.Tool,
		})
	})
	return defs
}

// materializeValues projects final variables through output mappings, or
// falls back to one value per compute-step execution.
func (r *run) materializeValues(w *models.Workflow) []models.OutputValue {
	if len(w.OutputMappings) > 0 {
		byDef := map[string]*models.OutputValue{}
		var order []string
		for _, m := range w.OutputMappings {
			v, ok := r.scopes.Lookup(m.Variable)
			if !ok {
				continue
			}
			ov, exists := byDef[m.OutputDefinitionID]
			if !exists {
				ov = &models.OutputValue{
					ID:                 uuid.NewString(),
					OutputDefinitionID: m.OutputDefinitionID,
					Values:             map[string]any{},
					Metadata:           r.valueMetadata(),
				}
				byDef[m.OutputDefinitionID] = ov
				order = append(order, m.OutputDefinitionID)
			}
			ov.Values[m.Field] = v
		}
		out := make([]models.OutputValue, 0, len(order))
		for _, id := range order {
			out = append(out, *byDef[id])
		}
		return out
	}

	out := make([]models.OutputValue, 0, len(r.observations))
	for _, obs := range r.observations {
		out = append(out, models.OutputValue{
			ID:                 uuid.NewString(),
			OutputDefinitionID: obs.defID,
			ResourceID:         obs.resourceID,
			Values:             obs.values,
			Metadata:           r.valueMetadata(),
		})
	}
	return out
}

func (r *run) valueMetadata() map[string]any {
	return map[string]any{
		"patient_id":   r.tc.MRN,
		"encounter_id": r.tc.CSN,
	}
}

// resourceIDFromInputs picks the record resource a compute step ran over,
// when the rendered inputs identify one.
func resourceIDFromInputs(inputs map[string]any) string {
	for _, key := range []string{"note_id", "medication_id", "diagnosis_id"} {
		if id, ok := inputs[key].(string); ok {
			return id
		}
	}
	return ""
}

func asValuesMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// normalizeJSON round-trips a tool output through JSON so that templates
// only ever see maps, lists, strings, float64, bool, and nil.
func normalizeJSON(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
