package agents

import (
	"context"
	"fmt"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

// OutputDefiner populates a workflow's output definitions. It is
// deterministic: one definition per compute tool step, typed from the
// tool's output schema fields when known. Mappings stay empty; the
// executor projects compute-step outputs directly.
type OutputDefiner struct{}

// NewOutputDefiner builds an OutputDefiner.
func NewOutputDefiner() *OutputDefiner { return &OutputDefiner{} }

// OutputDefinerInput carries the workflow and the catalog to type against.
type OutputDefinerInput struct {
	Workflow   *models.Workflow
	UserIntent string
	ToolSpecs  []tools.Spec
}

// OutputDefinerOutput carries the workflow with definitions attached.
type OutputDefinerOutput struct {
	Workflow *models.Workflow
	Outcome
}

// evidenceFields are the typed fields of span-producing analyzers.
var evidenceFields = map[string][]models.OutputField{
	"analyze_note_with_span_and_reason": {
		{Name: "detected", Type: "boolean"},
		{Name: "span", Type: "string"},
		{Name: "reason", Type: "string"},
	},
	"analyze_note": {
		{Name: "answer", Type: "string"},
	},
}

// Run attaches output definitions derived from compute steps.
func (o *OutputDefiner) Run(ctx context.Context, in OutputDefinerInput) OutputDefinerOutput {
	if in.Workflow == nil {
		return OutputDefinerOutput{Outcome: failure(fmt.Errorf("no workflow to define outputs for"), llm.Usage{})}
	}
	wf, err := in.Workflow.Clone()
	if err != nil {
		return OutputDefinerOutput{Outcome: failure(err, llm.Usage{})}
	}

	roles := map[string]tools.Role{}
	for _, s := range in.ToolSpecs {
		roles[s.Name] = s.Role
	}

	var defs []models.OutputDefinition
	wf.Walk(func(s *models.Step) {
		if s.Type != models.StepTool || roles[s.Tool] != tools.RoleCompute {
			return
		}
		defs = append(defs, models.OutputDefinition{
			ID:       "out_" + s.ID,
			Name:     s.ID,
			Label:    s.StepSummary,
			ToolName: s.Tool,
			Fields:   evidenceFields[s.Tool],
		})
	})
	wf.OutputDefinitions = defs

	return OutputDefinerOutput{Workflow: wf, Outcome: success(llm.Usage{})}
}
