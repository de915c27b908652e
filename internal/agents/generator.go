package agents

import (
	"context"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

// Generator produces a fresh workflow from a task description.
type Generator struct {
	llm llm.Client
}

// NewGenerator builds a Generator.
func NewGenerator(client llm.Client) *Generator {
	return &Generator{llm: client}
}

// GeneratorInput is the task to plan for.
type GeneratorInput struct {
	TaskDescription string
	ToolSpecs       []tools.Spec
	PatientContext  string
}

// GeneratorOutput carries the produced workflow.
type GeneratorOutput struct {
	Workflow *models.Workflow
	Outcome
}

// Run plans a workflow. Tool steps with a prompt field come back with
// prompt set to null; the prompt filler resolves them later.
func (g *Generator) Run(ctx context.Context, in GeneratorInput) GeneratorOutput {
	var wf models.Workflow
	usage, err := g.llm.CompleteStructured(ctx, &llm.Request{
		System: "You plan clinical chart-review workflows over a single patient encounter.\n\n" +
			workflowFormatGuide +
			"\n\nAvailable tools:\n" + toolSpecsText(in.ToolSpecs) +
			"\n\nReturn only the workflow JSON.",
		Messages: []llm.Message{{
			Role:    "user",
			Content: "Task: " + in.TaskDescription + "\nPatient context: " + in.PatientContext,
		}},
	}, &wf)
	if err != nil {
		return GeneratorOutput{Outcome: failure(err, usage)}
	}

	nullifyPrompts(&wf, promptTools(in.ToolSpecs), nil)
	return GeneratorOutput{Workflow: &wf, Outcome: success(usage)}
}
