package agents

import (
	"context"
	"fmt"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

// Editor applies a free-form edit request to an existing workflow.
type Editor struct {
	llm llm.Client
}

// NewEditor builds an Editor.
func NewEditor(client llm.Client) *Editor {
	return &Editor{llm: client}
}

// EditorInput names the workflow to change and how.
type EditorInput struct {
	CurrentWorkflow *models.Workflow
	EditRequest     string
	ToolSpecs       []tools.Spec
}

// EditorOutput carries the modified workflow.
type EditorOutput struct {
	Workflow *models.Workflow
	Outcome
}

// Run rewrites the workflow per the edit request. Steps not touched by the
// edit must survive unchanged, including their filled prompt values.
func (e *Editor) Run(ctx context.Context, in EditorInput) EditorOutput {
	if in.CurrentWorkflow == nil {
		return EditorOutput{Outcome: failure(fmt.Errorf("no workflow to edit"), llm.Usage{})}
	}

	var wf models.Workflow
	usage, err := e.llm.CompleteStructured(ctx, &llm.Request{
		System: "You edit clinical chart-review workflows.\n\n" +
			workflowFormatGuide +
			"\n\nAvailable tools:\n" + toolSpecsText(in.ToolSpecs) +
			"\n\nApply the requested change and return the full workflow JSON." +
			" Preserve every step the request does not touch, byte for byte," +
			" including filled prompt objects.",
		Messages: []llm.Message{{
			Role: "user",
			Content: "Current workflow:\n" + workflowJSON(in.CurrentWorkflow) +
				"\n\nEdit request: " + in.EditRequest,
		}},
	}, &wf)
	if err != nil {
		return EditorOutput{Outcome: failure(err, usage)}
	}
	return EditorOutput{Workflow: &wf, Outcome: success(usage)}
}

// ChunkOperator performs a structural operation on a workflow: inserting,
// appending, or removing a chunk of steps.
type ChunkOperator struct {
	llm llm.Client
}

// NewChunkOperator builds a ChunkOperator.
func NewChunkOperator(client llm.Client) *ChunkOperator {
	return &ChunkOperator{llm: client}
}

// ChunkOperation is the structural edit kind.
type ChunkOperation string

const (
	ChunkInsert ChunkOperation = "insert"
	ChunkAppend ChunkOperation = "append"
	ChunkRemove ChunkOperation = "remove"
)

// ChunkOperatorInput describes the structural edit.
type ChunkOperatorInput struct {
	CurrentWorkflow *models.Workflow
	Operation       ChunkOperation
	Description     string
	ToolSpecs       []tools.Spec
}

// ChunkOperatorOutput carries the modified workflow.
type ChunkOperatorOutput struct {
	Workflow *models.Workflow
	Outcome
}

// Run applies the chunk operation. New tool steps with prompt fields come
// back with prompt null; steps carried over keep their prompts. For remove,
// downstream variable references must be updated or left intact when still
// valid.
func (c *ChunkOperator) Run(ctx context.Context, in ChunkOperatorInput) ChunkOperatorOutput {
	if in.CurrentWorkflow == nil {
		return ChunkOperatorOutput{Outcome: failure(fmt.Errorf("no workflow to operate on"), llm.Usage{})}
	}
	op := in.Operation
	if op == "" {
		op = ChunkAppend
	}

	var wf models.Workflow
	usage, err := c.llm.CompleteStructured(ctx, &llm.Request{
		System: "You restructure clinical chart-review workflows.\n\n" +
			workflowFormatGuide +
			"\n\nAvailable tools:\n" + toolSpecsText(in.ToolSpecs) +
			"\n\nApply the " + string(op) + " operation and return the full workflow JSON." +
			" When removing steps, fix or keep downstream variable references so" +
			" the workflow still resolves.",
		Messages: []llm.Message{{
			Role: "user",
			Content: "Current workflow:\n" + workflowJSON(in.CurrentWorkflow) +
				"\n\nOperation: " + string(op) +
				"\nDescription: " + in.Description,
		}},
	}, &wf)
	if err != nil {
		return ChunkOperatorOutput{Outcome: failure(err, usage)}
	}

	existing := map[string]bool{}
	in.CurrentWorkflow.Walk(func(s *models.Step) { existing[s.ID] = true })
	nullifyPrompts(&wf, promptTools(in.ToolSpecs), func(stepID string) bool {
		return !existing[stepID]
	})
	return ChunkOperatorOutput{Workflow: &wf, Outcome: success(usage)}
}
