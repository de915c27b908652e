package agents

import (
	"context"
	"fmt"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

// Clarifier answers questions about the system's capabilities or asks the
// user for missing detail, without touching the workflow.
type Clarifier struct {
	llm llm.Client
}

// NewClarifier builds a Clarifier.
func NewClarifier(client llm.Client) *Clarifier {
	return &Clarifier{llm: client}
}

// ClarifierInput is the request needing a conversational answer.
type ClarifierInput struct {
	UserRequest     string
	ToolSpecs       []tools.Spec
	CurrentWorkflow *models.Workflow
}

// ClarifierOutput carries the response text.
type ClarifierOutput struct {
	ResponseText string `json:"response_text"`
	Outcome
}

// Run produces the conversational response.
func (c *Clarifier) Run(ctx context.Context, in ClarifierInput) ClarifierOutput {
	resp, err := c.llm.Complete(ctx, &llm.Request{
		System: "You help clinicians shape chart-review requests. Answer their question or ask" +
			" one focused clarifying question. Be brief.\n\nAvailable tools:\n" +
			toolSpecsText(in.ToolSpecs) +
			"\n\nCurrent workflow:\n" + workflowJSON(in.CurrentWorkflow),
		Messages: []llm.Message{{Role: "user", Content: in.UserRequest}},
	})
	if err != nil {
		return ClarifierOutput{Outcome: failure(err, llm.Usage{})}
	}
	if resp.Content == "" {
		return ClarifierOutput{Outcome: failure(fmt.Errorf("clarifier returned no text"), resp.Usage)}
	}
	return ClarifierOutput{ResponseText: resp.Content, Outcome: success(resp.Usage)}
}
