package agents

import (
	"context"
	"fmt"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/workflow"
	"github.com/chartflow/chartflow/pkg/models"
)

// Validator checks a workflow structurally. It is rule-based and makes no
// LLM calls.
type Validator struct{}

// NewValidator builds a Validator.
func NewValidator() *Validator { return &Validator{} }

// ValidatorInput names the workflow to check.
type ValidatorInput struct {
	Workflow *models.Workflow
}

// ValidatorOutput reports the first structural problem, if any. Success
// refers to the agent run, not to validity.
type ValidatorOutput struct {
	Valid        bool   `json:"valid"`
	BrokenStepID string `json:"broken_step_id,omitempty"`
	BrokenReason string `json:"broken_reason,omitempty"`
	Outcome
}

// Run validates the workflow.
func (v *Validator) Run(ctx context.Context, in ValidatorInput) ValidatorOutput {
	if in.Workflow == nil {
		return ValidatorOutput{Outcome: failure(fmt.Errorf("no workflow to validate"), llm.Usage{})}
	}
	res := workflow.Validate(in.Workflow)
	return ValidatorOutput{
		Valid:        res.Valid,
		BrokenStepID: res.BrokenStepID,
		BrokenReason: res.BrokenReason,
		Outcome:      success(llm.Usage{}),
	}
}
