package agents

import (
	"context"
	"fmt"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/pkg/models"
)

// PromptFiller populates every null prompt input in a workflow with a
// {system_prompt, user_prompt} object, one structured LLM call per step.
// A failed call falls back to a deterministic prompt rather than failing
// the whole fill.
type PromptFiller struct {
	llm llm.Client
}

// NewPromptFiller builds a PromptFiller.
func NewPromptFiller(client llm.Client) *PromptFiller {
	return &PromptFiller{llm: client}
}

// PromptFillerInput carries the workflow and the intent behind it.
type PromptFillerInput struct {
	Workflow   *models.Workflow
	UserIntent string

	// PromptGuides maps tool name to guidance on writing prompts for it.
	PromptGuides map[string]string
}

// PromptFillerOutput carries the filled workflow. FilledCount reports how
// many prompts were populated; FallbackCount how many of those used the
// deterministic fallback.
type PromptFillerOutput struct {
	Workflow      *models.Workflow
	FilledCount   int
	FallbackCount int
	Outcome
}

// Run fills prompts on a deep copy of the workflow. Cost and tokens sum
// across all fill calls.
func (p *PromptFiller) Run(ctx context.Context, in PromptFillerInput) PromptFillerOutput {
	if in.Workflow == nil {
		return PromptFillerOutput{Outcome: failure(fmt.Errorf("no workflow to fill"), llm.Usage{})}
	}
	wf, err := in.Workflow.Clone()
	if err != nil {
		return PromptFillerOutput{Outcome: failure(err, llm.Usage{})}
	}

	var total llm.Usage
	filled, fallbacks := 0, 0
	wf.Walk(func(s *models.Step) {
		if s.Type != models.StepTool || s.Inputs == nil {
			return
		}
		v, present := s.Inputs["prompt"]
		if !present || v != nil {
			return
		}

		spec, usage, err := p.fillOne(ctx, s, in)
		total.Add(usage)
		if err != nil {
			spec = fallbackPrompt(s, in.UserIntent)
			fallbacks++
		}
		s.Inputs["prompt"] = map[string]any{
			"system_prompt": spec.SystemPrompt,
			"user_prompt":   spec.UserPrompt,
		}
		filled++
	})

	return PromptFillerOutput{
		Workflow:      wf,
		FilledCount:   filled,
		FallbackCount: fallbacks,
		Outcome:       success(total),
	}
}

func (p *PromptFiller) fillOne(ctx context.Context, s *models.Step, in PromptFillerInput) (tools.PromptSpec, llm.Usage, error) {
	guide := in.PromptGuides[s.Tool]
	if guide == "" {
		guide = "Write a precise clinical prompt for the step."
	}

	var spec tools.PromptSpec
	usage, err := p.llm.CompleteStructured(ctx, &llm.Request{
		System: "You write LLM prompts for steps of a clinical chart-review workflow. " +
			"Return {\"system_prompt\": \"...\", \"user_prompt\": \"...\"}.\n\n" + guide,
		Messages: []llm.Message{{
			Role: "user",
			Content: fmt.Sprintf("Overall intent: %s\nStep id: %s\nStep summary: %s\nTool: %s",
				in.UserIntent, s.ID, s.StepSummary, s.Tool),
		}},
	}, &spec)
	if err != nil {
		return tools.PromptSpec{}, usage, err
	}
	if spec.SystemPrompt == "" && spec.UserPrompt == "" {
		return tools.PromptSpec{}, usage, fmt.Errorf("empty prompt for step %q", s.ID)
	}
	return spec, usage, nil
}

// fallbackPrompt is the deterministic prompt used when a fill call fails.
func fallbackPrompt(s *models.Step, intent string) tools.PromptSpec {
	task := s.StepSummary
	if task == "" {
		task = intent
	}
	if task == "" {
		task = "Analyze the provided clinical text."
	}
	return tools.PromptSpec{
		SystemPrompt: "You are a careful clinical chart reviewer. Answer strictly from the provided text.",
		UserPrompt:   task,
	}
}
