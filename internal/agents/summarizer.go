package agents

import (
	"context"
	"fmt"

	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/pkg/models"
)

// Summarizer produces a short plain-English description of a workflow.
type Summarizer struct {
	llm llm.Client
}

// NewSummarizer builds a Summarizer.
func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{llm: client}
}

// SummarizerInput names the workflow to describe.
type SummarizerInput struct {
	Workflow *models.Workflow
}

// SummarizerOutput carries the summary.
type SummarizerOutput struct {
	Summary string `json:"summary"`
	Outcome
}

// Run summarizes the workflow in two to three sentences.
func (s *Summarizer) Run(ctx context.Context, in SummarizerInput) SummarizerOutput {
	if in.Workflow == nil {
		return SummarizerOutput{Outcome: failure(fmt.Errorf("no workflow to summarize"), llm.Usage{})}
	}

	var out struct {
		Summary string `json:"summary"`
	}
	usage, err := s.llm.CompleteStructured(ctx, &llm.Request{
		System: "Summarize a clinical chart-review workflow for the clinician who asked for it. " +
			"Two to three sentences, no jargon about steps or JSON. " +
			"Return {\"summary\": \"...\"}.",
		Messages: []llm.Message{{
			Role:    "user",
			Content: workflowJSON(in.Workflow),
		}},
	}, &out)
	if err != nil {
		return SummarizerOutput{Outcome: failure(err, usage)}
	}
	if out.Summary == "" {
		return SummarizerOutput{Outcome: failure(fmt.Errorf("summarizer returned no summary"), usage)}
	}
	return SummarizerOutput{Summary: out.Summary, Outcome: success(usage)}
}
