package orchestrator

import (
	"time"

	"github.com/chartflow/chartflow/pkg/models"
)

// Action is the orchestrator LLM's next move.
type Action string

const (
	ActionCallClarifier     Action = "call_clarifier"
	ActionCallGenerator     Action = "call_generator"
	ActionCallEditor        Action = "call_editor"
	ActionCallChunkOperator Action = "call_chunk_operator"
	ActionCallValidator     Action = "call_validator"
	ActionCallPromptFiller  Action = "call_prompt_filler"
	ActionCallSummarizer    Action = "call_summarizer"
	ActionRespondToUser     Action = "respond_to_user"
)

// Decision is the structured answer the orchestrator demands from its LLM
// each iteration.
type Decision struct {
	Action         Action `json:"action"`
	AgentTask      string `json:"agent_task,omitempty"`
	ChunkOperation string `json:"chunk_operation,omitempty"`
	ResponseText   string `json:"response_text,omitempty"`

	// IncludeWorkflow commits the pending workflow when responding.
	IncludeWorkflow bool `json:"include_workflow,omitempty"`

	Reasoning string `json:"reasoning,omitempty"`
}

// Event is one streamed element of a turn.
type Event interface {
	isEvent()
}

// DecisionEvent reports the next action chosen.
type DecisionEvent struct {
	Decision Decision
}

// AgentResultEvent reports one agent invocation.
type AgentResultEvent struct {
	Agent    string
	Success  bool
	Summary  string
	Duration time.Duration
}

// FinalEvent ends the turn.
type FinalEvent struct {
	ResponseType string // text | workflow
	Text         string
	WorkflowID   string
	Workflow     *models.Workflow
	Summary      string

	TotalCostUSD      float64
	TotalInputTokens  int
	TotalOutputTokens int

	// Err is set when the turn failed (overrun or transport failure).
	Err string
}

func (DecisionEvent) isEvent()    {}
func (AgentResultEvent) isEvent() {}
func (FinalEvent) isEvent()       {}
