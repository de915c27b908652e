// Package orchestrator turns one user message into a final response by
// iteratively asking an LLM which specialized agent to run next, applying
// each agent's result to the conversation state, and streaming events.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/chartflow/chartflow/internal/agents"
	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/internal/trace"
	"github.com/chartflow/chartflow/pkg/models"
)

// MaxIterations is the hard cap on decisions per turn. A turn needing
// exactly this many agent calls succeeds; one more ends with the overrun
// response.
const MaxIterations = 20

const overrunText = "I couldn't finish working on this request within the allowed number of steps. " +
	"Please try again with a simpler or more specific request."

// Agents bundles the specialized workers the orchestrator can dispatch.
type Agents struct {
	Clarifier     *agents.Clarifier
	Generator     *agents.Generator
	Editor        *agents.Editor
	ChunkOperator *agents.ChunkOperator
	Validator     *agents.Validator
	PromptFiller  *agents.PromptFiller
	Summarizer    *agents.Summarizer
	OutputDefiner *agents.OutputDefiner
}

// NewAgents wires the full agent set over one LLM client.
func NewAgents(client llm.Client) *Agents {
	return &Agents{
		Clarifier:     agents.NewClarifier(client),
		Generator:     agents.NewGenerator(client),
		Editor:        agents.NewEditor(client),
		ChunkOperator: agents.NewChunkOperator(client),
		Validator:     agents.NewValidator(),
		PromptFiller:  agents.NewPromptFiller(client),
		Summarizer:    agents.NewSummarizer(client),
		OutputDefiner: agents.NewOutputDefiner(),
	}
}

// Orchestrator drives the decision loop. Stateless across turns; all
// conversation state lives in AgentState.
type Orchestrator struct {
	llm          llm.Client
	catalog      *tools.Catalog
	agents       *Agents
	logger       *slog.Logger
	tracer       oteltrace.Tracer
	promptGuides map[string]string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithPromptGuides supplies per-tool guidance for the prompt filler.
func WithPromptGuides(guides map[string]string) Option {
	return func(o *Orchestrator) { o.promptGuides = guides }
}

// New builds an Orchestrator.
func New(client llm.Client, catalog *tools.Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:     client,
		catalog: catalog,
		agents:  NewAgents(client),
		logger:  slog.Default(),
		tracer:  otel.Tracer("chartflow/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TurnResult is the drained form of one turn's event stream.
type TurnResult struct {
	ResponseType string           `json:"response_type"`
	Text         string           `json:"text"`
	Workflow     *models.Workflow `json:"workflow,omitempty"`
	WorkflowID   string           `json:"workflow_id,omitempty"`
	Summary      string           `json:"summary,omitempty"`

	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`

	Err string `json:"error,omitempty"`
}

// ProcessMessage runs one turn and drains the stream.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userMessage string, state *AgentState) TurnResult {
	var result TurnResult
	for ev := range o.ProcessMessageStreaming(ctx, userMessage, state, nil) {
		if final, ok := ev.(FinalEvent); ok {
			result = TurnResult{
				ResponseType:      final.ResponseType,
				Text:              final.Text,
				Workflow:          final.Workflow,
				WorkflowID:        final.WorkflowID,
				Summary:           final.Summary,
				TotalCostUSD:      final.TotalCostUSD,
				TotalInputTokens:  final.TotalInputTokens,
				TotalOutputTokens: final.TotalOutputTokens,
				Err:               final.Err,
			}
		}
	}
	return result
}

// ProcessMessageStreaming runs one turn in a goroutine and streams its
// events. The channel closes after the FinalEvent. The recorder may be nil.
func (o *Orchestrator) ProcessMessageStreaming(ctx context.Context, userMessage string, state *AgentState, rec *trace.Recorder) <-chan Event {
	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		o.runTurn(ctx, userMessage, state, rec, ch)
	}()
	return ch
}

func (o *Orchestrator) runTurn(ctx context.Context, userMessage string, state *AgentState, rec *trace.Recorder, ch chan<- Event) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn")
	defer span.End()

	state.TurnCount++
	state.Conversation = append(state.Conversation, models.NewMessage(models.RoleUser, userMessage))
	state.AgentCallLog = nil
	state.LastAgent = ""
	state.LastAgentResult = nil

	record(rec, func() error { return rec.TurnStart(userMessage) })
	record(rec, func() error { return rec.InitialState(state.Snapshot()) })

	var cost llm.Usage
	for i := 0; i < MaxIterations; i++ {
		decision, usage, err := o.decide(ctx, userMessage, state)
		cost.Add(usage)
		if err != nil {
			o.logger.Error("orchestrator decision call failed", "error", err, "iteration", i)
			record(rec, func() error { return rec.Error(err.Error()) })
			o.finish(state, rec, ch, FinalEvent{
				ResponseType: "text",
				Text:         "Something went wrong while handling this request.",
				Err:          err.Error(),
			}, cost)
			return
		}

		ch <- DecisionEvent{Decision: decision}
		record(rec, func() error { return rec.Decision(decision) })
		o.logger.Debug("orchestrator decision", "action", decision.Action, "iteration", i)

		if decision.Action == ActionRespondToUser {
			o.respond(state, rec, ch, decision, cost)
			return
		}

		agentCost := o.dispatch(ctx, decision, userMessage, state, rec, ch)
		cost.Add(agentCost)
		record(rec, func() error { return rec.StateSnapshot(state.Snapshot()) })
	}

	state.Conversation = append(state.Conversation, models.NewMessage(models.RoleAssistant, overrunText))
	record(rec, func() error { return rec.Error("max iterations reached") })
	o.finish(state, rec, ch, FinalEvent{
		ResponseType: "text",
		Text:         overrunText,
		Err:          "max iterations reached",
	}, cost)
}

// respond assembles the final response, committing the pending workflow
// when the decision asks for it.
func (o *Orchestrator) respond(state *AgentState, rec *trace.Recorder, ch chan<- Event, decision Decision, cost llm.Usage) {
	summary := state.PendingSummary
	final := FinalEvent{ResponseType: "text", Text: decision.ResponseText, Summary: summary}

	if decision.IncludeWorkflow && state.PendingWorkflow != nil {
		id := state.CommitPending()
		final.ResponseType = "workflow"
		final.WorkflowID = id
		final.Workflow = state.WorkflowHistory[id]
	}
	if final.Text == "" {
		if summary != "" {
			final.Text = summary
		} else {
			final.Text = "Done."
		}
	}

	msg := models.NewMessage(models.RoleAssistant, final.Text)
	msg.WorkflowRef = final.WorkflowID
	state.Conversation = append(state.Conversation, msg)

	o.finish(state, rec, ch, final, cost)
}

func (o *Orchestrator) finish(state *AgentState, rec *trace.Recorder, ch chan<- Event, final FinalEvent, cost llm.Usage) {
	final.TotalCostUSD = cost.CostUSD
	final.TotalInputTokens = cost.InputTokens
	final.TotalOutputTokens = cost.OutputTokens
	if rec != nil {
		if err := rec.Finalize(cost.CostUSD, cost.InputTokens, cost.OutputTokens); err != nil {
			o.logger.Error("trace finalize failed", "error", err)
		}
	}
	ch <- final
}

const decisionSystemPrompt = `You coordinate specialized agents that build clinical chart-review workflows.
Each iteration, choose exactly one action:
- call_clarifier: answer a capability question or ask for missing detail
- call_generator: create a fresh workflow from the request (set agent_task)
- call_editor: modify the existing workflow per the request (set agent_task)
- call_chunk_operator: insert/append/remove a chunk of steps (set chunk_operation and agent_task)
- call_validator: structurally check the pending or current workflow
- call_prompt_filler: fill the null prompt fields of the workflow
- call_summarizer: produce a short summary of the workflow
- respond_to_user: finish the turn (set response_text; set include_workflow true to deliver the pending workflow)

A newly generated or edited workflow must be validated, prompt-filled, and
summarized before responding with include_workflow = true. Return JSON:
{"action": "...", "agent_task": "...", "chunk_operation": "...",
 "response_text": "...", "include_workflow": bool, "reasoning": "..."}.`

func (o *Orchestrator) decide(ctx context.Context, userMessage string, state *AgentState) (Decision, llm.Usage, error) {
	var d Decision
	usage, err := o.llm.CompleteStructured(ctx, &llm.Request{
		System:   decisionSystemPrompt,
		Messages: []llm.Message{{Role: "user", Content: o.buildContext(userMessage, state)}},
	}, &d)
	if err != nil {
		return Decision{}, usage, err
	}
	if d.Action == "" {
		return Decision{}, usage, fmt.Errorf("decision has no action")
	}
	return d, usage, nil
}

// buildContext summarizes the turn so far for the decision LLM.
func (o *Orchestrator) buildContext(userMessage string, state *AgentState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User message: %s\n", userMessage)

	if state.CurrentWorkflowID != "" {
		fmt.Fprintf(&sb, "Committed workflow: %s\n", state.CurrentWorkflowID)
	} else {
		sb.WriteString("Committed workflow: none\n")
	}
	if state.PendingWorkflow != nil {
		fmt.Fprintf(&sb, "Pending workflow: yes (%d steps)\n", len(state.PendingWorkflow.StepIDs()))
	} else {
		sb.WriteString("Pending workflow: no\n")
	}
	if state.PendingSummary != "" {
		fmt.Fprintf(&sb, "Pending summary: %s\n", state.PendingSummary)
	}

	if len(state.AgentCallLog) > 0 {
		sb.WriteString("Agent calls this turn:\n")
		for i, call := range state.AgentCallLog {
			status := "ok"
			if !call.Success {
				status = "failed"
			}
			fmt.Fprintf(&sb, "%d. %s (%s): %s\n", i+1, call.Agent, status, call.Summary)
		}
	} else {
		sb.WriteString("Agent calls this turn: none yet\n")
	}

	if state.LastAgent != "" {
		sb.WriteString("Last agent result (" + state.LastAgent + "): ")
		if data, err := json.Marshal(state.LastAgentResult); err == nil {
			sb.Write(data)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
