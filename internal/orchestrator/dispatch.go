package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chartflow/chartflow/internal/agents"
	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/tools"
	"github.com/chartflow/chartflow/internal/trace"
	"github.com/chartflow/chartflow/pkg/models"
)

// record runs a trace call when a recorder is attached.
func record(rec *trace.Recorder, fn func() error) {
	if rec == nil {
		return
	}
	_ = fn()
}

// workingWorkflow is the workflow an agent should act on: the pending one
// when present, else the committed one.
func workingWorkflow(state *AgentState) *models.Workflow {
	if state.PendingWorkflow != nil {
		return state.PendingWorkflow
	}
	return state.CurrentWorkflow()
}

// dispatch builds the agent input for the decision, invokes the agent,
// applies its result to the state, and emits an AgentResultEvent. A
// missing input source short-circuits with a synthetic failure; the
// decision LLM sees it in the next context and recovers.
func (o *Orchestrator) dispatch(ctx context.Context, decision Decision, userMessage string, state *AgentState, rec *trace.Recorder, ch chan<- Event) llm.Usage {
	started := time.Now()
	agentName, known := strings.CutPrefix(string(decision.Action), "call_")
	if !known || agentName == "" {
		// The decision LLM produced an action outside the contract. Treat
		// it like any other failed call so the loop can recover.
		return o.syntheticFailure(state, rec, ch, string(decision.Action),
			fmt.Sprintf("unknown action %q", decision.Action), started)
	}
	task := decision.AgentTask
	if task == "" {
		task = userMessage
	}
	specs := o.catalog.List()

	var (
		outcome agents.Outcome
		summary string
		input   any
	)

	switch decision.Action {
	case ActionCallClarifier:
		in := agents.ClarifierInput{UserRequest: task, ToolSpecs: specs, CurrentWorkflow: workingWorkflow(state)}
		input = map[string]any{"user_request": in.UserRequest}
		record(rec, func() error { return rec.AgentInput(agentName, input) })
		out := o.agents.Clarifier.Run(ctx, in)
		outcome = out.Outcome
		summary = out.ResponseText
		state.LastAgentResult = map[string]any{
			"success": out.Success, "error_message": out.ErrorMessage, "response_text": out.ResponseText,
		}

	case ActionCallGenerator:
		in := agents.GeneratorInput{
			TaskDescription: task,
			ToolSpecs:       specs,
			PatientContext:  fmt.Sprintf("dataset=%s mrn=%s csn=%s", state.Dataset, state.MRN, state.CSN),
		}
		input = map[string]any{"task_description": in.TaskDescription}
		record(rec, func() error { return rec.AgentInput(agentName, input) })
		out := o.agents.Generator.Run(ctx, in)
		outcome = out.Outcome
		if out.Success {
			o.setPending(ctx, state, out.Workflow, specs, task)
			summary = fmt.Sprintf("produced a workflow with %d steps", len(out.Workflow.StepIDs()))
		}
		state.LastAgentResult = map[string]any{
			"success": out.Success, "error_message": out.ErrorMessage, "summary": summary,
		}

	case ActionCallEditor:
		wf := workingWorkflow(state)
		if wf == nil {
			return o.syntheticFailure(state, rec, ch, agentName, "no workflow to edit", started)
		}
		in := agents.EditorInput{CurrentWorkflow: wf, EditRequest: task, ToolSpecs: specs}
		input = map[string]any{"edit_request": in.EditRequest}
		record(rec, func() error { return rec.AgentInput(agentName, input) })
		out := o.agents.Editor.Run(ctx, in)
		outcome = out.Outcome
		if out.Success {
			o.setPending(ctx, state, out.Workflow, specs, task)
			summary = fmt.Sprintf("edited workflow, now %d steps", len(out.Workflow.StepIDs()))
		}
		state.LastAgentResult = map[string]any{
			"success": out.Success, "error_message": out.ErrorMessage, "summary": summary,
		}

	case ActionCallChunkOperator:
		wf := workingWorkflow(state)
		if wf == nil {
			return o.syntheticFailure(state, rec, ch, agentName, "no workflow to operate on", started)
		}
		in := agents.ChunkOperatorInput{
			CurrentWorkflow: wf,
			Operation:       agents.ChunkOperation(decision.ChunkOperation),
			Description:     task,
			ToolSpecs:       specs,
		}
		input = map[string]any{"operation": decision.ChunkOperation, "description": task}
		record(rec, func() error { return rec.AgentInput(agentName, input) })
		out := o.agents.ChunkOperator.Run(ctx, in)
		outcome = out.Outcome
		if out.Success {
			o.setPending(ctx, state, out.Workflow, specs, task)
			summary = fmt.Sprintf("applied %s, workflow now %d steps", in.Operation, len(out.Workflow.StepIDs()))
		}
		state.LastAgentResult = map[string]any{
			"success": out.Success, "error_message": out.ErrorMessage, "summary": summary,
		}

	case ActionCallValidator:
		wf := workingWorkflow(state)
		if wf == nil {
			return o.syntheticFailure(state, rec, ch, agentName, "no workflow to validate", started)
		}
		input = map[string]any{"workflow_steps": len(wf.StepIDs())}
		record(rec, func() error { return rec.AgentInput(agentName, input) })
		out := o.agents.Validator.Run(ctx, agents.ValidatorInput{Workflow: wf})
		outcome = out.Outcome
		if out.Valid {
			summary = "workflow is valid"
		} else {
			summary = fmt.Sprintf("invalid at step %q: %s", out.BrokenStepID, out.BrokenReason)
		}
		state.LastAgentResult = map[string]any{
			"success": out.Success, "valid": out.Valid,
			"broken_step_id": out.BrokenStepID, "broken_reason": out.BrokenReason,
		}

	case ActionCallPromptFiller:
		wf := workingWorkflow(state)
		if wf == nil {
			return o.syntheticFailure(state, rec, ch, agentName, "no workflow to fill", started)
		}
		in := agents.PromptFillerInput{
			Workflow:     wf,
			UserIntent:   state.LatestUserMessage(),
			PromptGuides: o.promptGuides,
		}
		input = map[string]any{"user_intent": in.UserIntent}
		record(rec, func() error { return rec.AgentInput(agentName, input) })
		out := o.agents.PromptFiller.Run(ctx, in)
		outcome = out.Outcome
		if out.Success {
			state.PendingWorkflow = out.Workflow
			summary = fmt.Sprintf("filled %d prompts (%d fallback)", out.FilledCount, out.FallbackCount)
		}
		state.LastAgentResult = map[string]any{
			"success": out.Success, "error_message": out.ErrorMessage,
			"filled": out.FilledCount, "fallbacks": out.FallbackCount,
		}

	case ActionCallSummarizer:
		wf := workingWorkflow(state)
		if wf == nil {
			return o.syntheticFailure(state, rec, ch, agentName, "no workflow to summarize", started)
		}
		input = map[string]any{"workflow_steps": len(wf.StepIDs())}
		record(rec, func() error { return rec.AgentInput(agentName, input) })
		out := o.agents.Summarizer.Run(ctx, agents.SummarizerInput{Workflow: wf})
		outcome = out.Outcome
		if out.Success {
			state.PendingSummary = out.Summary
			summary = out.Summary
		}
		state.LastAgentResult = map[string]any{
			"success": out.Success, "error_message": out.ErrorMessage, "summary": out.Summary,
		}

	default:
		return o.syntheticFailure(state, rec, ch, agentName, fmt.Sprintf("unknown action %q", decision.Action), started)
	}

	if !outcome.Success && summary == "" {
		summary = outcome.ErrorMessage
	}
	duration := time.Since(started)
	record(rec, func() error { return rec.AgentOutput(agentName, state.LastAgentResult, duration) })

	state.LastAgent = agentName
	state.AgentCallLog = append(state.AgentCallLog, AgentCall{
		Agent: agentName, Success: outcome.Success, Summary: summary,
	})
	ch <- AgentResultEvent{Agent: agentName, Success: outcome.Success, Summary: summary, Duration: duration}
	return outcome.Usage
}

// setPending installs a produced workflow, attaching derived output
// definitions first.
func (o *Orchestrator) setPending(ctx context.Context, state *AgentState, wf *models.Workflow, specs []tools.Spec, task string) {
	derived := o.agents.OutputDefiner.Run(ctx, agents.OutputDefinerInput{
		Workflow:   wf,
		UserIntent: task,
		ToolSpecs:  specs,
	})
	if derived.Success {
		wf = derived.Workflow
	}
	state.PendingWorkflow = wf
}

// syntheticFailure records a failed call without invoking the agent.
func (o *Orchestrator) syntheticFailure(state *AgentState, rec *trace.Recorder, ch chan<- Event, agentName, reason string, started time.Time) llm.Usage {
	state.LastAgent = agentName
	state.LastAgentResult = map[string]any{"success": false, "error_message": reason}
	state.AgentCallLog = append(state.AgentCallLog, AgentCall{Agent: agentName, Success: false, Summary: reason})
	record(rec, func() error { return rec.AgentOutput(agentName, state.LastAgentResult, time.Since(started)) })
	ch <- AgentResultEvent{Agent: agentName, Success: false, Summary: reason, Duration: time.Since(started)}
	return llm.Usage{}
}
