package orchestrator

import (
	"fmt"

	"github.com/chartflow/chartflow/pkg/models"
)

// AgentCall is one entry of the per-turn call log the orchestrator LLM
// reads to see what already happened this turn.
type AgentCall struct {
	Agent   string `json:"agent"`
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

// AgentState is the mutable per-conversation state the orchestrator drives.
// It is created on the first user message and mutated in place across
// turns; pending slots are cleared whenever a workflow is committed.
type AgentState struct {
	ConversationID string
	Dataset        string
	MRN            string
	CSN            string

	Conversation      []models.Message
	WorkflowHistory   map[string]*models.Workflow
	CurrentWorkflowID string

	PendingWorkflow *models.Workflow
	PendingSummary  string

	LastAgent       string
	LastAgentResult any
	AgentCallLog    []AgentCall

	TurnCount int
}

// NewState creates the state for a fresh conversation.
func NewState(conversationID, dataset, mrn, csn string) *AgentState {
	return &AgentState{
		ConversationID:  conversationID,
		Dataset:         dataset,
		MRN:             mrn,
		CSN:             csn,
		WorkflowHistory: map[string]*models.Workflow{},
	}
}

// StateFromConversation rebuilds orchestrator state from a persisted
// conversation.
func StateFromConversation(c *models.Conversation) *AgentState {
	s := NewState(c.ID, c.Dataset, c.MRN, c.CSN)
	s.Conversation = append(s.Conversation, c.Messages...)
	for id, w := range c.WorkflowHistory {
		s.WorkflowHistory[id] = w
	}
	s.CurrentWorkflowID = c.CurrentWorkflow
	s.TurnCount = c.TurnCount
	return s
}

// ToConversation projects the state back into its persisted form.
func (s *AgentState) ToConversation() *models.Conversation {
	return &models.Conversation{
		ID:              s.ConversationID,
		Dataset:         s.Dataset,
		MRN:             s.MRN,
		CSN:             s.CSN,
		Messages:        s.Conversation,
		WorkflowHistory: s.WorkflowHistory,
		CurrentWorkflow: s.CurrentWorkflowID,
		TurnCount:       s.TurnCount,
	}
}

// CurrentWorkflow returns the latest committed workflow, if any.
func (s *AgentState) CurrentWorkflow() *models.Workflow {
	if s.CurrentWorkflowID == "" {
		return nil
	}
	return s.WorkflowHistory[s.CurrentWorkflowID]
}

// CommitPending stores the pending workflow under a fresh version id and
// clears the pending slots. Returns the new id, or "" when nothing was
// pending.
func (s *AgentState) CommitPending() string {
	if s.PendingWorkflow == nil {
		return ""
	}
	id := fmt.Sprintf("workflow_v%d", len(s.WorkflowHistory)+1)
	s.WorkflowHistory[id] = s.PendingWorkflow
	s.CurrentWorkflowID = id
	s.PendingWorkflow = nil
	s.PendingSummary = ""
	return id
}

// LatestUserMessage returns the content of the most recent user message.
func (s *AgentState) LatestUserMessage() string {
	for i := len(s.Conversation) - 1; i >= 0; i-- {
		if s.Conversation[i].Role == models.RoleUser {
			return s.Conversation[i].Content
		}
	}
	return ""
}

// Snapshot is the compact view recorded in traces. Workflows are reduced
// to ids and step counts to keep trace lines readable.
func (s *AgentState) Snapshot() map[string]any {
	snap := map[string]any{
		"conversation_len":    len(s.Conversation),
		"current_workflow_id": s.CurrentWorkflowID,
		"has_pending":         s.PendingWorkflow != nil,
		"pending_summary":     s.PendingSummary,
		"last_agent":          s.LastAgent,
		"agent_call_log":      s.AgentCallLog,
		"turn_count":          s.TurnCount,
	}
	if s.PendingWorkflow != nil {
		snap["pending_steps"] = len(s.PendingWorkflow.StepIDs())
	}
	return snap
}
