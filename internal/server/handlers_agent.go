package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/chartflow/chartflow/internal/orchestrator"
	"github.com/chartflow/chartflow/internal/store"
	"github.com/chartflow/chartflow/internal/trace"
)

type agentMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Dataset        string `json:"dataset"`
	MRN            string `json:"mrn"`
	CSN            string `json:"csn"`
}

func (s *Server) validateAgentRequest(w http.ResponseWriter, r *http.Request, req *agentMessageRequest) bool {
	if req.Message == "" || req.Dataset == "" || req.MRN == "" || req.CSN == "" {
		writeError(w, http.StatusBadRequest, "message, dataset, mrn, and csn are required")
		return false
	}
	return s.datasetAllowed(w, r, req.Dataset)
}

// loadState resolves or creates the conversation state. Callers hold the
// conversation lock.
func (s *Server) loadState(req *agentMessageRequest) (*orchestrator.AgentState, error) {
	conv, err := s.registry.Conversations().Get(req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return orchestrator.NewState(req.ConversationID, req.Dataset, req.MRN, req.CSN), nil
	}
	if err != nil {
		return nil, err
	}
	return orchestrator.StateFromConversation(conv), nil
}

func (s *Server) saveState(state *orchestrator.AgentState) {
	if err := s.registry.Conversations().Save(state.ToConversation()); err != nil {
		s.logger.Error("conversation save failed", "conversation", state.ConversationID, "error", err)
	}
}

func (s *Server) recordTurn(result orchestrator.TurnResult) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if result.Err != "" {
		outcome = "error"
	}
	s.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	s.metrics.LLMCostUSD.Add(result.TotalCostUSD)
	s.metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(result.TotalInputTokens))
	s.metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(result.TotalOutputTokens))
}

func (s *Server) handleAgentMessage(w http.ResponseWriter, r *http.Request) {
	var req agentMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.validateAgentRequest(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	mu := s.convLock(req.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.loadState(&req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading conversation failed")
		return
	}

	rec := trace.NewRecorder(s.registry.Conversations().Dir(req.ConversationID), state.TurnCount+1)
	var result orchestrator.TurnResult
	for ev := range s.orch.ProcessMessageStreaming(r.Context(), req.Message, state, rec) {
		if final, ok := ev.(orchestrator.FinalEvent); ok {
			result = orchestrator.TurnResult{
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
	s.saveState(state)
	s.recordTurn(result)

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": req.ConversationID,
		"response_type":   result.ResponseType,
		"message":         result.Text,
		"workflow_data":   result.Workflow,
		"workflow_id":     result.WorkflowID,
		"summary":         result.Summary,
		"total_cost_usd":  result.TotalCostUSD,
		"error":           result.Err,
	})
}

// handleSupervisorStream streams the turn's events as server-sent
// events and persists the conversation when the turn ends.
func (s *Server) handleSupervisorStream(w http.ResponseWriter, r *http.Request) {
	var req agentMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.validateAgentRequest(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	mu := s.convLock(req.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.loadState(&req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading conversation failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rec := trace.NewRecorder(s.registry.Conversations().Dir(req.ConversationID), state.TurnCount+1)
	var result orchestrator.TurnResult
	for ev := range s.orch.ProcessMessageStreaming(r.Context(), req.Message, state, rec) {
		name, payload := sseEvent(ev, req.ConversationID)
		writeSSE(w, name, payload)
		flusher.Flush()
		if final, ok := ev.(orchestrator.FinalEvent); ok {
			result.Err = final.Err
			result.TotalCostUSD = final.TotalCostUSD
			result.TotalInputTokens = final.TotalInputTokens
			result.TotalOutputTokens = final.TotalOutputTokens
		}
	}
	s.saveState(state)
	s.recordTurn(result)
}

func sseEvent(ev orchestrator.Event, conversationID string) (string, map[string]any) {
	switch e := ev.(type) {
	case orchestrator.DecisionEvent:
		return "decision", map[string]any{
			"action":    e.Decision.Action,
			"reasoning": e.Decision.Reasoning,
		}
	case orchestrator.AgentResultEvent:
		return "agent_result", map[string]any{
			"agent":       e.Agent,
			"success":     e.Success,
			"summary":     e.Summary,
			"duration_ms": e.Duration.Milliseconds(),
		}
	case orchestrator.FinalEvent:
		return "final", map[string]any{
			"conversation_id": conversationID,
			"response_type":   e.ResponseType,
			"message":         e.Text,
			"workflow_data":   e.Workflow,
			"workflow_id":     e.WorkflowID,
			"summary":         e.Summary,
			"total_cost_usd":  e.TotalCostUSD,
			"error":           e.Err,
		}
	}
	return "event", map[string]any{}
}

func writeSSE(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
