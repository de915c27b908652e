// Package trace records one orchestrator turn as an append-only sequence
// of events, persisted as a JSONL file under the conversation directory.
package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType enumerates the recorded event kinds.
type EventType string

const (
	EventTurnStart     EventType = "turn_start"
	EventInitialState  EventType = "initial_state"
	EventDecision      EventType = "decision"
	EventAgentInput    EventType = "agent_input"
	EventAgentOutput   EventType = "agent_output"
	EventStateSnapshot EventType = "state_snapshot"
	EventError         EventType = "error"
	EventFinal         EventType = "final"
)

// Event is one recorded line. TSRelativeMS is measured from the first
// event of the turn and never decreases.
type Event struct {
	EventType    EventType `json:"event_type"`
	TS           time.Time `json:"ts"`
	TSRelativeMS int64     `json:"ts_relative_ms"`
	Payload      any       `json:"payload,omitempty"`
}

// ErrFinalized is returned when events arrive after Finalize.
var ErrFinalized = fmt.Errorf("trace: recorder already finalized")

// Recorder captures one turn. Safe for use from a single turn's goroutine;
// the mutex guards against trace readers racing a finalize.
type Recorder struct {
	mu sync.Mutex

	conversationDir string
	turn            int
	now             func() time.Time

	start     time.Time
	lastRelMS int64
	events    []Event
	finalized bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder for one (conversation, turn) pair. The
// trace is persisted under <conversationDir>/traces/turn_NNN.jsonl on
// Finalize.
func NewRecorder(conversationDir string, turn int, opts ...Option) *Recorder {
	r := &Recorder{conversationDir: conversationDir, turn: turn, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one event.
func (r *Recorder) Record(kind EventType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}

	ts := r.now()
	if len(r.events) == 0 {
		r.start = ts
	}
	rel := ts.Sub(r.start).Milliseconds()
	if rel < r.lastRelMS {
		rel = r.lastRelMS
	}
	r.lastRelMS = rel

	r.events = append(r.events, Event{
		EventType:    kind,
		TS:           ts,
		TSRelativeMS: rel,
		Payload:      payload,
	})
	return nil
}

// TurnStart records the opening event.
func (r *Recorder) TurnStart(userMessage string) error {
	return r.Record(EventTurnStart, map[string]any{"user_message": userMessage, "turn": r.turn})
}

// InitialState snapshots the state before the decision loop runs.
func (r *Recorder) InitialState(state any) error {
	return r.Record(EventInitialState, state)
}

// Decision records one orchestrator decision.
func (r *Recorder) Decision(decision any) error {
	return r.Record(EventDecision, decision)
}

// AgentInput records the typed input handed to an agent.
func (r *Recorder) AgentInput(agent string, input any) error {
	return r.Record(EventAgentInput, map[string]any{"agent": agent, "input": input})
}

// AgentOutput records an agent's result and how long it took.
func (r *Recorder) AgentOutput(agent string, output any, duration time.Duration) error {
	return r.Record(EventAgentOutput, map[string]any{
		"agent":       agent,
		"output":      output,
		"duration_ms": duration.Milliseconds(),
	})
}

// StateSnapshot records the state after an agent's updates were applied.
func (r *Recorder) StateSnapshot(state any) error {
	return r.Record(EventStateSnapshot, state)
}

// Error records a turn-level failure.
func (r *Recorder) Error(msg string) error {
	return r.Record(EventError, map[string]any{"message": msg})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Path returns the file the trace persists to.
func (r *Recorder) Path() string {
	return filepath.Join(r.conversationDir, "traces", fmt.Sprintf("turn_%03d.jsonl", r.turn))
}

// Finalize appends the final event and writes the whole trace as one JSON
// object per line. The recorder refuses events afterwards.
func (r *Recorder) Finalize(totalCostUSD float64, totalInputTokens, totalOutputTokens int) error {
	if err := r.Record(EventFinal, map[string]any{
		"total_cost_usd":      totalCostUSD,
		"total_input_tokens":  totalInputTokens,
		"total_output_tokens": totalOutputTokens,
	}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = true

	var buf bytes.Buffer
	for _, e := range r.events {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("trace: marshal %s event: %w", e.EventType, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(r.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("trace: create %s: %w", dir, err)
	}
	if err := os.WriteFile(r.Path(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("trace: write %s: %w", r.Path(), err)
	}
	return nil
}
