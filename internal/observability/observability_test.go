package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("hidden")
	logger.Warn("visible", "key", "value")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info record emitted below warn level")
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "visible" || rec["key"] != "value" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.TurnsTotal.WithLabelValues("ok").Inc()
	m.LLMCostUSD.Add(0.25)
	m.ExperimentsTotal.WithLabelValues("completed").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"chartflow_turns_total",
		"chartflow_llm_cost_usd_total",
		"chartflow_experiments_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}
