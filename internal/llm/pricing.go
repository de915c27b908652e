package llm

import "strings"

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPricing covers the models the engine is normally configured with.
// Unknown models cost zero rather than guessing; operators can override
// the table from configuration.
var defaultPricing = map[string]ModelPricing{
	"gpt-4o":                    {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":               {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":                   {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"gpt-4.1-mini":              {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"claude-sonnet-4-20250514":  {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku-20241022": {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-opus-4-20250514":    {InputPerMTok: 15.00, OutputPerMTok: 75.00},
}

// PricingTable maps models to pricing with prefix fallback, so dated model
// ids resolve to their family entry.
type PricingTable map[string]ModelPricing

// DefaultPricing returns a copy of the built-in table.
func DefaultPricing() PricingTable {
	out := make(PricingTable, len(defaultPricing))
	for k, v := range defaultPricing {
		out[k] = v
	}
	return out
}

// Cost computes the USD cost of a call against the table.
func (t PricingTable) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := t[model]
	if !ok {
		for name, candidate := range t {
			if strings.HasPrefix(model, name) {
				p, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return 0
	}
	return float64(inputTokens)*p.InputPerMTok/1e6 + float64(outputTokens)*p.OutputPerMTok/1e6
}
