package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic-backed client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Pricing      PricingTable
}

// AnthropicClient implements Client over the Anthropic messages API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	pricing      PricingTable
}

// NewAnthropicClient builds an Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing()
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		pricing:      cfg.Pricing,
	}, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	return c.complete(ctx, req, false)
}

// CompleteStructured implements Client. Anthropic has no JSON response
// mode, so the structured instruction rides on the system prompt and the
// reply is parsed leniently.
func (c *AnthropicClient) CompleteStructured(ctx context.Context, req *Request, out any) (Usage, error) {
	resp, err := c.complete(ctx, req, true)
	if err != nil {
		return Usage{}, err
	}
	if err := DecodeStructured(resp.Content, out); err != nil {
		return resp.Usage, err
	}
	return resp.Usage, nil
}

func (c *AnthropicClient) complete(ctx context.Context, req *Request, structured bool) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	system := req.System
	if structured {
		system += structuredInstruction
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" {
		return nil, ErrEmptyResponse
	}

	usage := Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	usage.CostUSD = c.pricing.Cost(model, usage.InputTokens, usage.OutputTokens)

	return &Response{Content: content, Usage: usage}, nil
}
