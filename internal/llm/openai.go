package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-backed client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Pricing      PricingTable
}

// OpenAIClient implements Client over the OpenAI chat completion API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	pricing      PricingTable
}

// NewOpenAIClient builds an OpenAI client. BaseURL is optional and allows
// routing through a compatible gateway.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing()
	}

	var client *openai.Client
	if cfg.BaseURL != "" {
		conf := openai.DefaultConfig(cfg.APIKey)
		conf.BaseURL = cfg.BaseURL
		client = openai.NewClientWithConfig(conf)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}

	return &OpenAIClient{
		client:       client,
		defaultModel: cfg.DefaultModel,
		pricing:      cfg.Pricing,
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	return c.complete(ctx, req, false)
}

// CompleteStructured implements Client using the JSON-object response
// format.
func (c *OpenAIClient) CompleteStructured(ctx context.Context, req *Request, out any) (Usage, error) {
	resp, err := c.complete(ctx, req, true)
	if err != nil {
		return Usage{}, err
	}
	if err := DecodeStructured(resp.Content, out); err != nil {
		return resp.Usage, err
	}
	return resp.Usage, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req *Request, structured bool) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	system := req.System
	if structured {
		system += structuredInstruction
	}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if structured {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	usage.CostUSD = c.pricing.Cost(model, usage.InputTokens, usage.OutputTokens)

	return &Response{Content: resp.Choices[0].Message.Content, Usage: usage}, nil
}
