// Package chat wraps the OpenAI chat completion API for short, data-grounded answers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the completion response has no choices.
var ErrNoChoices = errors.New("chat: no choices in response")

const (
	DefaultModel     = openai.GPT4oMini
	DefaultMaxTokens = 512
	// DefaultTemperature keeps answers close to the supplied data.
	DefaultTemperature = 0.2
	SystemPrompt       = "Answer briefly, accurately and data-focused."
)

// Client sends a single user prompt with the fixed system prompt.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// Option configures the Client.
type Option func(*Client)

// WithModel overrides DefaultModel. Empty is ignored.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(apiKey, baseURL string) Option {
	return func(c *Client) {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL
		c.api = openai.NewClientWithConfig(cfg)
	}
}

// NewClient creates a chat client for apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		api:         openai.NewClient(apiKey),
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured chat model.
func (c *Client) Model() string { return c.model }

// Complete returns the model's answer to prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	}
	// Reasoning models reject max_tokens.
	if strings.HasPrefix(c.model, "o1") || strings.HasPrefix(c.model, "o3") ||
		strings.HasPrefix(c.model, "o4") || strings.HasPrefix(c.model, "gpt-5") {
		req.MaxCompletionTokens = c.maxTokens
	} else {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
