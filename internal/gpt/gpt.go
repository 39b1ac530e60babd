// Package gpt is an llm.Completer backed by the OpenAI chat completions API.
package gpt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const DefaultModel = openai.GPT4oMini

type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewClient creates a client. baseURL overrides the API endpoint when set,
// e.g. for an OpenAI-compatible proxy.
func NewClient(apiKey, model, baseURL string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		maxTokens: 1000,
	}
}

func (c *Client) Name() string {
	return "openai"
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxCompletionTokens: c.maxTokens,
		Temperature:         0.2,
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
