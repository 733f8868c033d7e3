package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient performs non-streaming calls through the OpenAI-compatible API.
type OpenAIClient struct {
	baseURL string
	client  *openai.Client
}

// NewOpenAIClient creates a completer for the OpenAI-compatible endpoint at baseURL.
func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newOpenAI(baseURL, apiKey),
	}
}

var _ Completer = (*OpenAIClient)(nil)

func newOpenAI(baseURL, apiKey string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimSuffix(baseURL, "/")
	return openai.NewClientWithConfig(config)
}

// Complete sends a chat completion and joins the content of all choices.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	client := c.client
	if req.CustomKey != "" {
		client = newOpenAI(c.baseURL, req.CustomKey)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", mapOpenAIError(err, req.CustomKey != "")
	}

	var b strings.Builder
	for _, choice := range resp.Choices {
		b.WriteString(choice.Message.Content)
	}
	return b.String(), nil
}

// ListModels retrieves the provider model catalog.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]Model, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, mapOpenAIError(err, false)
	}
	models := make([]Model, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, Model{
			ID:      m.ID,
			Object:  m.Object,
			Created: m.CreatedAt,
			OwnedBy: m.OwnedBy,
		})
	}
	return models, nil
}

func mapOpenAIError(err error, customKey bool) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized && customKey {
			return ErrUnauthorized
		}
		return &NotOkError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusUnauthorized && customKey {
			return ErrUnauthorized
		}
		return &NotOkError{StatusCode: reqErr.HTTPStatusCode, Body: string(reqErr.Body)}
	}
	return fmt.Errorf("LLM request failed: %w", err)
}
