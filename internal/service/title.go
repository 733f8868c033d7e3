package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/domain"
)

const (
	titleSystemPrompt = "You are an AI assistant that creates short, descriptive titles. " +
		"Your only task is to generate a concise title (max 50 characters) based on the user's messages. " +
		"You must always return a title, even if the conversation seems unclear. " +
		"Do not add any explanation, just provide the title text. Never return an empty response."
	titleQuestion   = "What is the title of this conversation?"
	titleMaxTokens  = 50
	defaultTitleLLM = "anthropic/claude-3-haiku"
)

// ErrEmptyTitle is returned when the model produced nothing usable.
var ErrEmptyTitle = errors.New("generated title is empty")

// TitleGenerator names threads with a single non-streaming completion.
type TitleGenerator struct {
	completer llm.Completer
	model     string
}

// NewTitleGenerator creates a generator using model, or the default title
// model when model is empty.
func NewTitleGenerator(completer llm.Completer, model string) *TitleGenerator {
	if model == "" {
		model = defaultTitleLLM
	}
	return &TitleGenerator{completer: completer, model: model}
}

// Generate asks the model for a title of the conversation in history.
func (g *TitleGenerator) Generate(ctx context.Context, history []llm.ChatMessage, customKey string) (string, error) {
	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: string(domain.RoleSystem), Content: titleSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.ChatMessage{Role: string(domain.RoleUser), Content: titleQuestion})

	raw, err := g.completer.Complete(ctx, &llm.CompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: titleMaxTokens,
		CustomKey: customKey,
	})
	if err != nil {
		return "", fmt.Errorf("title completion failed: %w", err)
	}

	title := cleanTitle(raw)
	if title == "" {
		return "", ErrEmptyTitle
	}
	return title, nil
}

func cleanTitle(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), "\"'`")
}
