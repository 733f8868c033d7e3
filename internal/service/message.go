package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/domain"
	"github.com/aerokeylabs/t4chat/internal/policy"
	"github.com/aerokeylabs/t4chat/internal/registry"
)

// outputBuffer bounds the events queued for a slow client.
const outputBuffer = 128

// StartRequest asks for a response to be streamed into a pending message.
type StartRequest struct {
	ThreadID          string               `json:"threadId"`
	ResponseMessageID string               `json:"responseMessageId"`
	Model             string               `json:"model"`
	MessageParts      []domain.MessagePart `json:"messageParts"`
	ModelParams       *domain.ModelParams  `json:"modelParams,omitempty"`
	CustomKey         string               `json:"customKey,omitempty"`
}

// StartMessage validates req, then streams the response in the background.
// The returned channel yields the relay's events and is closed after the
// terminal event once the relay has finished persisting. Events are dropped
// when ctx ends, but the relay keeps running.
func (s *Service) StartMessage(ctx context.Context, req *StartRequest) (<-chan domain.ChatEvent, error) {
	if strings.TrimSpace(req.ThreadID) == "" {
		return nil, fmt.Errorf("%w: threadId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.ResponseMessageID) == "" {
		return nil, fmt.Errorf("%w: responseMessageId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%w: model is required", domain.ErrValidation)
	}

	thread, err := s.store.GetThreadByID(ctx, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	if thread == nil {
		return nil, fmt.Errorf("%w: thread %s", domain.ErrNotFound, req.ThreadID)
	}

	message, err := s.store.GetMessageByID(ctx, req.ResponseMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if message == nil {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, req.ResponseMessageID)
	}
	if message.ThreadID != "" && message.ThreadID != thread.ID {
		return nil, fmt.Errorf("%w: message %s is not in thread %s", domain.ErrValidation, message.ID, thread.ID)
	}
	if message.Status != domain.MessageStatusPending {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrNotPending, message.Status)
	}

	if err := s.checkPolicy(ctx, req); err != nil {
		return nil, err
	}

	history, err := s.store.GetMessagesUntil(ctx, thread.ID, message.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	messages := toChatMessages(history, message.ID)
	if len(messages) == 0 {
		if text := partsText(req.MessageParts); text != "" {
			messages = append(messages, llm.ChatMessage{Role: string(domain.RoleUser), Content: text})
		}
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: nothing to send", domain.ErrValidation)
	}

	streamReq := &llm.StreamRequest{
		Model:     req.Model,
		Messages:  messages,
		CustomKey: req.CustomKey,
	}
	if req.ModelParams != nil {
		streamReq.ReasoningEffort = req.ModelParams.ReasoningEffort
		streamReq.IncludeSearch = req.ModelParams.IncludeSearch
	}

	kill := registry.NewSignal()
	s.registry.Register(thread.ID, kill)

	out := make(chan domain.ChatEvent, outputBuffer)
	r := &relay{
		svc:       s,
		thread:    thread,
		messageID: message.ID,
		model:     req.Model,
		params:    req.ModelParams,
		customKey: req.CustomKey,
		request:   streamReq,
		kill:      kill,
		out:       out,
		clientCtx: ctx,
		log: s.log.WithFields(logrus.Fields{
			"thread_id":  thread.ID,
			"message_id": message.ID,
			"model":      req.Model,
		}),
	}

	relayCtx, cancel := context.WithTimeout(context.Background(), s.relayTimeout())
	go func() {
		defer cancel()
		r.run(relayCtx)
	}()

	return out, nil
}

// CancelMessage signals the relay streaming into threadID. It reports false
// when nothing is streaming there.
func (s *Service) CancelMessage(threadID string) (bool, error) {
	if strings.TrimSpace(threadID) == "" {
		return false, fmt.Errorf("%w: threadId is required", domain.ErrValidation)
	}
	ok := s.registry.Cancel(threadID)
	s.log.WithFields(logrus.Fields{"thread_id": threadID, "delivered": ok}).Info("cancel requested")
	return ok, nil
}

// ListModels retrieves the list of available models.
func (s *Service) ListModels(ctx context.Context) ([]llm.Model, error) {
	models, err := s.completer.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return models, nil
}

func (s *Service) checkPolicy(ctx context.Context, req *StartRequest) error {
	if s.policy == nil {
		return nil
	}
	input := policy.Input{Model: req.Model, CustomKey: req.CustomKey != ""}
	if req.ModelParams != nil {
		input.ReasoningEffort = string(req.ModelParams.ReasoningEffort)
		input.IncludeSearch = req.ModelParams.IncludeSearch
	}
	res, err := s.policy.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if !res.Allowed() {
		return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, strings.Join(res.Reasons, ", "))
	}
	return nil
}

func (s *Service) relayTimeout() time.Duration {
	if s.config.RelayTimeout > 0 {
		return s.config.RelayTimeout
	}
	return 10 * time.Minute
}

// toChatMessages converts stored messages to provider messages, skipping
// exclude and messages without text.
func toChatMessages(history []domain.Message, exclude string) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history))
	for i := range history {
		m := &history[i]
		if m.ID == exclude {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: text})
	}
	return messages
}

func partsText(parts []domain.MessagePart) string {
	var texts []string
	for _, p := range parts {
		if p.Type == domain.PartTypeText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
