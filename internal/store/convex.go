package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aerokeylabs/t4chat/internal/domain"
)

// Convex function paths.
const (
	fnThreadGetByID         = "threads:apiGetById"
	fnThreadSetTitle        = "threads:apiSetTitle"
	fnThreadGetMessagesTill = "threads:apiGetMessagesUntil"
	fnMessageGetByID        = "messages:apiGetById"
	fnMessageAppendText     = "messages:apiAppendText"
	fnMessageAppendReason   = "messages:apiAppendReasoning"
	fnMessageAppendAnnot    = "messages:apiAppendAnnotations"
	fnMessageComplete       = "messages:apiComplete"
	fnMessageCancel         = "messages:apiCancel"
)

// RPCError is returned when a Convex function call fails.
type RPCError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("convex %s failed [%d]: %s", e.Path, e.StatusCode, e.Message)
}

// ConvexStore talks to a Convex deployment over its HTTP function API.
// Every call carries the shared apiKey argument the api* functions check.
type ConvexStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewConvexStore creates a Convex client for the deployment at baseURL.
func NewConvexStore(baseURL, apiKey string, timeout time.Duration) *ConvexStore {
	return &ConvexStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ Store = (*ConvexStore)(nil)

type functionRequest struct {
	Path   string         `json:"path"`
	Args   map[string]any `json:"args"`
	Format string         `json:"format"`
}

type functionResponse struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"errorMessage"`
}

func (s *ConvexStore) call(ctx context.Context, kind, path string, args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	args["apiKey"] = s.apiKey

	body, err := json.Marshal(functionRequest{Path: path, Args: args, Format: "json"})
	if err != nil {
		return fmt.Errorf("failed to marshal %s args: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/"+kind, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	var result functionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return &RPCError{Path: path, StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK || result.Status != "success" {
		msg := result.ErrorMessage
		if msg == "" {
			msg = string(respBody)
		}
		return &RPCError{Path: path, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Value, out); err != nil {
		return fmt.Errorf("failed to decode %s value: %w", path, err)
	}
	return nil
}

func (s *ConvexStore) query(ctx context.Context, path string, args map[string]any, out any) error {
	return s.call(ctx, "query", path, args, out)
}

// mutation runs a mutation returning {_id} or null and reports whether a
// record was touched.
func (s *ConvexStore) mutation(ctx context.Context, path string, args map[string]any) (bool, error) {
	var ack *struct {
		ID string `json:"_id"`
	}
	if err := s.call(ctx, "mutation", path, args, &ack); err != nil {
		return false, err
	}
	return ack != nil, nil
}

// GetThreadByID fetches a thread.
func (s *ConvexStore) GetThreadByID(ctx context.Context, threadID string) (*domain.Thread, error) {
	var thread *domain.Thread
	if err := s.query(ctx, fnThreadGetByID, map[string]any{"id": threadID}, &thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// GetMessageByID fetches a message.
func (s *ConvexStore) GetMessageByID(ctx context.Context, messageID string) (*domain.Message, error) {
	var message *domain.Message
	if err := s.query(ctx, fnMessageGetByID, map[string]any{"id": messageID}, &message); err != nil {
		return nil, err
	}
	return message, nil
}

// GetMessagesUntil fetches the thread history up to untilID.
func (s *ConvexStore) GetMessagesUntil(ctx context.Context, threadID, untilID string) ([]domain.Message, error) {
	var messages []domain.Message
	args := map[string]any{"threadId": threadID, "untilId": untilID}
	if err := s.query(ctx, fnThreadGetMessagesTill, args, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendText appends text to the message's trailing text part.
func (s *ConvexStore) AppendText(ctx context.Context, messageID, text string) (bool, error) {
	return s.mutation(ctx, fnMessageAppendText, map[string]any{"messageId": messageID, "text": text})
}

// AppendReasoning appends to the message's reasoning.
func (s *ConvexStore) AppendReasoning(ctx context.Context, messageID, reasoning string) (bool, error) {
	return s.mutation(ctx, fnMessageAppendReason, map[string]any{"messageId": messageID, "reasoning": reasoning})
}

// AppendAnnotations adds url citations to the message.
func (s *ConvexStore) AppendAnnotations(ctx context.Context, messageID string, annotations []domain.Annotation) (bool, error) {
	return s.mutation(ctx, fnMessageAppendAnnot, map[string]any{"messageId": messageID, "annotations": annotations})
}

// Complete marks the message complete and records usage.
func (s *ConvexStore) Complete(ctx context.Context, a domain.CompleteArgs) (bool, error) {
	args := map[string]any{
		"messageId":          a.MessageID,
		"model":              a.Model,
		"promptTokenCount":   a.Usage.PromptTokenCount,
		"tokenCount":         a.Usage.CompletionTokenCount,
		"durationMs":         a.Usage.DurationMs,
		"tokensPerSecond":    a.Usage.TokensPerSecond,
		"timeToFirstTokenMs": a.Usage.TimeToFirstTokenMs,
	}
	if a.ModelParams != nil {
		args["modelParams"] = a.ModelParams
	}
	return s.mutation(ctx, fnMessageComplete, args)
}

// Cancel marks the message cancelled.
func (s *ConvexStore) Cancel(ctx context.Context, messageID string) (bool, error) {
	return s.mutation(ctx, fnMessageCancel, map[string]any{"messageId": messageID})
}

// SetTitle sets the thread title.
func (s *ConvexStore) SetTitle(ctx context.Context, threadID, title string) (bool, error) {
	return s.mutation(ctx, fnThreadSetTitle, map[string]any{"threadId": threadID, "title": title})
}
