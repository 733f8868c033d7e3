// Package llm provides the completion provider clients used by the relay.
package llm

import (
	"context"

	"github.com/aerokeylabs/t4chat/internal/domain"
)

// Source opens streaming completions.
type Source interface {
	// Open starts a streaming completion. Cancelling ctx aborts the upstream
	// connection and unblocks any pending Recv.
	Open(ctx context.Context, req *StreamRequest) (Stream, error)
}

// Stream is one open streaming completion.
type Stream interface {
	// Recv returns the next decoded delta. It returns io.EOF once the
	// provider closes the stream and a *ParseError for a single malformed
	// frame, after which Recv may be called again.
	Recv() (*Delta, error)

	// Usage returns the most recent token counters seen on any frame.
	Usage() Usage

	Close() error
}

// Completer performs single-shot completions and lists models.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
	ListModels(ctx context.Context) ([]Model, error)
}

// ChatMessage is one provider-facing message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest describes one streaming completion.
type StreamRequest struct {
	Model           string
	Messages        []ChatMessage
	ReasoningEffort domain.ReasoningEffort
	IncludeSearch   bool
	// CustomKey replaces the service key for this request when set.
	CustomKey string
}

// CompletionRequest describes one non-streaming completion.
type CompletionRequest struct {
	Model     string
	Messages  []ChatMessage
	MaxTokens int
	CustomKey string
}

// DeltaKind discriminates decoded provider frames.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaFinished
	DeltaRefusal
)

// Delta is one decoded provider frame.
type Delta struct {
	Kind         DeltaKind
	Content      string
	Reasoning    string
	Annotations  []domain.Annotation
	FinishReason string
	Refusal      string
}

// Usage holds provider token counters.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model is one entry of the provider model catalog.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
