package llm

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// MockClient is a provider stand-in used when RELAY_MODE=MOCK.
type MockClient struct {
	// ChunkSize is the number of runes per streamed delta.
	ChunkSize int
	// Interval is the delay between deltas.
	Interval time.Duration
}

// NewMockClient creates a new mock provider client.
func NewMockClient() *MockClient {
	return &MockClient{ChunkSize: 8, Interval: 25 * time.Millisecond}
}

var (
	_ Source    = (*MockClient)(nil)
	_ Completer = (*MockClient)(nil)
)

// Open streams a canned reply that echoes the last user message.
func (m *MockClient) Open(ctx context.Context, req *StreamRequest) (Stream, error) {
	reply := m.generateMockResponse(req.Messages)
	return &mockStream{
		ctx:      ctx,
		chunks:   splitRunes(reply, m.ChunkSize),
		interval: m.Interval,
		usage: Usage{
			PromptTokens:     estimateTokens(req.Messages),
			CompletionTokens: utf8.RuneCountInString(reply) / 4,
		},
	}, nil
}

// Complete returns a fixed title-like reply.
func (m *MockClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	return `"Mock Conversation"`, nil
}

// ListModels returns a list of mock models.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{
		{ID: "mock/echo", Object: "model", Created: time.Now().Unix(), OwnedBy: "mock"},
		{ID: "mock/echo-reasoning", Object: "model", Created: time.Now().Unix(), OwnedBy: "mock"},
	}, nil
}

// generateMockResponse builds the reply from the last user message.
func (m *MockClient) generateMockResponse(messages []ChatMessage) string {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	if last == "" {
		return "[MOCK] This is a mock response."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(last, 100))
}

type mockStream struct {
	ctx      context.Context
	chunks   []string
	pos      int
	interval time.Duration
	usage    Usage
	finished bool
}

func (s *mockStream) Recv() (*Delta, error) {
	if s.interval > 0 {
		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-time.After(s.interval):
		}
	} else if err := s.ctx.Err(); err != nil {
		return nil, err
	}

	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		return &Delta{Kind: DeltaText, Content: chunk}, nil
	}
	if !s.finished {
		s.finished = true
		return &Delta{Kind: DeltaFinished, FinishReason: "stop"}, nil
	}
	return nil, io.EOF
}

func (s *mockStream) Usage() Usage {
	if !s.finished {
		return Usage{}
	}
	u := s.usage
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func (s *mockStream) Close() error { return nil }

// estimateTokens provides a rough token count estimate.
func estimateTokens(messages []ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += utf8.RuneCountInString(msg.Content) / 4
	}
	return total
}

// splitRunes splits s into chunks of at most size runes.
func splitRunes(s string, size int) []string {
	if size <= 0 {
		size = 8
	}
	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// truncate truncates a string to the given number of runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
