package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const completionsPath = "/chat/completions"

// Client is the OpenRouter streaming client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient creates a new OpenRouter client. A zero timeout leaves streams unbounded.
func NewClient(baseURL, apiKey string, timeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

var _ Source = (*Client)(nil)

type reasoningOptions struct {
	Effort string `json:"effort"`
}

type usageOptions struct {
	Include bool `json:"include"`
}

type plugin struct {
	ID string `json:"id"`
}

// completionBody is the provider request payload.
type completionBody struct {
	Model     string            `json:"model"`
	Messages  []ChatMessage     `json:"messages"`
	Stream    bool              `json:"stream"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Reasoning *reasoningOptions `json:"reasoning,omitempty"`
	Usage     usageOptions      `json:"usage"`
	Plugins   []plugin          `json:"plugins,omitempty"`
}

// Open sends a streaming chat completion request.
func (c *Client) Open(ctx context.Context, req *StreamRequest) (Stream, error) {
	payload := completionBody{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Usage:    usageOptions{Include: true},
	}
	if req.ReasoningEffort != "" {
		payload.Reasoning = &reasoningOptions{Effort: string(req.ReasoningEffort)}
	}
	if req.IncludeSearch {
		payload.Plugins = []plugin{{ID: "web"}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, req.CustomKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized && req.CustomKey != "" {
			return nil, ErrUnauthorized
		}
		return nil, &NotOkError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ParseError{Data: string(respBody), Err: errors.New("expected an event stream")}
	}

	return &sseStream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		log:    c.log,
	}, nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request, customKey string) {
	req.Header.Set("Content-Type", "application/json")
	key := c.apiKey
	if customKey != "" {
		key = customKey
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// sseStream decodes an OpenRouter event stream.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	log    logrus.FieldLogger

	mu    sync.Mutex
	usage Usage
}

// Recv reads frames until one decodes to a delta.
func (s *sseStream) Recv() (*Delta, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		// blank separators and ": keep-alive" comments
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		if !strings.HasPrefix(data, "{") {
			s.log.WithField("data", data).Warn("received non-JSON data from provider")
			continue
		}

		chunk, err := parseChunk(data)
		if err != nil {
			s.log.WithError(err).Error("failed to parse provider frame")
			return nil, err
		}

		if chunk.Usage != nil {
			s.mu.Lock()
			s.usage = *chunk.Usage
			s.mu.Unlock()
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		return decodeChoice(&chunk.Choices[0]), nil
	}
}

func (s *sseStream) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
