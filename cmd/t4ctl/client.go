package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/domain"
)

// Client talks to a running relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the relay at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// SendRequest is the body of POST /message.
type SendRequest struct {
	ThreadID          string              `json:"threadId"`
	ResponseMessageID string              `json:"responseMessageId"`
	Model             string              `json:"model"`
	ModelParams       *domain.ModelParams `json:"modelParams,omitempty"`
	CustomKey         string              `json:"customKey,omitempty"`
}

// Send starts a relay and calls fn for every event until the end frame.
func (c *Client) Send(ctx context.Context, req *SendRequest, fn func(domain.ChatEvent)) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			if event == "end" {
				return nil
			}
		case strings.HasPrefix(line, "data: ") && event == "message":
			ev, err := domain.DecodeChatEvent(strings.TrimPrefix(line, "data: "))
			if err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			fn(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream closed before end frame")
}

// Cancel asks the relay to stop streaming into threadID.
func (c *Client) Cancel(ctx context.Context, threadID string) (bool, error) {
	body, _ := json.Marshal(map[string]string{"threadId": threadID})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message/cancel", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, decodeError(resp)
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return result.Success, nil
}

// Models lists the provider models.
func (c *Client) Models(ctx context.Context) ([]llm.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result struct {
		Data []llm.Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Data, nil
}

// Watch follows the events of threadID over the websocket until ctx ends
// or the connection closes.
func (c *Client) Watch(ctx context.Context, threadID string, fn func(domain.ChatEvent)) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"threadId": {threadID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		ev, err := domain.DecodeChatEvent(string(data))
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(ev)
	}
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, body.Error)
}
