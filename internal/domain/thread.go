package domain

import "strings"

// Thread is a conversation holding ordered messages.
type Thread struct {
	ID    string  `json:"_id"`
	Title *string `json:"title,omitempty"`
}

// HasTitle reports whether a title has already been set.
func (t *Thread) HasTitle() bool {
	return t.Title != nil && strings.TrimSpace(*t.Title) != ""
}

// MessagePart is one content part of a message.
type MessagePart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	ID   string   `json:"id,omitempty"`
}

// Annotation is a url citation attached to an assistant message.
type Annotation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// ModelParams are the generation options the message was requested with.
type ModelParams struct {
	ReasoningEffort ReasoningEffort `json:"reasoningEffort"`
	IncludeSearch   bool            `json:"includeSearch"`
}

// Message is one turn in a thread.
type Message struct {
	ID          string        `json:"_id"`
	ThreadID    string        `json:"threadId"`
	Role        Role          `json:"role"`
	Status      MessageStatus `json:"status,omitempty"`
	Parts       []MessagePart `json:"parts"`
	Reasoning   string        `json:"reasoning,omitempty"`
	Annotations []Annotation  `json:"annotations,omitempty"`
	Model       string        `json:"model,omitempty"`
	ModelParams *ModelParams  `json:"modelParams,omitempty"`
	CreatedAt   float64       `json:"_creationTime,omitempty"`
}

// Text joins the text parts of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartTypeText {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// CompleteArgs are the values written when a message finishes streaming.
type CompleteArgs struct {
	MessageID   string
	Model       string
	ModelParams *ModelParams
	Usage       UsageStats
}
