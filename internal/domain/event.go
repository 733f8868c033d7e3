package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventKind is the wire tag of a ChatEvent.
type EventKind int

const (
	EventText         EventKind = 0
	EventReasoning    EventKind = 1
	EventAnnotations  EventKind = 2
	EventError        EventKind = 3
	EventCancelled    EventKind = 4
	EventRefusal      EventKind = 5
	EventEnd          EventKind = 6
	EventUnauthorized EventKind = 7
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventReasoning:
		return "reasoning"
	case EventAnnotations:
		return "annotations"
	case EventError:
		return "error"
	case EventCancelled:
		return "cancelled"
	case EventRefusal:
		return "refusal"
	case EventEnd:
		return "end"
	case EventUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// IsTerminal reports whether an event of this kind ends a relay.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventError, EventCancelled, EventRefusal, EventEnd, EventUnauthorized:
		return true
	}
	return false
}

// ChatEvent is one client-visible item of a relay.
type ChatEvent struct {
	Kind        EventKind
	Text        string
	Annotations []Annotation
}

// TextEvent builds a text delta event.
func TextEvent(text string) ChatEvent { return ChatEvent{Kind: EventText, Text: text} }

// ReasoningEvent builds a reasoning delta event.
func ReasoningEvent(text string) ChatEvent { return ChatEvent{Kind: EventReasoning, Text: text} }

// AnnotationsEvent builds an annotation batch event.
func AnnotationsEvent(a []Annotation) ChatEvent {
	return ChatEvent{Kind: EventAnnotations, Annotations: a}
}

// ErrorEvent builds an error event carrying a short message.
func ErrorEvent(msg string) ChatEvent { return ChatEvent{Kind: EventError, Text: msg} }

// RefusalEvent builds a refusal event.
func RefusalEvent(text string) ChatEvent { return ChatEvent{Kind: EventRefusal, Text: text} }

// Encode renders the event as a single wire line "<tag>:<payload>".
func (e ChatEvent) Encode() (string, error) {
	var payload string
	switch e.Kind {
	case EventText, EventReasoning, EventError, EventRefusal:
		payload = escapeLine(e.Text)
	case EventAnnotations:
		annotations := e.Annotations
		if annotations == nil {
			annotations = []Annotation{}
		}
		data, err := json.Marshal(annotations)
		if err != nil {
			return "", fmt.Errorf("marshal annotations: %w", err)
		}
		payload = string(data)
	case EventCancelled, EventEnd, EventUnauthorized:
	default:
		return "", fmt.Errorf("unknown event kind %d", e.Kind)
	}
	return strconv.Itoa(int(e.Kind)) + ":" + payload, nil
}

// DecodeChatEvent parses a wire line produced by Encode.
func DecodeChatEvent(line string) (ChatEvent, error) {
	tag, payload, ok := strings.Cut(line, ":")
	if !ok {
		return ChatEvent{}, fmt.Errorf("malformed event line %q", line)
	}
	n, err := strconv.Atoi(tag)
	if err != nil {
		return ChatEvent{}, fmt.Errorf("malformed event tag %q", tag)
	}

	e := ChatEvent{Kind: EventKind(n)}
	switch e.Kind {
	case EventText, EventReasoning, EventError, EventRefusal:
		e.Text = unescapeLine(payload)
	case EventAnnotations:
		if err := json.Unmarshal([]byte(payload), &e.Annotations); err != nil {
			return ChatEvent{}, fmt.Errorf("unmarshal annotations: %w", err)
		}
	case EventCancelled, EventEnd, EventUnauthorized:
	default:
		return ChatEvent{}, fmt.Errorf("unknown event tag %d", n)
	}
	return e, nil
}

func escapeLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", `\n`)
}

func unescapeLine(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
