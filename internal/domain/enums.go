// Package domain defines the core domain models for the relay.
package domain

// MessageStatus represents the lifecycle status of a message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusComplete  MessageStatus = "complete"
	MessageStatusCancelled MessageStatus = "cancelled"
	MessageStatusError     MessageStatus = "error"
)

// IsTerminal reports whether the status can no longer change.
func (s MessageStatus) IsTerminal() bool {
	return s != MessageStatusPending && s != ""
}

// Role represents the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ReasoningEffort is the provider reasoning hint.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// RelayState represents a stage of one message relay.
type RelayState string

const (
	RelayStateStarting   RelayState = "starting"
	RelayStateStreaming  RelayState = "streaming"
	RelayStateCompleting RelayState = "completing"
	RelayStateCancelling RelayState = "cancelling"
	RelayStateTerminated RelayState = "terminated"
)

// PartType is the discriminator of a message part.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeAttachment PartType = "attachment"
)
