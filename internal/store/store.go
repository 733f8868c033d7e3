// Package store provides the document store façade used by the relay.
package store

import (
	"context"

	"github.com/aerokeylabs/t4chat/internal/domain"
)

// Store is the document store the relay reads threads from and writes
// progress to. Lookups return nil without error when the record does not
// exist; mutations report false when the store refused the write.
type Store interface {
	GetThreadByID(ctx context.Context, threadID string) (*domain.Thread, error)
	GetMessageByID(ctx context.Context, messageID string) (*domain.Message, error)
	// GetMessagesUntil returns the thread's messages in creation order up to
	// and including untilID.
	GetMessagesUntil(ctx context.Context, threadID, untilID string) ([]domain.Message, error)

	AppendText(ctx context.Context, messageID, text string) (bool, error)
	AppendReasoning(ctx context.Context, messageID, reasoning string) (bool, error)
	AppendAnnotations(ctx context.Context, messageID string, annotations []domain.Annotation) (bool, error)
	Complete(ctx context.Context, args domain.CompleteArgs) (bool, error)
	Cancel(ctx context.Context, messageID string) (bool, error)
	SetTitle(ctx context.Context, threadID, title string) (bool, error)
}
