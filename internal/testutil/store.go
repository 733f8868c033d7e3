// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/aerokeylabs/t4chat/internal/domain"
	"github.com/aerokeylabs/t4chat/internal/store"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedConversation creates an untitled thread holding one user message with
// text and a pending assistant message. It returns the assistant message id.
func SeedConversation(t *testing.T, s *store.SQLiteStore, threadID, text string) string {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateThread(ctx, &domain.Thread{ID: threadID}); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	user := &domain.Message{
		ID:       threadID + "-user",
		ThreadID: threadID,
		Role:     domain.RoleUser,
		Status:   domain.MessageStatusComplete,
		Parts:    []domain.MessagePart{{Type: domain.PartTypeText, Text: text}},
	}
	if err := s.CreateMessage(ctx, user); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	reply := &domain.Message{
		ID:       threadID + "-reply",
		ThreadID: threadID,
		Role:     domain.RoleAssistant,
		Status:   domain.MessageStatusPending,
	}
	if err := s.CreateMessage(ctx, reply); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	return reply.ID
}
