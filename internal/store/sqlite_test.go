package store

import (
	"context"
	"testing"

	"github.com/aerokeylabs/t4chat/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedThread(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateThread(ctx, &domain.Thread{ID: "t1"}); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	msgs := []*domain.Message{
		{ID: "m1", ThreadID: "t1", Role: domain.RoleUser, Status: domain.MessageStatusComplete,
			Parts: []domain.MessagePart{{Type: domain.PartTypeText, Text: "hello"}}},
		{ID: "m2", ThreadID: "t1", Role: domain.RoleAssistant},
		{ID: "m3", ThreadID: "t1", Role: domain.RoleUser, Status: domain.MessageStatusComplete},
	}
	for _, m := range msgs {
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage %s failed: %v", m.ID, err)
		}
	}
}

func TestSQLiteStoreThreadAndTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedThread(t, s)

	thread, err := s.GetThreadByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThreadByID failed: %v", err)
	}
	if thread == nil || thread.HasTitle() {
		t.Fatalf("unexpected thread: %+v", thread)
	}

	ok, err := s.SetTitle(ctx, "t1", "Greetings")
	if err != nil || !ok {
		t.Fatalf("SetTitle = %v, %v", ok, err)
	}
	thread, _ = s.GetThreadByID(ctx, "t1")
	if thread.Title == nil || *thread.Title != "Greetings" {
		t.Fatalf("title not set: %+v", thread)
	}

	if ok, _ := s.SetTitle(ctx, "missing", "x"); ok {
		t.Fatalf("SetTitle on missing thread reported success")
	}
	if missing, _ := s.GetThreadByID(ctx, "missing"); missing != nil {
		t.Fatalf("expected nil thread, got %+v", missing)
	}
}

func TestSQLiteStoreAppendText(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedThread(t, s)

	for _, chunk := range []string{"Hel", "lo, ", "world"} {
		ok, err := s.AppendText(ctx, "m2", chunk)
		if err != nil || !ok {
			t.Fatalf("AppendText = %v, %v", ok, err)
		}
	}

	msg, err := s.GetMessageByID(ctx, "m2")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if len(msg.Parts) != 1 || msg.Text() != "Hello, world" {
		t.Fatalf("unexpected parts: %+v", msg.Parts)
	}
	if msg.Status != domain.MessageStatusPending {
		t.Fatalf("expected pending, got %s", msg.Status)
	}

	if ok, _ := s.AppendText(ctx, "missing", "x"); ok {
		t.Fatalf("AppendText on missing message reported success")
	}
}

func TestSQLiteStoreReasoningAndAnnotations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedThread(t, s)

	if ok, _ := s.AppendReasoning(ctx, "m2", "step one. "); !ok {
		t.Fatalf("AppendReasoning failed")
	}
	if ok, _ := s.AppendReasoning(ctx, "m2", "step two."); !ok {
		t.Fatalf("AppendReasoning failed")
	}
	// reasoning only lands on assistant messages
	if ok, _ := s.AppendReasoning(ctx, "m1", "nope"); ok {
		t.Fatalf("AppendReasoning on user message reported success")
	}

	a := domain.Annotation{Title: "Go", URL: "https://go.dev", Content: "c"}
	b := domain.Annotation{Title: "Pkg", URL: "https://pkg.go.dev", Content: "d"}
	if ok, _ := s.AppendAnnotations(ctx, "m2", []domain.Annotation{a}); !ok {
		t.Fatalf("AppendAnnotations failed")
	}
	if ok, _ := s.AppendAnnotations(ctx, "m2", []domain.Annotation{a, b}); !ok {
		t.Fatalf("AppendAnnotations failed")
	}

	msg, _ := s.GetMessageByID(ctx, "m2")
	if msg.Reasoning != "step one. step two." {
		t.Fatalf("unexpected reasoning: %q", msg.Reasoning)
	}
	if len(msg.Annotations) != 2 {
		t.Fatalf("expected 2 deduplicated annotations, got %+v", msg.Annotations)
	}
}

func TestSQLiteStoreCompleteAndCancel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedThread(t, s)

	usage := domain.UsageStats{PromptTokenCount: 10, CompletionTokenCount: 100, DurationMs: 1000, TokensPerSecond: 100, TimeToFirstTokenMs: 42}
	ok, err := s.Complete(ctx, domain.CompleteArgs{
		MessageID:   "m2",
		Model:       "openai/gpt-4o",
		ModelParams: &domain.ModelParams{ReasoningEffort: domain.ReasoningEffortLow, IncludeSearch: true},
		Usage:       usage,
	})
	if err != nil || !ok {
		t.Fatalf("Complete = %v, %v", ok, err)
	}

	msg, _ := s.GetMessageByID(ctx, "m2")
	if msg.Status != domain.MessageStatusComplete || msg.Model != "openai/gpt-4o" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.ModelParams == nil || !msg.ModelParams.IncludeSearch {
		t.Fatalf("model params not stored: %+v", msg.ModelParams)
	}
	got, err := s.GetUsage(ctx, "m2")
	if err != nil || got == nil || *got != usage {
		t.Fatalf("GetUsage = %+v, %v", got, err)
	}

	if ok, _ := s.Complete(ctx, domain.CompleteArgs{MessageID: "missing"}); ok {
		t.Fatalf("Complete on missing message reported success")
	}

	if ok, _ := s.Cancel(ctx, "m2"); !ok {
		t.Fatalf("Cancel failed")
	}
	msg, _ = s.GetMessageByID(ctx, "m2")
	if msg.Status != domain.MessageStatusCancelled {
		t.Fatalf("expected cancelled, got %s", msg.Status)
	}
}

func TestSQLiteStoreGetMessagesUntil(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedThread(t, s)

	msgs, err := s.GetMessagesUntil(ctx, "t1", "m2")
	if err != nil {
		t.Fatalf("GetMessagesUntil failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	msgs, _ = s.GetMessagesUntil(ctx, "t1", "m3")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	if msgs, _ := s.GetMessagesUntil(ctx, "other", "m2"); msgs != nil {
		t.Fatalf("expected nil for foreign until id, got %+v", msgs)
	}
}
