package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/config"
	"github.com/aerokeylabs/t4chat/internal/domain"
	"github.com/aerokeylabs/t4chat/internal/metrics"
	"github.com/aerokeylabs/t4chat/internal/policy"
	"github.com/aerokeylabs/t4chat/internal/registry"
	"github.com/aerokeylabs/t4chat/pkg/logger"
)

// streamItem is one scripted Recv result. A nil delta with a nil err only
// updates usage.
type streamItem struct {
	delta *llm.Delta
	err   error
	usage *llm.Usage
}

func text(s string) streamItem { return streamItem{delta: &llm.Delta{Kind: llm.DeltaText, Content: s}} }

func reasoning(s string) streamItem {
	return streamItem{delta: &llm.Delta{Kind: llm.DeltaText, Reasoning: s}}
}

func finished() streamItem {
	return streamItem{delta: &llm.Delta{Kind: llm.DeltaFinished, FinishReason: "stop"}}
}

func usage(prompt, completion int) streamItem {
	return streamItem{usage: &llm.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}}
}

// script returns a closed channel holding items, so the stream ends with EOF.
func script(items ...streamItem) chan streamItem {
	ch := make(chan streamItem, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	return ch
}

// fakeSource hands out one scripted stream per Open.
type fakeSource struct {
	mu       sync.Mutex
	scripts  []chan streamItem
	openErr  error
	opens    int
	requests []*llm.StreamRequest
}

func (f *fakeSource) Open(ctx context.Context, req *llm.StreamRequest) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	if len(f.scripts) == 0 {
		return nil, errors.New("no scripted stream")
	}
	items := f.scripts[0]
	f.scripts = f.scripts[1:]
	return &fakeStream{ctx: ctx, items: items}, nil
}

func (f *fakeSource) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeStream struct {
	ctx   context.Context
	items chan streamItem

	mu    sync.Mutex
	usage llm.Usage
}

func (s *fakeStream) Recv() (*llm.Delta, error) {
	for {
		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case it, ok := <-s.items:
			if !ok {
				return nil, io.EOF
			}
			if it.usage != nil {
				s.mu.Lock()
				s.usage = *it.usage
				s.mu.Unlock()
			}
			if it.delta == nil && it.err == nil {
				continue
			}
			return it.delta, it.err
		}
	}
}

func (s *fakeStream) Usage() llm.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *fakeStream) Close() error { return nil }

// fakeCompleter answers title requests.
type fakeCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []*llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeCompleter) ListModels(ctx context.Context) ([]llm.Model, error) {
	return []llm.Model{{ID: "openai/gpt-4o", Object: "model"}}, nil
}

func (f *fakeCompleter) Calls() []*llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*llm.CompletionRequest(nil), f.requests...)
}

// fakeStore records every write the relay makes.
type fakeStore struct {
	mu sync.Mutex

	threads  map[string]*domain.Thread
	messages map[string]*domain.Message
	history  []domain.Message

	rejectText     bool
	rejectComplete bool

	writes
}

type writes struct {
	texts       []string
	reasonings  []string
	annotations [][]domain.Annotation
	completes   []domain.CompleteArgs
	cancels     []string
	titles      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		threads: map[string]*domain.Thread{"t1": {ID: "t1"}},
		messages: map[string]*domain.Message{
			"m2": {ID: "m2", ThreadID: "t1", Role: domain.RoleAssistant, Status: domain.MessageStatusPending},
		},
		history: []domain.Message{
			{ID: "m1", ThreadID: "t1", Role: domain.RoleUser, Parts: []domain.MessagePart{{Type: domain.PartTypeText, Text: "hello"}}},
			{ID: "m2", ThreadID: "t1", Role: domain.RoleAssistant},
		},
	}
}

func (s *fakeStore) GetThreadByID(ctx context.Context, threadID string) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[threadID], nil
}

func (s *fakeStore) GetMessageByID(ctx context.Context, messageID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[messageID], nil
}

func (s *fakeStore) GetMessagesUntil(ctx context.Context, threadID, untilID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.history...), nil
}

func (s *fakeStore) AppendText(ctx context.Context, messageID, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectText {
		return false, nil
	}
	s.texts = append(s.texts, text)
	return true, nil
}

func (s *fakeStore) AppendReasoning(ctx context.Context, messageID, reasoning string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasonings = append(s.reasonings, reasoning)
	return true, nil
}

func (s *fakeStore) AppendAnnotations(ctx context.Context, messageID string, annotations []domain.Annotation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations = append(s.annotations, annotations)
	return true, nil
}

func (s *fakeStore) Complete(ctx context.Context, args domain.CompleteArgs) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes = append(s.completes, args)
	return !s.rejectComplete, nil
}

func (s *fakeStore) Cancel(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, messageID)
	return true, nil
}

func (s *fakeStore) SetTitle(ctx context.Context, threadID, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return true, nil
}

// snapshot returns a copy of the recorded writes.
func (s *fakeStore) snapshot() writes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writes{
		texts:       append([]string(nil), s.texts...),
		reasonings:  append([]string(nil), s.reasonings...),
		annotations: append([][]domain.Annotation(nil), s.annotations...),
		completes:   append([]domain.CompleteArgs(nil), s.completes...),
		cancels:     append([]string(nil), s.cancels...),
		titles:      append([]string(nil), s.titles...),
	}
}

type testEnv struct {
	svc       *Service
	store     *fakeStore
	source    *fakeSource
	completer *fakeCompleter
	registry  *registry.Registry
}

func newTestEnv(t *testing.T, scripts ...chan streamItem) *testEnv {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	env := &testEnv{
		store:     newFakeStore(),
		source:    &fakeSource{scripts: scripts},
		completer: &fakeCompleter{reply: ` "Greeting Exchange" `},
		registry:  registry.New(),
	}
	env.svc = New(Deps{
		Store:     env.store,
		Source:    env.source,
		Completer: env.completer,
		Registry:  env.registry,
		Policy:    engine,
		Metrics:   metrics.NewExporter(metrics.DefaultConfig()),
		Config:    &config.Config{TitleModel: "anthropic/claude-3-haiku", RelayTimeout: 5 * time.Second},
		Log:       logger.Discard(),
	})
	return env
}

func (env *testEnv) start(t *testing.T) <-chan domain.ChatEvent {
	t.Helper()
	out, err := env.svc.StartMessage(context.Background(), &StartRequest{
		ThreadID:          "t1",
		ResponseMessageID: "m2",
		Model:             "openai/gpt-4o",
		ModelParams:       &domain.ModelParams{ReasoningEffort: domain.ReasoningEffortLow},
	})
	if err != nil {
		t.Fatalf("StartMessage failed: %v", err)
	}
	return out
}

// drain reads events until the relay closes the channel.
func drain(t *testing.T, out <-chan domain.ChatEvent) []domain.ChatEvent {
	t.Helper()
	var events []domain.ChatEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("relay did not finish, got %d events", len(events))
			return nil
		}
	}
}

// next reads exactly one event.
func next(t *testing.T, out <-chan domain.ChatEvent) domain.ChatEvent {
	t.Helper()
	select {
	case ev, ok := <-out:
		if !ok {
			t.Fatal("relay closed early")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.ChatEvent{}
}

// requireSingleTerminal checks that events end with exactly one terminal
// event and returns it.
func requireSingleTerminal(t *testing.T, events []domain.ChatEvent) domain.ChatEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	terminals := 0
	for _, ev := range events {
		if ev.Kind.IsTerminal() {
			terminals++
		}
	}
	last := events[len(events)-1]
	if terminals != 1 || !last.Kind.IsTerminal() {
		t.Fatalf("expected one trailing terminal event, got %d in %+v", terminals, events)
	}
	return last
}

func textOf(events []domain.ChatEvent, kind domain.EventKind) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == kind {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}
