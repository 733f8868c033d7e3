package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/domain"
	"github.com/aerokeylabs/t4chat/internal/metrics"
)

// flushThreshold is the number of buffered runes that triggers a store write.
const flushThreshold = 100

// accumulator buffers text or reasoning until it is written to the store.
type accumulator struct {
	kind  string
	buf   strings.Builder
	runes int
}

func (a *accumulator) add(s string) bool {
	a.buf.WriteString(s)
	a.runes += utf8.RuneCountInString(s)
	return a.runes >= flushThreshold
}

func (a *accumulator) reset() {
	a.buf.Reset()
	a.runes = 0
}

type appendFunc func(ctx context.Context, messageID, text string) (bool, error)

// relay streams one provider completion into one pending message.
type relay struct {
	svc *Service
	log logrus.FieldLogger

	thread    *domain.Thread
	messageID string
	model     string
	params    *domain.ModelParams
	customKey string
	request   *llm.StreamRequest

	kill      chan struct{}
	out       chan<- domain.ChatEvent
	clientCtx context.Context

	started time.Time
	// claimed is set by whichever listener decides the terminal event.
	claimed atomic.Bool

	// Owned by the event listener until the race is decided.
	text          accumulator
	reasoning     accumulator
	firstToken    time.Duration
	sawFirstToken bool
	usage         llm.Usage
	persistFailed bool
	// opened is set once the provider stream is open. A relay that never
	// opened ends without completing the message.
	opened bool
}

func (r *relay) run(ctx context.Context) {
	defer close(r.out)
	defer r.svc.registry.Unregister(r.thread.ID, r.kill)

	r.started = time.Now()
	r.text.kind = "text"
	r.reasoning.kind = "reasoning"
	r.svc.metrics.RelayStarted()
	r.setState(domain.RelayStateStarting)

	terminal := r.race(ctx)
	duration := time.Since(r.started)
	persistCtx := context.WithoutCancel(ctx)

	outcome := outcomeOf(terminal.Kind)
	finishing := terminal.Kind != domain.EventCancelled && r.opened
	if finishing {
		r.setState(domain.RelayStateCompleting)
	}
	r.emit(terminal)

	if finishing {
		switch {
		case r.persistFailed:
			outcome = metrics.OutcomeError
		default:
			if err := r.complete(persistCtx, duration); err != nil {
				r.log.WithError(err).Error("failed to complete message")
				outcome = metrics.OutcomeError
				break
			}
			if !r.thread.HasTitle() {
				r.generateTitle(persistCtx)
			}
		}
	}

	r.setState(domain.RelayStateTerminated)
	r.svc.metrics.RelayFinished(outcome, duration)
	r.log.WithFields(logrus.Fields{
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
	}).Info("relay finished")
}

// race runs the event and kill listeners and returns the terminal event of
// whichever claims the relay first. The loser is stopped through its
// context.
func (r *relay) race(ctx context.Context) domain.ChatEvent {
	upstreamCtx, abortUpstream := context.WithCancel(ctx)
	defer abortUpstream()
	killCtx, stopKill := context.WithCancel(ctx)
	defer stopKill()

	var (
		g        errgroup.Group
		terminal domain.ChatEvent
	)

	g.Go(func() error {
		select {
		case <-r.kill:
		case <-killCtx.Done():
			return nil
		}
		if !r.claimed.CompareAndSwap(false, true) {
			return nil
		}
		abortUpstream()
		r.setState(domain.RelayStateCancelling)
		r.log.Info("streaming killed, cleaning up")

		ok, err := r.svc.store.Cancel(context.WithoutCancel(ctx), r.messageID)
		if err != nil {
			r.log.WithError(err).Error("failed to mark message as cancelled")
		} else if !ok {
			r.log.Error("store refused to mark message as cancelled")
		}
		terminal = domain.ChatEvent{Kind: domain.EventCancelled}
		return nil
	})

	g.Go(func() error {
		ev := r.listen(upstreamCtx)
		if !r.claimed.CompareAndSwap(false, true) {
			return nil
		}
		stopKill()

		if !r.persistFailed {
			flushCtx := context.WithoutCancel(ctx)
			err := r.flush(flushCtx, &r.reasoning, r.svc.store.AppendReasoning)
			if err == nil {
				err = r.flush(flushCtx, &r.text, r.svc.store.AppendText)
			}
			if err != nil {
				r.persistFailed = true
				r.log.WithError(err).Error("failed to persist remaining output")
				ev = domain.ErrorEvent("failed to persist message")
			}
		}
		terminal = ev
		return nil
	})

	_ = g.Wait()
	return terminal
}

// listen consumes provider deltas until the stream ends or fails and
// returns the event that ended it.
func (r *relay) listen(ctx context.Context) domain.ChatEvent {
	stream, err := r.svc.source.Open(ctx, r.request)
	if err != nil {
		if errors.Is(err, llm.ErrUnauthorized) {
			r.log.Warn("provider rejected the custom key")
			return domain.ChatEvent{Kind: domain.EventUnauthorized}
		}
		r.log.WithError(err).Error("failed to open provider stream")
		return domain.ErrorEvent("failed to open provider stream")
	}
	r.opened = true
	defer func() {
		r.usage = stream.Usage()
		stream.Close()
	}()
	r.setState(domain.RelayStateStreaming)

	for {
		delta, err := stream.Recv()
		if r.claimed.Load() {
			return domain.ChatEvent{Kind: domain.EventCancelled}
		}
		if errors.Is(err, io.EOF) {
			return domain.ChatEvent{Kind: domain.EventEnd}
		}
		var parseErr *llm.ParseError
		if errors.As(err, &parseErr) {
			r.svc.metrics.Frame("malformed")
			r.log.WithError(err).Warn("skipping malformed provider frame")
			continue
		}
		if err != nil {
			r.log.WithError(err).Error("provider stream failed")
			return domain.ErrorEvent("provider stream failed")
		}

		switch delta.Kind {
		case llm.DeltaRefusal:
			r.svc.metrics.Frame("refusal")
			return domain.RefusalEvent(delta.Refusal)
		case llm.DeltaFinished:
			r.svc.metrics.Frame("finished")
			r.log.WithField("finish_reason", delta.FinishReason).Debug("provider finished")
		default:
			r.svc.metrics.Frame("text")
		}

		if err := r.consume(ctx, delta); err != nil {
			r.persistFailed = true
			r.log.WithError(err).Error("failed to persist message progress")
			return domain.ErrorEvent("failed to persist message")
		}
	}
}

func (r *relay) consume(ctx context.Context, d *llm.Delta) error {
	if d.Reasoning != "" {
		r.markFirstToken()
		r.emit(domain.ReasoningEvent(d.Reasoning))
		if r.reasoning.add(d.Reasoning) {
			if err := r.flush(ctx, &r.reasoning, r.svc.store.AppendReasoning); err != nil {
				return err
			}
		}
	}

	if d.Content != "" {
		r.markFirstToken()
		r.emit(domain.TextEvent(d.Content))
		if r.text.add(d.Content) {
			if err := r.flush(ctx, &r.text, r.svc.store.AppendText); err != nil {
				return err
			}
		}
	}

	if len(d.Annotations) > 0 {
		r.emit(domain.AnnotationsEvent(d.Annotations))
		ok, err := r.svc.store.AppendAnnotations(ctx, r.messageID, d.Annotations)
		r.svc.metrics.Flush("annotations", err == nil && ok)
		if err := persisted("annotations", ok, err); err != nil {
			return err
		}
	}
	return nil
}

// flush writes a non-empty accumulator to the store and resets it.
func (r *relay) flush(ctx context.Context, acc *accumulator, write appendFunc) error {
	if acc.buf.Len() == 0 {
		return nil
	}
	ok, err := write(ctx, r.messageID, acc.buf.String())
	r.svc.metrics.Flush(acc.kind, err == nil && ok)
	if err := persisted(acc.kind, ok, err); err != nil {
		return err
	}
	acc.reset()
	return nil
}

func persisted(kind string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%w: append %s: %w", domain.ErrPersistence, kind, err)
	}
	if !ok {
		return fmt.Errorf("%w: append %s rejected", domain.ErrPersistence, kind)
	}
	return nil
}

func (r *relay) markFirstToken() {
	if r.sawFirstToken {
		return
	}
	r.sawFirstToken = true
	r.firstToken = time.Since(r.started)
	r.svc.metrics.TimeToFirstToken(r.firstToken)
}

// emit publishes ev to watchers and queues it for the client. Once the
// client is gone events are dropped.
func (r *relay) emit(ev domain.ChatEvent) {
	if r.svc.publisher != nil {
		line, err := ev.Encode()
		if err != nil {
			r.log.WithError(err).Error("failed to encode event")
		} else {
			r.svc.publisher.Publish(r.thread.ID, []byte(line))
		}
	}
	select {
	case r.out <- ev:
	case <-r.clientCtx.Done():
	}
}

func (r *relay) complete(ctx context.Context, duration time.Duration) error {
	usage := domain.NewUsageStats(r.usage.PromptTokens, r.usage.CompletionTokens, duration, r.firstToken)
	ok, err := r.svc.store.Complete(ctx, domain.CompleteArgs{
		MessageID:   r.messageID,
		Model:       r.model,
		ModelParams: r.params,
		Usage:       usage,
	})
	if err != nil {
		return fmt.Errorf("%w: complete message: %w", domain.ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: complete message rejected", domain.ErrPersistence)
	}
	r.log.WithFields(logrus.Fields{
		"prompt_tokens":     usage.PromptTokenCount,
		"completion_tokens": usage.CompletionTokenCount,
		"tokens_per_second": usage.TokensPerSecond,
		"ttft_ms":           usage.TimeToFirstTokenMs,
	}).Info("message completed")
	return nil
}

// generateTitle names the thread. Failures are logged only.
func (r *relay) generateTitle(ctx context.Context) {
	history, err := r.svc.store.GetMessagesUntil(ctx, r.thread.ID, r.messageID)
	if err != nil {
		r.log.WithError(err).Warn("failed to load history for title")
		return
	}

	title, err := r.svc.titles.Generate(ctx, toChatMessages(history, ""), r.customKey)
	if err != nil {
		r.log.WithError(err).Warn("failed to generate title")
		return
	}

	ok, err := r.svc.store.SetTitle(ctx, r.thread.ID, title)
	if err != nil {
		r.log.WithError(err).Warn("failed to set thread title")
		return
	}
	if !ok {
		r.log.Warn("store refused thread title")
		return
	}
	r.log.WithField("title", title).Info("thread titled")
}

func (r *relay) setState(state domain.RelayState) {
	r.log.WithField("state", state).Debug("relay state changed")
}

func outcomeOf(kind domain.EventKind) string {
	switch kind {
	case domain.EventEnd:
		return metrics.OutcomeCompleted
	case domain.EventCancelled:
		return metrics.OutcomeCancelled
	case domain.EventRefusal:
		return metrics.OutcomeRefused
	case domain.EventUnauthorized:
		return metrics.OutcomeUnauthorized
	}
	return metrics.OutcomeError
}
