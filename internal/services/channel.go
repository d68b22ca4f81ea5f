package services

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/MegaGrindStone/streamchat/internal/models"
)

// eventsBuffer bounds how far a producer may run ahead of the session consuming its events.
const eventsBuffer = 64

// streamChannel is a push channel fed by a producer goroutine. Close cancels the producer's context and
// waits for it to return, so no goroutine outlives the channel.
type streamChannel struct {
	events chan models.Event
	cancel context.CancelFunc

	closeOnce sync.Once
	finished  chan struct{}
}

func newStreamChannel(ctx context.Context, produce func(ctx context.Context, emit func(models.Event) bool)) *streamChannel {
	ctx, cancel := context.WithCancel(ctx)
	c := &streamChannel{
		events:   make(chan models.Event, eventsBuffer),
		cancel:   cancel,
		finished: make(chan struct{}),
	}

	go func() {
		defer close(c.finished)
		defer close(c.events)

		produce(ctx, func(ev models.Event) bool {
			select {
			case c.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return c
}

// seqChannel turns a text stream into a push channel: every yielded fragment becomes a partial event,
// a clean end becomes done and an error becomes the terminal error event.
func seqChannel(ctx context.Context, seq func(ctx context.Context) iter.Seq2[string, error]) *streamChannel {
	return newStreamChannel(ctx, func(ctx context.Context, emit func(models.Event) bool) {
		for text, err := range seq(ctx) {
			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return
				}
				emit(models.Event{Kind: models.EventError, Err: err})
				return
			}
			if !emit(models.Event{Kind: models.EventPartial, Data: text}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		emit(models.Event{Kind: models.EventDone})
	})
}

func (c *streamChannel) Events() <-chan models.Event {
	return c.events
}

func (c *streamChannel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.finished
	})
	return nil
}
