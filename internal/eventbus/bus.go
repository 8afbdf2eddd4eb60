package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventbus: nil event")

// ErrInvalidEventType is returned when the event type cannot be determined.
var ErrInvalidEventType = errors.New("eventbus: invalid event type")

// Bus is an in-process event bus. Synchronous handlers run on the
// publisher's goroutine; async subscribers run on their own worker and
// decouple CPU-bound consumers from the publishing path.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   zerolog.Logger
}

// New constructs a bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// Publish dispatches an event to all handlers of its type. The first handler
// error is returned after every handler has run.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := TypeOf(event)
	if eventType == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a synchronous handler for an event type.
func (b *Bus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// SubscribeAsync registers a handler fed through a buffered queue drained by
// a dedicated worker. The worker stops when ctx is done. When the queue is
// full Publish blocks rather than losing the event: closed-session scoring
// must observe every session exactly once.
func (b *Bus) SubscribeAsync(ctx context.Context, eventType, name string, queueSize int, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	queue := make(chan any, queueSize)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-queue:
				if err := handler(ctx, event); err != nil {
					b.logger.Error().Err(err).
						Str("consumer", name).
						Str("event_type", eventType).
						Msg("async event handler failed")
				}
			}
		}
	}()

	b.Subscribe(eventType, func(ctx context.Context, event any) error {
		select {
		case queue <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// TypeOf returns the fully-qualified type name for an event instance.
func TypeOf(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// TypeFor returns the fully-qualified type name for a type parameter.
func TypeFor[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
