package remotedata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const payloadsKey = "com.urbanairship.remotedata.PAYLOADS"

// Store persists feed state between process restarts.
type Store interface {
	GetJSON(key string, v any) (bool, error)
	PutJSON(key string, v any) error
}

// Feed retains the latest payload of every type and fans new payloads out to
// subscribers. Each subscriber receives payloads in dispatch order; a slow
// subscriber never blocks Dispatch.
type Feed struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	payloads map[string]Payload
	subs     map[*subscription]struct{}
}

// NewFeed creates a feed, restoring retained payloads from store.
func NewFeed(store Store) (*Feed, error) {
	payloads := make(map[string]Payload)
	if _, err := store.GetJSON(payloadsKey, &payloads); err != nil {
		return nil, fmt.Errorf("failed to load retained payloads: %w", err)
	}

	return &Feed{
		store:    store,
		logger:   slog.Default(),
		payloads: payloads,
		subs:     make(map[*subscription]struct{}),
	}, nil
}

// Dispatch retains payloads (replacing the previous payload of the same type)
// and delivers them to subscribers of their type.
func (f *Feed) Dispatch(payloads []Payload) error {
	if len(payloads) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range payloads {
		f.payloads[p.Type] = p
	}
	if err := f.store.PutJSON(payloadsKey, f.payloads); err != nil {
		return fmt.Errorf("failed to persist retained payloads: %w", err)
	}

	for _, p := range payloads {
		for sub := range f.subs {
			if sub.payloadType == p.Type {
				sub.push(p)
			}
		}
	}

	return nil
}

// Payload returns the retained payload of the given type.
func (f *Feed) Payload(payloadType string) (Payload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payloads[payloadType]
	return p, ok
}

// PayloadsForType subscribes to payloads of one type. The retained payload,
// if any, is delivered first. The channel is closed once ctx is done.
func (f *Feed) PayloadsForType(ctx context.Context, payloadType string) <-chan Payload {
	out := make(chan Payload)
	sub := &subscription{
		payloadType: payloadType,
		notify:      make(chan struct{}, 1),
	}

	f.mu.Lock()
	if p, ok := f.payloads[payloadType]; ok {
		sub.push(p)
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	f.logger.Debug("Remote-data subscriber attached", "type", payloadType)

	go func() {
		defer close(out)
		defer f.unsubscribe(sub)

		for {
			p, ok := sub.pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-sub.notify:
					continue
				}
			}

			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// SubscriberCount returns the number of attached subscribers.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) unsubscribe(sub *subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
	f.logger.Debug("Remote-data subscriber detached", "type", sub.payloadType)
}

type subscription struct {
	payloadType string
	notify      chan struct{}

	mu      sync.Mutex
	pending []Payload
}

func (s *subscription) push(p Payload) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Payload{}, false
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, true
}
