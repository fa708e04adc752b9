// Package events fans committed state changes out to websocket clients.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/pocketagent/internal/state"
)

const subscriberBuffer = 32

// Counts summarises collection sizes after a commit.
type Counts struct {
	Agents        int `json:"agents"`
	Conversations int `json:"conversations"`
	History       int `json:"history"`
}

// Event is one committed mutation as seen by subscribers.
type Event struct {
	Type     string    `json:"type"`
	Revision uint64    `json:"revision"`
	Op       string    `json:"op"`
	Counts   Counts    `json:"counts"`
	At       time.Time `json:"at"`
}

// FromCommit converts a state commit into an event.
func FromCommit(c state.Commit) Event {
	return Event{
		Type:     "commit",
		Revision: c.Revision,
		Op:       c.Op,
		Counts: Counts{
			Agents:        len(c.Snapshot.Agents),
			Conversations: len(c.Snapshot.Conversations),
			History:       len(c.Snapshot.History),
		},
		At: c.At,
	}
}

type subscriber struct {
	ch chan Event
}

// Broker delivers events to subscribers without ever blocking the
// publisher. A slow subscriber loses its oldest undelivered events.
type Broker struct {
	mu     sync.Mutex
	subs   map[int64]*subscriber
	nextID int64
	last   *Event
	closed bool
	logger *slog.Logger
}

// NewBroker creates a broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[int64]*subscriber), logger: logger}
}

// Hook returns a commit hook that publishes every commit.
func (b *Broker) Hook() state.CommitHook {
	return func(c state.Commit) { b.Publish(FromCommit(c)) }
}

// Publish sends e to every subscriber.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = &e

	for id, s := range b.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}

		// Full: drop the oldest queued event to make room.
		select {
		case <-s.ch:
			b.logger.Debug("subscriber lagging, dropped oldest event", "subscriber", id)
		default:
		}
		select {
		case s.ch <- e:
		default:
			b.logger.Warn("failed to queue event for subscriber", "subscriber", id, "revision", e.Revision)
		}
	}
}

// Subscribe registers a subscriber. The latest event, if any, is queued
// first so new clients learn the current revision. cancel must be called
// to release the subscription.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	if b.last != nil {
		s.ch <- *b.last
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
