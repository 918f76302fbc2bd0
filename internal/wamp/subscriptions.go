package wamp

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventHandler receives the payload of each EVENT frame for its topic.
// Handlers run on the connection's dispatch loop and must not block. In
// particular a handler must not call Send synchronously: the result frame
// cannot be read until the handler returns, so the call would fail with
// ErrTimeout. Start a goroutine for such work instead.
type EventHandler func(payload json.RawMessage)

// Unsubscribe removes one subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler EventHandler
}

// subscriptionRegistry multiplexes topic subscriptions over the connection.
// Several subscriptions may share a topic; each is removed independently.
type subscriptionRegistry struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID atomic.Uint64
	logger *slog.Logger
}

func newSubscriptionRegistry(logger *slog.Logger) *subscriptionRegistry {
	return &subscriptionRegistry{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// add registers handler under topic and returns its id.
func (r *subscriptionRegistry) add(topic string, handler EventHandler) uint64 {
	id := r.nextID.Add(1)

	r.mu.Lock()
	r.topics[topic] = append(r.topics[topic], subscription{id: id, handler: handler})
	r.mu.Unlock()

	return id
}

// remove drops the subscription with id. last reports whether the topic has
// no subscriptions left.
func (r *subscriptionRegistry) remove(topic string, id uint64) (found, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.topics[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(r.topics, topic)
			return true, true
		}
		r.topics[topic] = rest
		return true, false
	}
	return false, false
}

// dispatch invokes every handler of topic in registration order and returns
// how many ran. A panicking handler is logged and does not stop the others.
func (r *subscriptionRegistry) dispatch(topic string, payload json.RawMessage) int {
	r.mu.RLock()
	subs := r.topics[topic]
	r.mu.RUnlock()

	for _, s := range subs {
		r.invoke(topic, s, payload)
	}
	return len(subs)
}

func (r *subscriptionRegistry) invoke(topic string, s subscription, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked", "topic", topic, "subscription", s.id, "panic", rec)
		}
	}()
	s.handler(payload)
}

// reset drops every subscription and returns how many there were.
func (r *subscriptionRegistry) reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, subs := range r.topics {
		n += len(subs)
	}
	r.topics = make(map[string][]subscription)
	return n
}

// count returns the number of subscriptions on topic.
func (r *subscriptionRegistry) count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}
