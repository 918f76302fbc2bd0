package wamp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is an issued call waiting for its CALL_RESULT or CALL_ERROR.
type pendingCall struct {
	id       string
	target   string
	issuedAt time.Time
	timer    *time.Timer
	done     chan callResult // buffered; receives exactly one value
}

// callRegistry correlates outbound calls with their replies. An entry is
// removed the moment it settles, so each call settles exactly once whether by
// result, error, timeout, cancellation or connection loss.
type callRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newCallRegistry() *callRegistry {
	return &callRegistry{pending: make(map[string]*pendingCall)}
}

// issue records a pending call that expires with ErrTimeout after timeout.
func (r *callRegistry) issue(id, target string, timeout time.Duration) (*pendingCall, error) {
	p := &pendingCall{
		id:       id,
		target:   target,
		issuedAt: time.Now(),
		done:     make(chan callResult, 1),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[id]; exists {
		return nil, fmt.Errorf("wamp: duplicate call id %q", id)
	}
	r.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		r.settle(id, func(p *pendingCall) callResult {
			return callResult{err: fmt.Errorf("%w: %s after %s", ErrTimeout, p.target, timeout)}
		})
	})
	return p, nil
}

// resolve settles a call with a CALL_RESULT payload. Unknown ids are ignored.
func (r *callRegistry) resolve(id string, result json.RawMessage) bool {
	return r.settle(id, func(*pendingCall) callResult {
		return callResult{result: result}
	})
}

// reject settles a call with the payload of a CALL_ERROR frame.
func (r *callRegistry) reject(id string, details json.RawMessage) bool {
	return r.settle(id, func(p *pendingCall) callResult {
		return callResult{err: &RemoteCallError{ID: p.id, Target: p.target, Details: details}}
	})
}

// cancel settles a call with err, e.g. when the caller gives up.
func (r *callRegistry) cancel(id string, err error) bool {
	return r.settle(id, func(*pendingCall) callResult {
		return callResult{err: err}
	})
}

func (r *callRegistry) settle(id string, build func(*pendingCall) callResult) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	p.timer.Stop()
	p.done <- build(p)
	return true
}

// failAll settles every pending call with err and returns how many there were.
func (r *callRegistry) failAll(err error) int {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingCall)
	r.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.done <- callResult{err: err}
	}
	return len(pending)
}

// len returns the number of calls still waiting.
func (r *callRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
