package logstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sovereign-im/wampsocket/internal/auth"
	"github.com/sovereign-im/wampsocket/internal/wamp"
)

const (
	resumeTimeout = 30 * time.Second
	sinkTimeout   = 5 * time.Second
)

// Subscriber is the part of *wamp.Client the tailer uses.
type Subscriber interface {
	Subscribe(topic string, handler wamp.EventHandler) (wamp.Unsubscribe, error)
	SetOnReconnect(fn func())
}

// Authenticator establishes the log server session. *auth.Service
// satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context) (*auth.Session, error)
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithSink forwards new items to sink.
func WithSink(sink Sink) Option {
	return func(t *Tailer) { t.sink = sink }
}

// WithOnItems calls fn with every group of new items.
func WithOnItems(fn func([]Item)) Option {
	return func(t *Tailer) { t.onItems = fn }
}

// WithOnSession calls fn after each successful authentication.
func WithOnSession(fn func(*auth.Session)) Option {
	return func(t *Tailer) { t.onSession = fn }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tailer) { t.logger = logger }
}

// Tailer keeps the log subscription alive and accumulates its entries.
type Tailer struct {
	client    Subscriber
	auth      Authenticator
	sink      Sink
	onItems   func([]Item)
	onSession func(*auth.Session)
	logger    *slog.Logger

	loading atomic.Bool

	mu          sync.Mutex
	seen        map[Item]struct{}
	items       []Item
	unsubscribe wamp.Unsubscribe
}

// NewTailer creates a Tailer. It does nothing until Start.
func NewTailer(client Subscriber, authenticator Authenticator, opts ...Option) *Tailer {
	t := &Tailer{
		client: client,
		auth:   authenticator,
		logger: slog.Default(),
		seen:   make(map[Item]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "logstream")
	t.loading.Store(true)
	return t
}

// Start authenticates, subscribes to Topic and arranges for both to be
// repeated after each automatic reconnection.
func (t *Tailer) Start(ctx context.Context) error {
	t.client.SetOnReconnect(t.resume)
	return t.authenticateAndSubscribe(ctx)
}

// Stop drops the subscription. Received items are kept.
func (t *Tailer) Stop() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (t *Tailer) resume() {
	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()

	if err := t.authenticateAndSubscribe(ctx); err != nil {
		t.logger.Error("resume after reconnect failed", "error", err)
		return
	}
	t.logger.Info("resumed after reconnect")
}

func (t *Tailer) authenticateAndSubscribe(ctx context.Context) error {
	sess, err := t.auth.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if t.onSession != nil {
		t.onSession(sess)
	}

	unsubscribe, err := t.client.Subscribe(Topic, t.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()

	t.logger.Info("subscribed to logs", "username", sess.Username)
	return nil
}

func (t *Tailer) handleEvent(payload json.RawMessage) {
	var batch Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		t.logger.Warn("dropping undecodable log batch", "error", err)
		return
	}
	t.Ingest(batch)
}

// Ingest adds the batch's unseen items and forwards them. It returns the
// new items.
func (t *Tailer) Ingest(batch Batch) []Item {
	t.loading.Store(true)

	t.mu.Lock()
	var fresh []Item
	for _, it := range batch.Items {
		if _, ok := t.seen[it]; ok {
			continue
		}
		t.seen[it] = struct{}{}
		t.items = append(t.items, it)
		fresh = append(fresh, it)
	}
	t.mu.Unlock()

	t.loading.Store(false)
	t.logger.Debug("log batch received", "action", batch.Action.String(), "items", len(batch.Items), "new", len(fresh))

	if len(fresh) == 0 {
		return nil
	}

	if t.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		stored, err := t.sink.Append(ctx, fresh)
		cancel()
		if err != nil {
			t.logger.Error("store log items", "items", len(fresh), "error", err)
		} else {
			t.logger.Debug("log items stored", "stored", stored)
		}
	}
	if t.onItems != nil {
		t.onItems(fresh)
	}
	return fresh
}

// Items returns every distinct item received so far, in arrival order.
func (t *Tailer) Items() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Item(nil), t.items...)
}

// Filter returns the received items at level; an empty level returns all.
func (t *Tailer) Filter(level Level) []Item {
	return FilterByLevel(t.Items(), level)
}

// Loading reports whether no batch has been fully processed yet or one is
// being processed now.
func (t *Tailer) Loading() bool {
	return t.loading.Load()
}
