package logstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-im/wampsocket/internal/auth"
	"github.com/sovereign-im/wampsocket/internal/store"
	"github.com/sovereign-im/wampsocket/internal/wamp"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	topics       []string
	handler      wamp.EventHandler
	onReconnect  func()
	unsubscribed int
	err          error
}

func (f *fakeSubscriber) Subscribe(topic string, handler wamp.EventHandler) (wamp.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.topics = append(f.topics, topic)
	f.handler = handler
	return func() {
		f.mu.Lock()
		f.unsubscribed++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSubscriber) SetOnReconnect(fn func()) {
	f.mu.Lock()
	f.onReconnect = fn
	f.mu.Unlock()
}

func (f *fakeSubscriber) publish(t *testing.T, batch any) {
	t.Helper()
	data, err := json.Marshal(batch)
	require.NoError(t, err)
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	require.NotNil(t, h, "no handler subscribed")
	h(data)
}

type fakeAuth struct {
	calls int
	err   error
}

func (f *fakeAuth) Authenticate(context.Context) (*auth.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &auth.Session{Token: "tok", Username: "enter"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	itemA = Item{Timestamp: "2024-05-01T10:00:00Z", Level: LevelInfo, Message: "started", Source: "api"}
	itemB = Item{Timestamp: "2024-05-01T10:00:01Z", Level: LevelError, Message: "db down", Source: "worker"}
	itemC = Item{Timestamp: "2024-05-01T10:00:02Z", Level: LevelInfo, Message: "retrying", Source: "worker"}
)

func TestTailerStart(t *testing.T) {
	sub := &fakeSubscriber{}
	au := &fakeAuth{}
	var sessions []*auth.Session
	tl := NewTailer(sub, au, WithLogger(discardLogger()), WithOnSession(func(s *auth.Session) {
		sessions = append(sessions, s)
	}))

	require.NoError(t, tl.Start(context.Background()))

	assert.Equal(t, 1, au.calls)
	assert.Equal(t, []string{Topic}, sub.topics)
	assert.NotNil(t, sub.onReconnect)
	require.Len(t, sessions, 1)
	assert.Equal(t, "tok", sessions[0].Token)
	assert.True(t, tl.Loading())
}

func TestTailerStartAuthFailure(t *testing.T) {
	sub := &fakeSubscriber{}
	tl := NewTailer(sub, &fakeAuth{err: errors.New("denied")}, WithLogger(discardLogger()))

	err := tl.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authenticate")
	assert.Empty(t, sub.topics)
}

func TestTailerStartSubscribeFailure(t *testing.T) {
	sub := &fakeSubscriber{err: wamp.ErrNotInitialized}
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()))

	err := tl.Start(context.Background())
	require.ErrorIs(t, err, wamp.ErrNotInitialized)
}

func TestTailerDeduplicates(t *testing.T) {
	sub := &fakeSubscriber{}
	var delivered [][]Item
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()), WithOnItems(func(items []Item) {
		delivered = append(delivered, items)
	}))
	require.NoError(t, tl.Start(context.Background()))

	sub.publish(t, Batch{Action: ActionInit, Items: []Item{itemA, itemB}})
	sub.publish(t, Batch{Action: ActionAdd, Items: []Item{itemB, itemC, itemC}})
	sub.publish(t, Batch{Action: ActionAdd, Items: []Item{itemA}})

	assert.Equal(t, []Item{itemA, itemB, itemC}, tl.Items())
	require.Len(t, delivered, 2)
	assert.Equal(t, []Item{itemA, itemB}, delivered[0])
	assert.Equal(t, []Item{itemC}, delivered[1])
	assert.False(t, tl.Loading())
}

func TestTailerDecodesServerPayload(t *testing.T) {
	sub := &fakeSubscriber{}
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()))
	require.NoError(t, tl.Start(context.Background()))

	sub.handler(json.RawMessage(`{"Action":0,"Items":[{"Timestamp":"t1","Level":"DEBUG","Message":"m","Source":"s"}]}`))

	assert.Equal(t, []Item{{Timestamp: "t1", Level: LevelDebug, Message: "m", Source: "s"}}, tl.Items())
}

func TestTailerIgnoresBadPayload(t *testing.T) {
	sub := &fakeSubscriber{}
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()))
	require.NoError(t, tl.Start(context.Background()))

	sub.handler(json.RawMessage(`"not a batch"`))
	assert.Empty(t, tl.Items())
}

func TestTailerResumesOnReconnect(t *testing.T) {
	sub := &fakeSubscriber{}
	au := &fakeAuth{}
	tl := NewTailer(sub, au, WithLogger(discardLogger()))
	require.NoError(t, tl.Start(context.Background()))

	sub.publish(t, Batch{Items: []Item{itemA}})

	sub.onReconnect()

	assert.Equal(t, 2, au.calls)
	assert.Equal(t, []string{Topic, Topic}, sub.topics)

	// Entries already seen before the reconnect are not repeated.
	sub.publish(t, Batch{Action: ActionInit, Items: []Item{itemA, itemB}})
	assert.Equal(t, []Item{itemA, itemB}, tl.Items())
}

func TestTailerStop(t *testing.T) {
	sub := &fakeSubscriber{}
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()))
	require.NoError(t, tl.Start(context.Background()))

	tl.Stop()
	tl.Stop()
	assert.Equal(t, 1, sub.unsubscribed)
}

func TestTailerFilter(t *testing.T) {
	sub := &fakeSubscriber{}
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()))
	require.NoError(t, tl.Start(context.Background()))
	sub.publish(t, Batch{Items: []Item{itemA, itemB, itemC}})

	assert.Equal(t, []Item{itemA, itemC}, tl.Filter(LevelInfo))
	assert.Equal(t, []Item{itemB}, tl.Filter(LevelError))
	assert.Len(t, tl.Filter(""), 3)
	assert.Empty(t, tl.Filter(LevelTrace))
}

func TestTailerStoreSink(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sub := &fakeSubscriber{}
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()), WithSink(NewStoreSink(st)))
	require.NoError(t, tl.Start(context.Background()))

	sub.publish(t, Batch{Items: []Item{itemA, itemB}})
	sub.publish(t, Batch{Items: []Item{itemB, itemC}})

	entries, err := st.ListLogs(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, []Item{itemA, itemB, itemC}, FromEntries(entries))

	n, err := st.CountLogs(context.Background(), string(LevelInfo))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type failingSink struct{ calls int }

func (f *failingSink) Append(context.Context, []Item) (int, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestTailerSinkErrorKeepsItems(t *testing.T) {
	sub := &fakeSubscriber{}
	sink := &failingSink{}
	tl := NewTailer(sub, &fakeAuth{}, WithLogger(discardLogger()), WithSink(sink))
	require.NoError(t, tl.Start(context.Background()))

	sub.publish(t, Batch{Items: []Item{itemA}})

	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, []Item{itemA}, tl.Items())
}
