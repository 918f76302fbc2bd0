package logstream

import (
	"context"

	"github.com/sovereign-im/wampsocket/internal/store"
)

// Sink receives items the tailer has not seen before.
type Sink interface {
	Append(ctx context.Context, items []Item) (int, error)
}

// StoreSink persists items in a store.Store.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink returns a Sink writing to s.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// Append stores items and returns how many were new to the store.
func (s *StoreSink) Append(ctx context.Context, items []Item) (int, error) {
	entries := make([]store.LogEntry, len(items))
	for i, it := range items {
		entries[i] = store.LogEntry{
			Timestamp: it.Timestamp,
			Level:     string(it.Level),
			Message:   it.Message,
			Source:    it.Source,
		}
	}
	return s.store.AppendLogs(ctx, entries)
}

// FromEntries converts stored entries back to items.
func FromEntries(entries []store.LogEntry) []Item {
	items := make([]Item, len(entries))
	for i, e := range entries {
		items[i] = Item{
			Timestamp: e.Timestamp,
			Level:     Level(e.Level),
			Message:   e.Message,
			Source:    e.Source,
		}
	}
	return items
}
