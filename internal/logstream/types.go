// Package logstream follows the log server's log subscription: it keeps a
// de-duplicated view of received entries, forwards new ones to a sink and
// re-establishes the session and subscription after every reconnect.
package logstream

import (
	"fmt"
	"strings"
)

// Topic is the subscription that streams log batches.
const Topic = "/subscription/logs/list"

// Action says how a batch relates to what the subscriber already holds.
type Action int

const (
	// ActionAdd carries entries logged since the previous batch.
	ActionAdd Action = 0
	// ActionInit carries the backlog sent right after subscribing.
	ActionInit Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "ADD"
	case ActionInit:
		return "INIT"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Level is a log severity as sent by the server.
type Level string

const (
	LevelFatal Level = "FATAL"
	LevelError Level = "ERROR"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelTrace Level = "TRACE"
)

// Levels lists every known level.
var Levels = []Level{LevelFatal, LevelError, LevelDebug, LevelInfo, LevelTrace}

// ParseLevel parses a level name case-insensitively. The empty string
// parses to the empty level, which matches everything in filters.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return "", nil
	}
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Levels {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// Item is one log entry. Identical items are the same entry.
type Item struct {
	Timestamp string `json:"Timestamp"`
	Level     Level  `json:"Level"`
	Message   string `json:"Message"`
	Source    string `json:"Source"`
}

// Batch is the payload of one event on Topic.
type Batch struct {
	Action Action `json:"Action"`
	Items  []Item `json:"Items"`
}

// FilterByLevel returns the items at level, or all items when level is
// empty.
func FilterByLevel(items []Item, level Level) []Item {
	if level == "" {
		return append([]Item(nil), items...)
	}
	var out []Item
	for _, it := range items {
		if it.Level == level {
			out = append(out, it)
		}
	}
	return out
}
