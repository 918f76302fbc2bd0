package wamp

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscriptionRegistryDispatchOrder(t *testing.T) {
	r := newSubscriptionRegistry(discardLogger())

	var got []string
	r.add("logs", func(json.RawMessage) { got = append(got, "first") })
	r.add("logs", func(json.RawMessage) { got = append(got, "second") })
	r.add("other", func(json.RawMessage) { got = append(got, "other") })

	if n := r.dispatch("logs", json.RawMessage(`{}`)); n != 2 {
		t.Fatalf("dispatch() = %d, want 2", n)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("handlers ran as %v, want [first second]", got)
	}
}

func TestSubscriptionRegistryRemoveOne(t *testing.T) {
	tests := []struct {
		name      string
		subscribe int
		remove    []int
		wantCalls int
		wantLast  []bool
	}{
		{name: "remove one of three", subscribe: 3, remove: []int{1}, wantCalls: 2, wantLast: []bool{false}},
		{name: "remove all", subscribe: 2, remove: []int{0, 1}, wantCalls: 0, wantLast: []bool{false, true}},
		{name: "remove only", subscribe: 1, remove: []int{0}, wantCalls: 0, wantLast: []bool{true}},
		{name: "remove none", subscribe: 2, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newSubscriptionRegistry(discardLogger())

			calls := 0
			ids := make([]uint64, tt.subscribe)
			for i := range ids {
				ids[i] = r.add("logs", func(json.RawMessage) { calls++ })
			}

			for i, idx := range tt.remove {
				found, last := r.remove("logs", ids[idx])
				if !found {
					t.Fatalf("remove(%d) found = false", ids[idx])
				}
				if last != tt.wantLast[i] {
					t.Errorf("remove(%d) last = %v, want %v", ids[idx], last, tt.wantLast[i])
				}
			}

			r.dispatch("logs", json.RawMessage(`1`))
			if calls != tt.wantCalls {
				t.Errorf("handlers called %d times, want %d", calls, tt.wantCalls)
			}
			if got := r.count("logs"); got != tt.wantCalls {
				t.Errorf("count() = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestSubscriptionRegistryRemoveUnknown(t *testing.T) {
	r := newSubscriptionRegistry(discardLogger())
	id := r.add("logs", func(json.RawMessage) {})

	if found, _ := r.remove("logs", id+1); found {
		t.Error("remove of unknown id reported found")
	}
	if found, _ := r.remove("other", id); found {
		t.Error("remove on wrong topic reported found")
	}
	if r.count("logs") != 1 {
		t.Errorf("count() = %d, want 1", r.count("logs"))
	}
}

func TestSubscriptionRegistryNoMatch(t *testing.T) {
	r := newSubscriptionRegistry(discardLogger())
	if n := r.dispatch("nobody", json.RawMessage(`null`)); n != 0 {
		t.Errorf("dispatch() = %d, want 0", n)
	}
}

func TestSubscriptionRegistryHandlerPanic(t *testing.T) {
	r := newSubscriptionRegistry(discardLogger())

	ran := false
	r.add("logs", func(json.RawMessage) { panic("bad handler") })
	r.add("logs", func(json.RawMessage) { ran = true })

	r.dispatch("logs", json.RawMessage(`1`))
	if !ran {
		t.Error("handler after a panicking one did not run")
	}
}

func TestSubscriptionRegistryPayload(t *testing.T) {
	r := newSubscriptionRegistry(discardLogger())

	var got json.RawMessage
	r.add("logs", func(p json.RawMessage) { got = p })
	r.dispatch("logs", json.RawMessage(`{"msg":"x"}`))

	if string(got) != `{"msg":"x"}` {
		t.Errorf("payload = %s", got)
	}
}

func TestSubscriptionRegistryReset(t *testing.T) {
	r := newSubscriptionRegistry(discardLogger())
	r.add("a", func(json.RawMessage) {})
	r.add("a", func(json.RawMessage) {})
	r.add("b", func(json.RawMessage) {})

	if n := r.reset(); n != 3 {
		t.Errorf("reset() = %d, want 3", n)
	}
	if r.count("a")+r.count("b") != 0 {
		t.Error("subscriptions survived reset")
	}
}
