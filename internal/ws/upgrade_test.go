package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/sovereign-im/wampsocket/internal/protocol"
)

func TestUpgradeSubprotocol(t *testing.T) {
	tests := []struct {
		name        string
		required    []string
		subprotocol string
		wantOK      bool
	}{
		{
			name:        "correct subprotocol accepted",
			required:    []string{"wamp"},
			subprotocol: "wamp",
			wantOK:      true,
		},
		{
			name:        "wrong subprotocol rejected",
			required:    []string{"wamp"},
			subprotocol: "wrong.v1",
			wantOK:      false,
		},
		{
			name:        "no subprotocol rejected",
			required:    []string{"wamp"},
			subprotocol: "",
			wantOK:      false,
		},
		{
			name:        "any listed subprotocol accepted",
			required:    []string{"wamp", "wamp.2.json"},
			subprotocol: "wamp.2.json",
			wantOK:      true,
		},
		{
			name:        "no subprotocol required",
			subprotocol: "",
			wantOK:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(discardLogger())
			go hub.Run()
			defer hub.Stop()

			handler := UpgradeHandler(hub, 65536, tt.required)
			server := httptest.NewServer(handler)
			defer server.Close()

			url := "ws" + strings.TrimPrefix(server.URL, "http")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			opts := &websocket.DialOptions{}
			if tt.subprotocol != "" {
				opts.Subprotocols = []string{tt.subprotocol}
			}

			conn, _, err := websocket.Dial(ctx, url, opts)
			if err != nil {
				if tt.wantOK {
					t.Fatalf("Dial failed unexpectedly: %v", err)
				}
				// Dial itself failed, which is also a rejection.
				return
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			if tt.wantOK {
				// An accepted connection is greeted with WELCOME.
				f := readFrame(t, ctx, conn)
				if f.Type() != protocol.TypeWelcome {
					t.Errorf("first frame = %v, want WELCOME", f.Type())
				}
			} else {
				_, _, err := conn.Read(ctx)
				if err == nil {
					t.Fatal("Expected connection to be closed for wrong subprotocol")
				}

				if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
					t.Errorf("Close status = %d, want %d (StatusPolicyViolation)", status, websocket.StatusPolicyViolation)
				}
			}
		})
	}
}
