package wamp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// gorillaTransport adapts a gorilla/websocket connection. Gorilla allows one
// concurrent writer, so writes are serialized.
type gorillaTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewGorillaDialer returns a DialFunc backed by github.com/gorilla/websocket.
func NewGorillaDialer(readLimit int64) DialFunc {
	return func(ctx context.Context, url string, protocols []string) (Transport, error) {
		dialer := websocket.Dialer{
			Subprotocols:     protocols,
			HandshakeTimeout: 10 * time.Second,
		}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		conn.SetReadLimit(readLimit)
		return &gorillaTransport{conn: conn}, nil
	}
}

// Read ignores ctx; Close unblocks a pending read.
func (t *gorillaTransport) Read(_ context.Context) ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *gorillaTransport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *gorillaTransport) Close() error {
	t.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}
