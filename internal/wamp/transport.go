package wamp

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"
)

// Transport is the socket capability the client needs. Read blocks until a
// message arrives or the socket closes; any Read error means the socket is
// gone. Write must be safe to call concurrently with Read.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialFunc opens a Transport to url, offering the given sub-protocols.
type DialFunc func(ctx context.Context, url string, protocols []string) (Transport, error)

// wsTransport adapts a nhooyr.io/websocket connection.
type wsTransport struct {
	ws *websocket.Conn
}

// NewWebsocketDialer returns a DialFunc backed by nhooyr.io/websocket that
// limits inbound messages to readLimit bytes.
func NewWebsocketDialer(readLimit int64) DialFunc {
	return func(ctx context.Context, url string, protocols []string) (Transport, error) {
		ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			Subprotocols: protocols,
		})
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		ws.SetReadLimit(readLimit)
		return &wsTransport{ws: ws}, nil
	}
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.ws.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.ws.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.ws.Close(websocket.StatusNormalClosure, "")
}
