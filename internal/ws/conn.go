package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/sovereign-im/wampsocket/internal/protocol"
)

const sendBufferSize = 256

// Conn wraps a WebSocket connection with read/write pumps.
type Conn struct {
	id     string
	ws     *websocket.Conn
	hub    *Hub
	send   chan []byte
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	maxMessageSize int64

	mu sync.Mutex
	// topics maps the normalized topic to the name the peer subscribed with,
	// which is echoed back in EVENT frames.
	topics map[string]string

	heartbeats    atomic.Uint64
	lastHeartbeat atomic.Uint64
}

// NewConn creates a new Conn.
func NewConn(id string, ws *websocket.Conn, hub *Hub, maxMessageSize int) *Conn {
	return &Conn{
		id:             id,
		ws:             ws,
		hub:            hub,
		send:           make(chan []byte, sendBufferSize),
		logger:         hub.logger.With("conn_id", id),
		maxMessageSize: int64(maxMessageSize),
		topics:         make(map[string]string),
	}
}

// Run greets the peer and starts the read and write pumps. It blocks until
// the connection is closed.
func (c *Conn) Run(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.hub.Register(c)
	defer c.hub.Unregister(c)

	c.ws.SetReadLimit(c.maxMessageSize)
	c.sendFrame(protocol.Welcome())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.writePump(c.ctx)
	}()

	go func() {
		defer wg.Done()
		c.readPump(c.ctx)
	}()

	wg.Wait()
	c.ws.Close(websocket.StatusNormalClosure, "")
}

// Close ends the connection with a going-away status.
func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusGoingAway, "router closing")
	c.close()
	return err
}

// Heartbeats returns how many heartbeat frames the peer has sent and the
// counter carried by the latest one.
func (c *Conn) Heartbeats() (count, last uint64) {
	return c.heartbeats.Load(), c.lastHeartbeat.Load()
}

// readPump reads frames from the WebSocket and processes them.
func (c *Conn) readPump(ctx context.Context) {
	defer c.close()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.logger.Info("connection closed normally")
			} else {
				c.logger.Info("read failed", "error", err)
			}
			return
		}

		if typ != websocket.MessageText {
			c.logger.Warn("received non-text message, closing")
			c.ws.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		c.handleFrame(ctx, f)
	}
}

// writePump writes frames from the send channel to the WebSocket.
func (c *Conn) writePump(ctx context.Context) {
	defer c.close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				c.logger.Info("write failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame processes one decoded frame.
func (c *Conn) handleFrame(ctx context.Context, f protocol.Frame) {
	switch f.Type() {
	case protocol.TypeCall:
		id, target, args, err := protocol.ParseCall(f)
		if err != nil {
			c.logger.Warn("invalid call", "error", err)
			return
		}
		// Procedures may be slow; keep reading while they run.
		go c.handleCall(ctx, id, target, args)

	case protocol.TypeSubscribe:
		topic, err := protocol.ParseTopic(f)
		if err != nil {
			c.logger.Warn("invalid subscribe", "error", err)
			return
		}
		c.mu.Lock()
		c.topics[normalizeName(topic)] = topic
		c.mu.Unlock()
		c.logger.Debug("subscribed", "topic", topic)

	case protocol.TypeUnsubscribe:
		topic, err := protocol.ParseTopic(f)
		if err != nil {
			c.logger.Warn("invalid unsubscribe", "error", err)
			return
		}
		c.mu.Lock()
		delete(c.topics, normalizeName(topic))
		c.mu.Unlock()
		c.logger.Debug("unsubscribed", "topic", topic)

	case protocol.TypeHeartbeat:
		counter, err := protocol.ParseHeartbeat(f)
		if err != nil {
			c.logger.Warn("invalid heartbeat", "error", err)
			return
		}
		c.heartbeats.Add(1)
		c.lastHeartbeat.Store(counter)

	default:
		c.logger.Debug("ignoring frame", "type", f.Type().String())
	}
}

// handleCall runs the procedure for target and replies with its outcome.
func (c *Conn) handleCall(ctx context.Context, id, target string, args []json.RawMessage) {
	fn, ok := c.hub.lookup(target)
	if !ok {
		c.logger.Info("unknown procedure", "target", target)
		c.replyError(id, map[string]string{"error": fmt.Sprintf("unknown procedure %q", target)})
		return
	}

	start := time.Now()
	result, err := fn(ctx, args)
	if err != nil {
		c.logger.Info("procedure failed", "target", target, "error", err)
		var perr *ProcedureError
		if errors.As(err, &perr) {
			c.replyError(id, perr.Details)
		} else {
			c.replyError(id, map[string]string{"error": err.Error()})
		}
		return
	}

	f, err := protocol.CallResult(id, result)
	if err != nil {
		c.logger.Error("encode call result", "target", target, "error", err)
		c.replyError(id, map[string]string{"error": "result not encodable"})
		return
	}
	c.sendFrame(f)
	c.logger.Debug("call served", "target", target, "duration", time.Since(start))
}

func (c *Conn) replyError(id string, details any) {
	f, err := protocol.CallError(id, details)
	if err != nil {
		c.logger.Error("encode call error", "error", err)
		return
	}
	c.sendFrame(f)
}

// publish queues an event when the connection subscribes to key.
func (c *Conn) publish(key string, payload json.RawMessage) bool {
	c.mu.Lock()
	topic, ok := c.topics[key]
	c.mu.Unlock()
	if !ok {
		return false
	}

	f, err := protocol.Event(topic, payload)
	if err != nil {
		c.logger.Error("encode event", "topic", topic, "error", err)
		return false
	}
	return c.sendFrame(f)
}

func (c *Conn) subscribed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[key]
	return ok
}

// sendFrame encodes and queues a frame for sending. Frames are dropped when
// the send buffer is full.
func (c *Conn) sendFrame(f protocol.Frame) bool {
	data, err := protocol.Encode(f)
	if err != nil {
		c.logger.Error("encode frame", "type", f.Type().String(), "error", err)
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping frame", "type", f.Type().String())
		return false
	}
}

// close cancels the connection context, closing both pumps.
func (c *Conn) close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// connID generates a unique connection ID.
func connID() string {
	return fmt.Sprintf("conn-%d", time.Now().UnixNano())
}
