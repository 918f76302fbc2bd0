package wamp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sovereign-im/wampsocket/internal/protocol"
)

const writeTimeout = 5 * time.Second

// conn is one physical connection owned by a Client: a transport plus the
// read pump (the single dispatch loop) and the write pump that drains the
// outbound queue.
type conn struct {
	id        string
	transport Transport
	client    *Client
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once

	// welcomed and abandoned are written under client.mu.
	welcomed  atomic.Bool
	abandoned bool
	welcome   chan struct{}
	done      chan struct{}

	// dispatching is set while event handlers run on the read pump. Close
	// must not wait for done then, since the pump cannot finish until the
	// handler returns.
	dispatching atomic.Bool

	// heartbeat is only touched from the read pump goroutine.
	heartbeat *heartbeat
}

func newConn(id string, t Transport, client *Client, sendBuffer int) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:        id,
		transport: t,
		client:    client,
		send:      make(chan []byte, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
		welcome:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// run starts the write pump and runs the read pump until the transport
// fails or is closed, then tears the connection down. done is closed last.
func (cn *conn) run() {
	defer close(cn.done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cn.writePump()
	}()

	cn.readPump()
	cn.close()
	wg.Wait()

	if cn.heartbeat != nil {
		cn.heartbeat.stop()
	}
	cn.client.connectionClosed(cn)
}

// readPump reads frames in arrival order and hands each to the client.
func (cn *conn) readPump() {
	logger := cn.client.logger
	for {
		data, err := cn.transport.Read(cn.ctx)
		if err != nil {
			if cn.ctx.Err() != nil {
				logger.Debug("connection closed locally", "conn_id", cn.id)
			} else {
				logger.Info("connection read failed", "conn_id", cn.id, "error", err)
			}
			return
		}
		cn.client.dispatch(cn, data)
	}
}

// writePump writes queued frames to the transport.
func (cn *conn) writePump() {
	logger := cn.client.logger
	for {
		select {
		case data := <-cn.send:
			ctx, cancel := context.WithTimeout(cn.ctx, writeTimeout)
			err := cn.transport.Write(ctx, data)
			cancel()
			if err != nil {
				logger.Warn("connection write failed", "conn_id", cn.id, "error", err)
				cn.close()
				return
			}
		case <-cn.ctx.Done():
			return
		}
	}
}

// enqueue queues an encoded frame for the write pump without blocking.
func (cn *conn) enqueue(data []byte) error {
	select {
	case <-cn.ctx.Done():
		return ErrConnectionLost
	default:
	}

	select {
	case cn.send <- data:
		return nil
	case <-cn.ctx.Done():
		return ErrConnectionLost
	default:
		return ErrSendBufferFull
	}
}

// sendFrame encodes f and queues it.
func (cn *conn) sendFrame(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return cn.enqueue(data)
}

// close shuts the transport and cancels both pumps. Safe to call repeatedly.
func (cn *conn) close() {
	cn.once.Do(func() {
		if err := cn.transport.Close(); err != nil {
			cn.client.logger.Debug("transport close", "conn_id", cn.id, "error", err)
		}
		cn.cancel()
	})
}

// connID generates a unique connection ID.
func connID() string {
	return fmt.Sprintf("conn-%d", time.Now().UnixNano())
}
