package wamp

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sovereign-im/wampsocket/internal/protocol"
)

// fakeTransport is an in-memory Transport. The test plays the server: it
// pushes frames with push and reads what the client wrote with expect.
type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("fake transport closed")
	default:
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return errors.New("fake transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(t *testing.T, frame protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.pushRaw(data)
}

func (f *fakeTransport) pushRaw(data []byte) {
	f.in <- data
}

// expect returns the next frame the client wrote.
func (f *fakeTransport) expect(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case data := <-f.out:
		frame, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("client wrote malformed frame %s: %v", data, err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("client wrote nothing within 1s")
		return protocol.Frame{}
	}
}

// expectNone asserts the client writes nothing for d.
func (f *fakeTransport) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-f.out:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(d):
	}
}

// fakeDialer hands out a fresh fakeTransport per dial.
type fakeDialer struct {
	conns    chan *fakeTransport
	dials    atomic.Int32
	failNext atomic.Int32
	// welcome queues a WELCOME on every new transport.
	welcome atomic.Bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) dial(context.Context, string, []string) (Transport, error) {
	d.dials.Add(1)
	if d.failNext.Load() > 0 {
		d.failNext.Add(-1)
		return nil, errors.New("connection refused")
	}
	ft := newFakeTransport()
	if d.welcome.Load() {
		data, err := protocol.Encode(protocol.Welcome())
		if err != nil {
			return nil, err
		}
		ft.pushRaw(data)
	}
	d.conns <- ft
	return ft, nil
}

// next returns the transport of the next successful dial.
func (d *fakeDialer) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case ft := <-d.conns:
		return ft
	case <-time.After(2 * time.Second):
		t.Fatal("client did not dial within 2s")
		return nil
	}
}
