package wamp

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// heartbeat emits a keepalive frame every interval while its connection is
// open. Each connection gets a fresh heartbeat, so the counter restarts at
// zero after a reconnect.
type heartbeat struct {
	interval time.Duration
	send     func(counter uint64) error
	logger   *slog.Logger
	metrics  *Metrics

	counter atomic.Uint64
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func startHeartbeat(interval time.Duration, send func(uint64) error, logger *slog.Logger, metrics *Metrics) *heartbeat {
	h := &heartbeat{
		interval: interval,
		send:     send,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *heartbeat) loop() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			n := h.counter.Load()
			if err := h.send(n); err != nil {
				h.logger.Warn("heartbeat not sent", "counter", n, "error", err)
			} else {
				h.metrics.heartbeatSent()
			}
			h.counter.Add(1)
		}
	}
}

// stop cancels the ticker and waits for the loop to exit. Idempotent.
func (h *heartbeat) stop() {
	h.once.Do(func() { close(h.stopCh) })
	<-h.done
}

// sent returns how many heartbeats have been attempted.
func (h *heartbeat) sent() uint64 {
	return h.counter.Load()
}
