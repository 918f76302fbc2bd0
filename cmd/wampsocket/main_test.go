package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-im/wampsocket/internal/auth"
	"github.com/sovereign-im/wampsocket/internal/config"
	"github.com/sovereign-im/wampsocket/internal/logstream"
	"github.com/sovereign-im/wampsocket/internal/wamp"
	"github.com/sovereign-im/wampsocket/internal/ws"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"hello", "42", `{"a":1}`, "true", "not json"})
	want := []any{
		"hello",
		json.RawMessage("42"),
		json.RawMessage(`{"a":1}`),
		json.RawMessage("true"),
		"not json",
	}
	assert.Equal(t, want, got)
}

func TestPrettyJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", prettyJSON(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "garbage", prettyJSON(json.RawMessage("garbage")))
}

func TestFormatItem(t *testing.T) {
	it := logstream.Item{Timestamp: "t1", Level: logstream.LevelInfo, Message: "started", Source: "api"}
	assert.Equal(t, "t1 INFO  [api] started", formatItem(it))
}

func TestDisplayHost(t *testing.T) {
	assert.Equal(t, "localhost:8080", displayHost(":8080"))
	assert.Equal(t, "0.0.0.0:9000", displayHost("0.0.0.0:9000"))
}

func TestClientConfig(t *testing.T) {
	cc := config.DefaultConfig().Client
	cc.Protocols = []string{"wamp"}
	cc.RateLimitPerSec = 5

	got := clientConfig(cc)
	assert.Equal(t, cc.URL, got.URL)
	assert.Equal(t, cc.BaseAddress, got.BaseAddress)
	assert.Equal(t, []string{"wamp"}, got.Protocols)
	assert.Equal(t, cc.CallTimeout, got.CallTimeout)
	assert.Equal(t, cc.ReconnectDelay, got.ReconnectDelay)
	assert.Equal(t, cc.HeartbeatInterval, got.HeartbeatInterval)
	assert.Equal(t, int64(cc.MaxMessageSize), got.MaxMessageSize)
	assert.Equal(t, 5, got.RateLimitPerSec)
}

func TestRouterEndToEnd(t *testing.T) {
	for _, transport := range []string{"nhooyr", "gorilla"} {
		t.Run(transport, func(t *testing.T) {
			hub := ws.NewHub(discardLogger())
			go hub.Run()
			demo := newDemoRouter("enter", "secret")
			demo.register(hub)

			reg := prometheus.NewRegistry()
			server := httptest.NewServer(newRouter(hub, 65536, []string{"wamp"}, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
			t.Cleanup(func() {
				server.Close()
				hub.Stop()
			})

			client, err := wamp.New(wamp.Config{
				URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
				BaseAddress: "http://enter.local",
				Protocols:   []string{"wamp"},
			},
				wamp.WithLogger(discardLogger()),
				wamp.WithDialer(dialerFor(transport, 1<<20)),
				wamp.WithMetrics(wamp.NewMetrics(reg, "test")),
			)
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, client.Initialize(ctx))

			got, err := client.Send(ctx, "/echo", parseArgs([]string{"hi", "7"})...)
			require.NoError(t, err)
			assert.JSONEq(t, `["hi",7]`, string(got))

			svc := auth.NewService(client, "enter", "secret", discardLogger())
			sess, err := svc.Authenticate(ctx)
			require.NoError(t, err)
			assert.Equal(t, "enter", sess.Username)

			// A second authentication resumes by token.
			again, err := svc.Authenticate(ctx)
			require.NoError(t, err)
			assert.Equal(t, sess.Token, again.Token)

			require.NoError(t, svc.Logout(ctx))
			assert.Empty(t, svc.Token())

			resp, err := http.Get(server.URL + "/metrics")
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), "test_client_calls_total")
		})
	}
}

func TestRouterHealthz(t *testing.T) {
	hub := ws.NewHub(discardLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(newRouter(hub, 65536, nil, http.NotFoundHandler()))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDemoPublish(t *testing.T) {
	hub := ws.NewHub(discardLogger())
	go hub.Run()
	demo := newDemoRouter("", "")
	demo.register(hub)

	server := httptest.NewServer(newRouter(hub, 65536, nil, http.NotFoundHandler()))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go demo.publish(ctx, hub, 10*time.Millisecond, discardLogger())

	client, err := wamp.New(wamp.Config{
		URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		BaseAddress: "http://enter.local",
	}, wamp.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	initCtx, initCancel := context.WithTimeout(ctx, 5*time.Second)
	defer initCancel()
	require.NoError(t, client.Initialize(initCtx))

	tailer := logstream.NewTailer(client, auth.NewService(client, "guest", "", discardLogger()),
		logstream.WithLogger(discardLogger()))
	require.NoError(t, tailer.Start(initCtx))

	require.Eventually(t, func() bool { return len(tailer.Items()) >= 2 }, 3*time.Second, 10*time.Millisecond)
	items := tailer.Items()
	assert.Equal(t, "demo", items[0].Source)
	assert.NotEqual(t, items[0], items[1])
}
