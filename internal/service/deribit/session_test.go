package deribit

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// newFeedServer runs handler once per websocket connection, with a 1-based
// connection index.
func newFeedServer(t *testing.T, handler func(conn *websocket.Conn, connIndex int)) string {
	t.Helper()

	var connCount atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		handler(conn, int(connCount.Add(1)))
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type inboundRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params struct {
		Channels []string `json:"channels"`
	} `json:"params"`
}

// serveHandshake answers auth, set_heartbeat and subscribe requests until
// expectedChannels channels are acknowledged. Returns the acknowledged
// channels in request order, or nil when the connection drops first.
func serveHandshake(conn *websocket.Conn, expectedChannels int) []string {
	var channels []string

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil
		}

		var req inboundRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		switch req.Method {
		case "public/auth":
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":{"access_token":"test-token","expires_in":900}}`))
		case "public/set_heartbeat":
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":3,"result":"ok"}`))
		case "public/subscribe":
			ack, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": req.Params.Channels})
			_ = conn.WriteMessage(websocket.TextMessage, ack)
			channels = append(channels, req.Params.Channels...)
			if len(channels) >= expectedChannels {
				return channels
			}
		}
	}
}

func sendTicker(conn *websocket.Conn, instrumentName, payload string) error {
	frame := fmt.Sprintf(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"ticker.%s.raw","data":%s}}`, instrumentName, payload)
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func fastSessionConfig(wsURL string) SessionConfig {
	return SessionConfig{
		WSURL:               wsURL,
		ClientID:            "id",
		ClientSecret:        "secret",
		IdleTimeout:         2 * time.Second,
		SubscribeAckTimeout: time.Second,
		AuthRetryLimit:      3,
		ReconnectMinDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:   50 * time.Millisecond,
		ReconnectFactor:     2.0,
		EmitTimeout:         time.Second,
	}
}

func TestSessionStreamsTickerUpdates(t *testing.T) {
	wsURL := newFeedServer(t, func(conn *websocket.Conn, connIndex int) {
		if serveHandshake(conn, 1) == nil {
			return
		}

		_ = sendTicker(conn, "BTC-1JAN-50000-C", `{"instrument_name":"BTC-1JAN-50000-C","mark_price":0.045,"timestamp":1735689600000}`)

		// hold the connection open until the client hangs up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	updates := make(chan entity.TickerUpdate, 16)
	session := NewSession(fastSessionConfig(wsURL), []string{"BTC-1JAN-50000-C"}, updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	select {
	case update := <-updates:
		assert.Equal(t, "ticker.BTC-1JAN-50000-C.raw", update.Channel)
		assert.Contains(t, string(update.Data), "0.045")
	case <-time.After(5 * time.Second):
		t.Fatal("no ticker update received")
	}

	assert.Equal(t, entity.SessionStreaming, session.State())

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}

	assert.Equal(t, entity.SessionDisconnected, session.State())
}

func TestSessionResubscribesAfterDisconnect(t *testing.T) {
	subscriptions := make(chan []string, 4)

	wsURL := newFeedServer(t, func(conn *websocket.Conn, connIndex int) {
		channels := serveHandshake(conn, 2)
		if channels == nil {
			return
		}
		subscriptions <- channels

		if connIndex == 1 {
			// drop the transport right after the handshake
			return
		}

		_ = sendTicker(conn, "BTC-1JAN-50000-C", `{"instrument_name":"BTC-1JAN-50000-C","mark_price":0.05,"timestamp":1735689600000}`)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	instruments := []string{"BTC-1JAN-50000-C", "BTC-1JAN-60000-C"}
	updates := make(chan entity.TickerUpdate, 16)
	session := NewSession(fastSessionConfig(wsURL), instruments, updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	expected := []string{"ticker.BTC-1JAN-50000-C.raw", "ticker.BTC-1JAN-60000-C.raw"}
	for i := 0; i < 2; i++ {
		select {
		case channels := <-subscriptions:
			assert.ElementsMatch(t, expected, channels)
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never completed the handshake", i+1)
		}
	}

	select {
	case update := <-updates:
		assert.Equal(t, "ticker.BTC-1JAN-50000-C.raw", update.Channel)
	case <-time.After(5 * time.Second):
		t.Fatal("no ticker update after reconnect")
	}

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}
}

func TestSessionGivesUpAfterRepeatedAuthRejections(t *testing.T) {
	var rejections atomic.Int32

	wsURL := newFeedServer(t, func(conn *websocket.Conn, connIndex int) {
		_, _, err := conn.ReadMessage()
		if err != nil {
			return
		}

		rejections.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"error":{"code":13004,"message":"invalid_credentials"}}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := fastSessionConfig(wsURL)
	cfg.AuthRetryLimit = 2

	updates := make(chan entity.TickerUpdate, 1)
	session := NewSession(cfg, []string{"BTC-1JAN-50000-C"}, updates)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := session.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrAuthRejected)
	assert.Equal(t, int32(2), rejections.Load())
}

func TestSessionHeartbeatTestRequestAnswered(t *testing.T) {
	answered := make(chan struct{})

	wsURL := newFeedServer(t, func(conn *websocket.Conn, connIndex int) {
		if serveHandshake(conn, 1) == nil {
			return
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"test_request"}}`))

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var req inboundRequest
			if json.Unmarshal(raw, &req) == nil && req.Method == "public/test" {
				close(answered)
				return
			}
		}
	})

	updates := make(chan entity.TickerUpdate, 1)
	session := NewSession(fastSessionConfig(wsURL), []string{"BTC-1JAN-50000-C"}, updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	select {
	case <-answered:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat test_request was never answered")
	}

	cancel()
	<-runDone
}

func TestReconnectDelayGrowsAndCaps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	min := 100 * time.Millisecond
	max := 10 * time.Second

	var prev time.Duration
	for attempt := 0; attempt < 12; attempt++ {
		delay := reconnectDelay(attempt, 2.0, min, max, rng)
		assert.GreaterOrEqual(t, delay, min)
		assert.LessOrEqual(t, delay, max)
		assert.GreaterOrEqual(t, delay, prev, "delay should never shrink")
		prev = delay
	}

	assert.Equal(t, max, reconnectDelay(30, 2.0, min, max, rng))
}
