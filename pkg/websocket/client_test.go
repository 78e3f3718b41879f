package websocket

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"position_trader/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketClient_Heartbeat(t *testing.T) {
	var pings int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	client := NewClient(wsURL(server), func(message []byte) {}, logging.NewNopLogger())
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
	client.SetReconnectWait(10 * time.Millisecond)

	client.Start()
	defer client.Stop()

	time.Sleep(500 * time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&pings), int32(2))
}

func TestWebSocketClient_ReconnectOnTimeout(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// swallow pings so the client read deadline expires
		conn.SetPingHandler(func(string) error {
			return nil
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	client := NewClient(wsURL(server), func(message []byte) {}, logging.NewNopLogger())
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
	client.SetReconnectWait(10 * time.Millisecond)

	client.Start()
	defer client.Stop()

	time.Sleep(600 * time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))
}

func TestWebSocketClient_ReconnectRunsOnConnected(t *testing.T) {
	var connections int32
	subscriptions := make(chan string, 10)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			subscriptions <- string(msg)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscriptions"}`))
		}
	}))
	defer server.Close()

	received := make(chan []byte, 10)
	client := NewClient(wsURL(server), func(message []byte) { received <- message }, logging.NewNopLogger())
	client.SetPingConfig(0, 0, time.Second)
	client.SetReconnectWait(10 * time.Millisecond)
	client.SetOnConnected(func() error {
		return client.Send(map[string]string{"type": "subscribe"})
	})

	assert.True(t, client.LastMessageAt().IsZero())

	client.Start()
	defer client.Stop()

	select {
	case msg := <-subscriptions:
		assert.JSONEq(t, `{"type":"subscribe"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription on first connect")
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	assert.True(t, client.IsConnected())
	assert.False(t, client.LastMessageAt().IsZero())

	client.Reconnect()

	select {
	case msg := <-subscriptions:
		assert.JSONEq(t, `{"type":"subscribe"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription after reconnect")
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&connections))
}

func TestWebSocketClient_SendWhileDisconnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", nil, logging.NewNopLogger())
	err := client.Send(map[string]string{"type": "subscribe"})
	assert.Error(t, err)
	assert.False(t, client.IsConnected())
}

func TestWebSocketClient_StopReleasesGoroutines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	time.Sleep(100 * time.Millisecond)
	initial := runtime.NumGoroutine()

	client := NewClient(wsURL(server), func(message []byte) {}, logging.NewNopLogger())
	client.SetPingConfig(20*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
	client.Start()

	require.Eventually(t, client.IsConnected, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	client.Stop()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= initial+1
	}, 2*time.Second, 20*time.Millisecond, "heartbeat or read loop outlived Stop")
}
