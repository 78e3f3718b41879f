package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"position_trader/internal/trading/position"
	pkghttp "position_trader/pkg/http"
	"position_trader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name     string
	sent     []AlertPayload
	sendFunc func(ctx context.Context, alert AlertPayload) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

func testOptions() pkghttp.Options {
	return pkghttp.Options{Timeout: time.Second, MaxRetries: 0, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestAlertManager_Alert(t *testing.T) {
	am := NewAlertManager(logging.NewNopLogger())

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}
	am.AddChannel(ch1)
	am.AddChannel(ch2)
	assert.Equal(t, 2, am.Channels())

	am.Alert(context.Background(), "Test Alert", "This is a test", Info, map[string]string{"key": "value"})
	am.Wait()

	sent1 := ch1.getSent()
	require.Len(t, sent1, 1)
	assert.Len(t, ch2.getSent(), 1)

	assert.Equal(t, "Test Alert", sent1[0].Title)
	assert.Equal(t, Info, sent1[0].Level)
	assert.Equal(t, "value", sent1[0].Fields["key"])
}

func TestAlertManager_ChannelFailureDoesNotStopOthers(t *testing.T) {
	am := NewAlertManager(logging.NewNopLogger())

	failing := &mockAlertChannel{name: "failing", sendFunc: func(context.Context, AlertPayload) error {
		return errors.New("boom")
	}}
	ok := &mockAlertChannel{name: "ok"}
	am.AddChannel(failing)
	am.AddChannel(ok)

	am.Alert(context.Background(), "t", "m", Error, nil)
	am.Wait()

	assert.Len(t, failing.getSent(), 1)
	assert.Len(t, ok.getSent(), 1)
}

func TestAlertManager_OnTransition(t *testing.T) {
	tests := []struct {
		to    position.State
		level AlertLevel
		sent  bool
	}{
		{position.StateBuyOrderFailed, Error, true},
		{position.StateSellOrderFailed, Error, true},
		{position.StateBuyOrderCanceled, Warning, true},
		{position.StateSellOrderCanceled, Warning, true},
		{position.StateSellOrderFilled, Info, true},
		{position.StateSellOrderOpen, "", false},
		{position.StateBuyOrderPending, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			am := NewAlertManager(logging.NewNopLogger())
			ch := &mockAlertChannel{name: "mock"}
			am.AddChannel(ch)

			am.OnTransition("pos-1", "BTC-USD", position.Transition{From: position.StateStarted, To: tt.to, At: time.Now()})
			am.Wait()

			sent := ch.getSent()
			if !tt.sent {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, tt.level, sent[0].Level)
			assert.Equal(t, "pos-1", sent[0].Fields["position_id"])
			assert.Equal(t, "BTC-USD", sent[0].Fields["product_id"])
			assert.Equal(t, string(tt.to), sent[0].Fields["to"])
		})
	}
}

func TestSlackChannel_Send(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, testOptions())
	err := ch.Send(context.Background(), AlertPayload{Level: Error, Title: "Position failed", Message: "m", Timestamp: time.Now()})
	require.NoError(t, err)

	attachments := body["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]interface{})
	assert.Equal(t, "#ff0000", first["color"])
	assert.Equal(t, "[ERROR] Position failed", first["pretext"])
}

func TestSlackChannel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, testOptions())
	err := ch.Send(context.Background(), AlertPayload{Level: Info, Title: "t"})
	require.Error(t, err)

	var apiErr *pkghttp.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestSlackChannel_DisabledWithoutWebhook(t *testing.T) {
	ch := NewSlackChannel("", testOptions())
	assert.NoError(t, ch.Send(context.Background(), AlertPayload{Title: "t"}))
}

func TestTelegramChannel_Send(t *testing.T) {
	var (
		path string
		body map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newTelegramChannel(srv.URL, "token", "42", testOptions())
	err := ch.Send(context.Background(), AlertPayload{
		Level:   Warning,
		Title:   "Position canceled",
		Message: "m",
		Fields:  map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "*[WARNING] Position canceled*\n\nm\n\n- *a*: 1\n- *b*: 2", body["text"])
}

func TestTelegramChannel_DisabledWithoutCredentials(t *testing.T) {
	ch := NewTelegramChannel("", "", testOptions())
	assert.NoError(t, ch.Send(context.Background(), AlertPayload{Title: "t"}))
}
