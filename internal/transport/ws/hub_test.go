package ws

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

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilavathra-tackits/gps-tracker/internal/auth"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// as serves h with p already authenticated.
func as(p auth.Principal, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_DeliversAlertsToClients(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(as(auth.Principal{Admin: true}, hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration completes after the handshake; keep publishing until it lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.PublishAlert(context.Background(), "dev-1", []byte(`{"kind":"speed-alert"}`))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got envelope
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "alert", got.Type)
	assert.JSONEq(t, `{"kind":"speed-alert"}`, string(got.Payload))
}

func TestHub_ClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(as(auth.Principal{Admin: true}, hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) ||
		strings.Contains(err.Error(), "EOF"), "unexpected error: %v", err)
}

func TestRelay_ForwardsRedisEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Relay(ctx, client, hub, "device:*:alerts", "device:*:telemetry")

	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, client.Publish(ctx, "device:dev-1:telemetry", `{"latitude":1}`).Err())
		select {
		case msg := <-hub.broadcast:
			assert.Equal(t, "dev-1", msg.deviceID)
			var got envelope
			require.NoError(t, json.Unmarshal(msg.data, &got))
			assert.Equal(t, "telemetry", got.Type)
			assert.JSONEq(t, `{"latitude":1}`, string(got.Payload))
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event relayed")
		}
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "alert", kindOf("device:abc:alerts"))
	assert.Equal(t, "telemetry", kindOf("device:abc:telemetry"))
	assert.Equal(t, "event", kindOf("other"))
}

func TestDeviceOf(t *testing.T) {
	assert.Equal(t, "abc", deviceOf("device:abc:alerts"))
	assert.Equal(t, "a:b", deviceOf("device:a:b:telemetry"))
	assert.Equal(t, "", deviceOf("device:abc"))
	assert.Equal(t, "", deviceOf("other"))
}
