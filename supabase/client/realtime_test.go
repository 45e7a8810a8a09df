package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNewRealtimeClient_URL(t *testing.T) {
	r := NewRealtimeClient("https://proj.supabase.co/", "anon")
	assert.Equal(t, "wss://proj.supabase.co/realtime/v1/websocket?apikey=anon&vsn=1.0.0", r.url)

	r = NewRealtimeClient("http://localhost:54321", "anon")
	assert.True(t, strings.HasPrefix(r.url, "ws://localhost:54321/realtime/v1/websocket"))
}

func TestRealtime_SubscribeRequiresTable(t *testing.T) {
	r := NewRealtimeClient("http://localhost", "k")
	assert.Error(t, r.Subscribe(ChangesConfig{}, func(Change) {}))
}

func TestRealtime_DeliversInserts(t *testing.T) {
	joins := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("apikey"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		joins <- string(msg)

		topic := gjson.GetBytes(msg, "topic").String()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"`+topic+`","event":"phx_reply","payload":{"status":"ok"},"ref":"1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"`+topic+`","event":"postgres_changes","payload":{"data":{"type":"UPDATE","schema":"public","table":"notifications","record":{"id":"n-0"}}}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"`+topic+`","event":"postgres_changes","payload":{"data":{"type":"INSERT","schema":"public","table":"notifications","record":{"id":"n-1","account_id":"a-1","message":"Order submitted: essay"}}}}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	r := NewRealtimeClient(server.URL, "k")
	got := make(chan Change, 2)
	require.NoError(t, r.Subscribe(ChangesConfig{Event: "INSERT", Table: "notifications"}, func(c Change) {
		got <- c
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))

	select {
	case join := <-joins:
		assert.Equal(t, "realtime:public:notifications", gjson.Get(join, "topic").String())
		assert.Equal(t, "phx_join", gjson.Get(join, "event").String())
		assert.Equal(t, "INSERT", gjson.Get(join, "payload.config.postgres_changes.0.event").String())
		assert.Equal(t, "notifications", gjson.Get(join, "payload.config.postgres_changes.0.table").String())
	case <-ctx.Done():
		t.Fatal("no join received")
	}

	select {
	case c := <-got:
		assert.Equal(t, "INSERT", c.Type)
		assert.Equal(t, "notifications", c.Table)
		assert.Equal(t, "n-1", c.Record.Get("id").String())
		assert.Equal(t, "Order submitted: essay", c.Record.Get("message").String())
	case <-ctx.Done():
		t.Fatal("no change delivered")
	}

	require.NoError(t, r.Close())
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	assert.Empty(t, got)
}
