package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Change is one row change delivered by Supabase Realtime.
type Change struct {
	Type   string
	Schema string
	Table  string
	Record gjson.Result
}

// ChangeHandler handles realtime row changes.
type ChangeHandler func(Change)

// ChangesConfig selects which row changes a subscription receives.
type ChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // optional, e.g. "account_id=eq.42"
}

func (c ChangesConfig) withDefaults() ChangesConfig {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.Event == "" {
		c.Event = "*"
	}
	return c
}

type subscription struct {
	topic   string
	config  ChangesConfig
	handler ChangeHandler
}

// RealtimeClient subscribes to Postgres changes over the Realtime socket.
type RealtimeClient struct {
	url string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subscription
	ref     int
	done    chan struct{}
	wg      sync.WaitGroup

	heartbeatInterval time.Duration
}

// NewRealtimeClient creates a realtime client for the project at supabaseURL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:               wsURL,
		subs:              make(map[string]*subscription),
		heartbeatInterval: 30 * time.Second,
	}
}

// Realtime returns a realtime client sharing this client's credentials.
func (c *Client) Realtime() *RealtimeClient {
	return NewRealtimeClient(c.baseURL, c.apiKey)
}

// Connect dials the socket and starts the read and heartbeat loops.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	r.wg.Add(2)
	go r.readLoop(conn, r.done)
	go r.heartbeat(r.done)

	for _, sub := range r.subs {
		if err := r.join(sub); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the connection drops or Close is called.
func (r *RealtimeClient) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Close closes the connection and waits for the loops to exit.
func (r *RealtimeClient) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	r.writeMu.Lock()
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.writeMu.Unlock()

	err := conn.Close()
	r.wg.Wait()
	return err
}

// Subscribe registers handler for changes matching cfg. It may be called
// before or after Connect; subscriptions are re-joined on reconnect.
func (r *RealtimeClient) Subscribe(cfg ChangesConfig, handler ChangeHandler) error {
	cfg = cfg.withDefaults()
	if cfg.Table == "" {
		return fmt.Errorf("table is required")
	}

	topic := "realtime:" + cfg.Schema + ":" + cfg.Table
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &subscription{topic: topic, config: cfg, handler: handler}
	r.subs[topic] = sub
	if r.conn == nil {
		return nil
	}
	return r.join(sub)
}

// join must be called with r.mu held.
func (r *RealtimeClient) join(sub *subscription) error {
	r.ref++
	ref := strconv.Itoa(r.ref)

	change := map[string]string{
		"event":  sub.config.Event,
		"schema": sub.config.Schema,
		"table":  sub.config.Table,
	}
	if sub.config.Filter != "" {
		change["filter"] = sub.config.Filter
	}

	msg := map[string]any{
		"topic": sub.topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{change},
			},
		},
		"ref":      ref,
		"join_ref": ref,
	}
	return r.write(r.conn, msg)
}

func (r *RealtimeClient) write(conn *websocket.Conn, msg any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer r.wg.Done()
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(message)
	}
}

func (r *RealtimeClient) dispatch(message []byte) {
	if !gjson.ValidBytes(message) {
		return
	}
	parsed := gjson.ParseBytes(message)
	topic := parsed.Get("topic").String()

	var change Change
	switch parsed.Get("event").String() {
	case "postgres_changes":
		data := parsed.Get("payload.data")
		change = Change{
			Type:   data.Get("type").String(),
			Schema: data.Get("schema").String(),
			Table:  data.Get("table").String(),
			Record: data.Get("record"),
		}
	case "INSERT", "UPDATE", "DELETE":
		payload := parsed.Get("payload")
		change = Change{
			Type:   payload.Get("type").String(),
			Schema: payload.Get("schema").String(),
			Table:  payload.Get("table").String(),
			Record: payload.Get("record"),
		}
		if change.Type == "" {
			change.Type = parsed.Get("event").String()
		}
	default:
		return
	}

	r.mu.Lock()
	sub, ok := r.subs[topic]
	r.mu.Unlock()
	if !ok {
		return
	}
	if sub.config.Event != "*" && !strings.EqualFold(sub.config.Event, change.Type) {
		return
	}
	sub.handler(change)
}

func (r *RealtimeClient) heartbeat(done <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			conn := r.conn
			r.ref++
			ref := strconv.Itoa(r.ref)
			r.mu.Unlock()
			if conn == nil {
				return
			}
			_ = r.write(conn, map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     ref,
			})
		}
	}
}
