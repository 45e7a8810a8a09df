package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/middleware"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// Streamer serves the live notification feed over a websocket.
type Streamer struct {
	hub      *Hub
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewStreamer creates a websocket feed. Browser origins are checked with
// the same rules as the API's CORS policy.
func NewStreamer(hub *Hub, logger *logging.Logger, allowedOrigins []string) *Streamer {
	s := &Streamer{hub: hub, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     middleware.NewOriginMatcher(allowedOrigins).CheckRequest,
	}
	return s
}

// Serve upgrades the request and streams accountID's notifications until
// the client disconnects. It returns once both connection loops exited.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, accountID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.WithContext(r.Context()).WithError(err).Warn("Notification stream upgrade failed")
		return
	}

	sub := s.hub.Subscribe(accountID)
	closed := make(chan struct{})

	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.writeLoop(conn, sub, closed)

	sub.Close()
	conn.Close()
	<-closed
}

func (s *Streamer) writeLoop(conn *websocket.Conn, sub *Subscription, closed <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
