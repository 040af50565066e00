// Package websocket provides WebSocket-based push delivery for new chat
// messages.
//
// Clients open a WebSocket connection to:
//
//	GET /v1/matches/{id}/ws
//
// The server pushes every message accepted for that match as it arrives;
// there is no polling. History before the connection was opened comes from
// the REST endpoint.
//
// Server → client message frame:
//
//	{"type":"message","id":"<ULID>","match_id":"...","sender_id":"...","body":"<base64>","queued_at":...,"received_at":...}
package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/pawmatch/pawsync/internal/exchange"
	"github.com/pawmatch/pawsync/internal/metrics"
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic). Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the WebSocket endpoint for a specific match.
// It is mounted by the HTTP server and reads the match id from r.PathValue.
type Handler struct {
	Exchange *exchange.Exchange
	Registry *metrics.Registry // may be nil
}

// serverFrame is the JSON structure the server sends to the client.
type serverFrame struct {
	Type       string `json:"type"` // "message"
	ID         string `json:"id"`
	MatchID    string `json:"match_id"`
	SenderID   string `json:"sender_id"`
	Body       string `json:"body"` // base64
	QueuedAt   int64  `json:"queued_at"`
	ReceivedAt int64  `json:"received_at"`
}

const writeTimeout = 10 * time.Second

// ServeHTTP upgrades the connection and pushes messages until the client
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	msgs, cancel := h.Exchange.Subscribe(matchID)
	defer cancel()

	// Read loop exists only to detect disconnects; clients send nothing.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Info("websocket subscriber connected", "match_id", matchID)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case msg := <-msgs:
			frame := serverFrame{
				Type:       "message",
				ID:         msg.ID,
				MatchID:    msg.MatchID,
				SenderID:   msg.SenderID,
				Body:       base64.StdEncoding.EncodeToString(msg.Body),
				QueuedAt:   msg.QueuedAt,
				ReceivedAt: msg.ReceivedAt,
			}
			data, _ := json.Marshal(frame)
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				slog.Warn("websocket write failed", "match_id", matchID, "err", err)
				return
			}
			if h.Registry != nil {
				h.Registry.Pushed.Inc(msg.MatchID)
			}
		}
	}
}
