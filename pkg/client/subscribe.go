package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	gorillaws "github.com/gorilla/websocket"
)

// Subscription is a live push stream for one match. Close it when done or
// the connection leaks.
type Subscription struct {
	conn *gorillaws.Conn
	msgs chan Message

	closeOnce sync.Once
}

// Messages returns the push stream. The channel closes when the connection
// drops or Close is called.
func (s *Subscription) Messages() <-chan Message { return s.msgs }

// Close tears down the websocket connection.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// wsFrame mirrors the server's push frame.
type wsFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	MatchID    string `json:"match_id"`
	SenderID   string `json:"sender_id"`
	Body       string `json:"body"` // base64
	QueuedAt   int64  `json:"queued_at"`
	ReceivedAt int64  `json:"received_at"`
}

// SubscribeMatch opens a websocket to the server and streams every message
// accepted for the match from this point on. Earlier history comes from
// Messages.
func (c *Client) SubscribeMatch(ctx context.Context, matchID string) (*Subscription, error) {
	wsURL, err := c.websocketURL("/v1/matches/" + url.PathEscape(matchID) + "/ws")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-Api-Key", c.apiKey)
	}

	conn, resp, err := gorillaws.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("pawsync: subscribe %s: %s: %w", matchID, resp.Status, err)
		}
		return nil, fmt.Errorf("pawsync: subscribe %s: %w", matchID, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	sub := &Subscription{conn: conn, msgs: make(chan Message, 16)}
	go sub.readLoop(matchID)
	return sub, nil
}

func (s *Subscription) readLoop(matchID string) {
	defer close(s.msgs)
	defer s.conn.Close()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var f wsFrame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type != "message" {
			slog.Debug("pawsync: ignoring websocket frame", "match_id", matchID, "err", err)
			continue
		}
		body, err := base64.StdEncoding.DecodeString(f.Body)
		if err != nil {
			// Treat non-base64 as raw UTF-8 bytes.
			body = []byte(f.Body)
		}
		s.deliver(Message{
			ID:         f.ID,
			MatchID:    f.MatchID,
			SenderID:   f.SenderID,
			Body:       body,
			QueuedAt:   f.QueuedAt,
			ReceivedAt: f.ReceivedAt,
		})
	}
}

// deliver hands a message to the consumer without ever blocking the read
// loop. When the buffer is full the oldest message is dropped so an
// abandoned or slow consumer sees the newest stream; Messages backfills.
func (s *Subscription) deliver(msg Message) {
	for {
		select {
		case s.msgs <- msg:
			return
		default:
		}
		select {
		case old := <-s.msgs:
			slog.Warn("pawsync: subscriber behind, dropping message",
				"match_id", old.MatchID, "id", old.ID)
		default:
		}
	}
}

// websocketURL rewrites the client's base URL to the ws scheme.
func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("pawsync: parse base url: %w", err)
	}
	switch {
	case u.Scheme == "http":
		u.Scheme = "ws"
	case u.Scheme == "https":
		u.Scheme = "wss"
	case strings.HasPrefix(u.Scheme, "ws"):
		// already a websocket URL
	default:
		return "", fmt.Errorf("pawsync: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
