// Package exchange is the server half of the outbox contract: it validates
// incoming sync batches, stores accepted messages per match, and fans them
// out to live subscribers.
package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	bbolt "go.etcd.io/bbolt"

	"github.com/pawmatch/pawsync/internal/types"
)

var (
	bucketMessages = []byte("messages") // matchID + "/" + itemID → Message
	bucketSeen     = []byte("seen")     // itemID → receive time, for dedupe
)

// ErrBatchTooLarge rejects a sync request whose batch exceeds the configured
// limit. The transport maps it to 400.
var ErrBatchTooLarge = errors.New("exchange: batch exceeds size limit")

// Message is an accepted chat message as stored on the server.
type Message struct {
	ID         string            `json:"id"`
	MatchID    string            `json:"match_id"`
	SenderID   string            `json:"sender_id"`
	Body       []byte            `json:"body"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	QueuedAt   int64             `json:"queued_at"`
	ReceivedAt int64             `json:"received_at"`
}

// Exchange owns the server's message store. Safe for concurrent use.
type Exchange struct {
	db           *bbolt.DB
	maxBatch     int
	maxBodyBytes int

	mu      sync.Mutex
	subs    map[string]map[int]chan Message
	nextSub int
}

// Open creates or reopens the message store at path. maxBatch caps items
// per sync request, maxMessageKB caps a single body.
func Open(path string, maxBatch, maxMessageKB int) (*Exchange, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("exchange: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketSeen} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("exchange: init buckets: %w", err)
	}
	return &Exchange{
		db:           db,
		maxBatch:     maxBatch,
		maxBodyBytes: maxMessageKB * 1024,
		subs:         make(map[string]map[int]chan Message),
	}, nil
}

// Close releases the underlying database.
func (e *Exchange) Close() error { return e.db.Close() }

// Ingest processes one sync batch and returns a per-item verdict. Accepted
// items are stored and published; duplicates are acknowledged as sent
// without being stored again, so retrying a batch is always safe; invalid
// items fail with a reason and the rest of the batch is unaffected.
func (e *Exchange) Ingest(items []types.OutboxItem) (*types.BatchResult, error) {
	if e.maxBatch > 0 && len(items) > e.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(items), e.maxBatch)
	}

	res := &types.BatchResult{Success: true}
	var accepted []Message
	now := time.Now().UnixMilli()

	err := e.db.Update(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		seen := tx.Bucket(bucketSeen)

		for _, it := range items {
			if reason := e.validate(&it); reason != "" {
				res.Failed++
				res.Results = append(res.Results, types.ItemResult{
					ID: it.ID, Status: types.StatusFailed.String(), Error: reason,
				})
				continue
			}
			if seen.Get([]byte(it.ID)) != nil {
				// Already delivered in an earlier batch.
				res.Synced++
				res.Results = append(res.Results, types.ItemResult{
					ID: it.ID, Status: types.StatusSent.String(),
				})
				continue
			}

			msg := Message{
				ID:         it.ID,
				MatchID:    it.MatchID,
				SenderID:   it.SenderID,
				Body:       it.Body,
				Metadata:   it.Metadata,
				QueuedAt:   it.QueuedAt,
				ReceivedAt: now,
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode %s: %w", it.ID, err)
			}
			if err := msgs.Put(messageKey(it.MatchID, it.ID), raw); err != nil {
				return fmt.Errorf("store %s: %w", it.ID, err)
			}
			if err := seen.Put([]byte(it.ID), encodeMilli(now)); err != nil {
				return fmt.Errorf("mark seen %s: %w", it.ID, err)
			}
			accepted = append(accepted, msg)
			res.Synced++
			res.Results = append(res.Results, types.ItemResult{
				ID: it.ID, Status: types.StatusSent.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: ingest: %w", err)
	}

	for _, msg := range accepted {
		e.publish(msg)
	}
	slog.Info("exchange: batch ingested",
		"items", len(items), "accepted", len(accepted), "failed", res.Failed)
	return res, nil
}

// validate returns a rejection reason, or "" when the item is acceptable.
func (e *Exchange) validate(it *types.OutboxItem) string {
	if it.ID == "" {
		return "missing id"
	}
	if _, err := ulid.ParseStrict(it.ID); err != nil {
		return "malformed id"
	}
	if it.MatchID == "" {
		return "missing match_id"
	}
	// The match id is a storage key component; anything that could collide
	// with the key separator must never reach messageKey.
	if len(it.MatchID) > 128 || strings.ContainsAny(it.MatchID, "/\\\x00") ||
		it.MatchID == "." || it.MatchID == ".." {
		return "invalid match_id"
	}
	if it.SenderID == "" {
		return "missing sender_id"
	}
	if len(it.Body) == 0 {
		return "empty body"
	}
	if e.maxBodyBytes > 0 && len(it.Body) > e.maxBodyBytes {
		return fmt.Sprintf("body exceeds %d bytes", e.maxBodyBytes)
	}
	return ""
}

// Messages returns up to limit messages for a match in delivery order,
// newest tail of the conversation. limit <= 0 means all.
func (e *Exchange) Messages(matchID string, limit int) ([]Message, error) {
	var out []Message
	prefix := messageKey(matchID, "")
	err := e.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: messages %s: %w", matchID, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Subscribe registers for live messages on one match. The returned cancel
// func unregisters; messages a slow subscriber misses are dropped, the
// history endpoint backfills.
func (e *Exchange) Subscribe(matchID string) (<-chan Message, func()) {
	ch := make(chan Message, 16)
	e.mu.Lock()
	if e.subs[matchID] == nil {
		e.subs[matchID] = make(map[int]chan Message)
	}
	id := e.nextSub
	e.nextSub++
	e.subs[matchID][id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		delete(e.subs[matchID], id)
		if len(e.subs[matchID]) == 0 {
			delete(e.subs, matchID)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Exchange) publish(msg Message) {
	e.mu.Lock()
	chans := make([]chan Message, 0, len(e.subs[msg.MatchID]))
	for _, ch := range e.subs[msg.MatchID] {
		chans = append(chans, ch)
	}
	e.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
			slog.Warn("exchange: dropping message for slow subscriber",
				"match_id", msg.MatchID, "id", msg.ID)
		}
	}
}

// Stats summarises the store for the ops endpoint.
type Stats struct {
	Messages    int `json:"messages"`
	Subscribers int `json:"subscribers"`
}

// Stat counts stored messages and live subscribers.
func (e *Exchange) Stat() (Stats, error) {
	var st Stats
	err := e.db.View(func(tx *bbolt.Tx) error {
		st.Messages = tx.Bucket(bucketSeen).Stats().KeyN
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("exchange: stat: %w", err)
	}
	e.mu.Lock()
	for _, subs := range e.subs {
		st.Subscribers += len(subs)
	}
	e.mu.Unlock()
	return st, nil
}

func messageKey(matchID, itemID string) []byte {
	return []byte(matchID + "/" + itemID)
}

func encodeMilli(ms int64) []byte {
	return []byte(strconv.FormatInt(ms, 10))
}
