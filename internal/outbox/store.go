// Package outbox implements the durable offline outbox and its sync
// coordinator.
//
// The Store is the persistence layer: a bbolt-backed, insertion-ordered set
// of outgoing chat messages queued while the device is offline. The Syncer
// drains the store, submits a batch to the sync server, and reconciles the
// per-item results back into the store.
//
// Data flow:
//
//	App → Store.Enqueue → bbolt
//	Trigger → Syncer.Sync → Store.MarkSending → Endpoint.SubmitBatch
//	        → Store.Delete (sent) / Store.MarkFailed (rejected)
//	        → Store.Revert (transport failure)
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pawmatch/pawsync/internal/ident"
	"github.com/pawmatch/pawsync/internal/types"
)

var bucketOutbox = []byte("outbox") // bucket name inside bbolt

// ErrNotFound is returned when an item id does not exist in the store.
var ErrNotFound = errors.New("outbox: item not found")

// Store is the durable outbox. Items are stored as JSON records keyed by
// their ULID, so bucket iteration order is enqueue order.
//
// bbolt is chosen because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID — the outbox is always consistent even after a crash mid-sync
//   - Single file inside the app's data directory
//
// All methods are safe for concurrent use (bbolt serialises writers).
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the outbox database at path.
func Open(path string) (*Store, error) {
	opts := &bbolt.Options{Timeout: 0} // non-blocking open
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOutbox)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Enqueue ─────────────────────────────────────────────────────────────────

// Draft carries the caller-owned fields of a message about to be queued.
// The store fills in id, timestamp, status, and retry count.
type Draft struct {
	MatchID  string
	SenderID string
	Body     []byte
	Metadata map[string]string
}

// Enqueue constructs a new OutboxItem from draft and persists it.
// Returns the generated id. A persistence failure propagates to the caller
// and leaves no partial state behind.
func (s *Store) Enqueue(draft Draft) (string, error) {
	if draft.MatchID == "" {
		return "", errors.New("outbox: enqueue: match id must not be empty")
	}
	if len(draft.Body) == 0 {
		return "", errors.New("outbox: enqueue: body must not be empty")
	}

	id, err := ident.NewID()
	if err != nil {
		return "", fmt.Errorf("outbox: enqueue: generate id: %w", err)
	}

	item := types.OutboxItem{
		ID:       id,
		MatchID:  draft.MatchID,
		SenderID: draft.SenderID,
		Body:     draft.Body,
		Metadata: draft.Metadata,
		QueuedAt: time.Now().UnixMilli(),
		Status:   types.StatusQueued,
		Retries:  0,
	}

	if err := s.put(&item); err != nil {
		return "", fmt.Errorf("outbox: enqueue %s: %w", id, err)
	}
	return id, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Pending returns the items awaiting sync (status queued or failed) in
// enqueue order.
//
// Read failures are logged and swallowed: callers get an empty slice rather
// than an error. This fail-open keeps the app usable over a corrupt cache —
// the write path stays strict, so nothing new is lost.
func (s *Store) Pending() []types.OutboxItem {
	items, err := s.scan(func(it *types.OutboxItem) bool { return it.Pending() })
	if err != nil {
		slog.Warn("outbox: pending read failed", "err", err)
		return nil
	}
	return items
}

// All returns every item in the store in enqueue order. Unlike Pending, read
// errors are reported; used by sweeps and tests.
func (s *Store) All() ([]types.OutboxItem, error) {
	return s.scan(func(*types.OutboxItem) bool { return true })
}

// Get returns the item with the given id, or ErrNotFound.
func (s *Store) Get(id string) (*types.OutboxItem, error) {
	var item *types.OutboxItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketOutbox).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		it, err := unmarshalItem(raw)
		if err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Len returns the total number of items in the store (any status).
func (s *Store) Len() int {
	var n int
	_ = s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketOutbox).Stats().KeyN
		return nil
	})
	return n
}

// ─── Bulk status mutations ───────────────────────────────────────────────────

// MarkSending flips every item in ids to StatusSending in one transaction.
// Used by the Syncer to claim a batch before dispatch. Unknown ids are
// skipped silently (the item may have been cleared concurrently).
func (s *Store) MarkSending(ids []string) error {
	return s.updateStatus(ids, types.StatusSending)
}

// Revert flips every item in ids from StatusSending back to StatusQueued.
// Called when the sync request fails at the transport level, so that no
// message is lost or stuck in a half-sent state.
func (s *Store) Revert(ids []string) error {
	return s.updateStatus(ids, types.StatusQueued)
}

// updateStatus rewrites the status of each listed item. Retries and error
// fields are left untouched — only MarkFailed advances them.
func (s *Store) updateStatus(ids []string, status types.Status) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		for _, id := range ids {
			raw := b.Get([]byte(id))
			if raw == nil {
				continue
			}
			it, err := unmarshalItem(raw)
			if err != nil {
				return fmt.Errorf("outbox: decode %s: %w", id, err)
			}
			it.Status = status
			val, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("outbox: encode %s: %w", id, err)
			}
			if err := b.Put([]byte(id), val); err != nil {
				return fmt.Errorf("outbox: write %s: %w", id, err)
			}
		}
		return nil
	})
}

// MarkFailed records a per-item rejection: status failed, retries
// incremented, and the server-supplied reason attached.
func (s *Store) MarkFailed(id, reason string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		it, err := unmarshalItem(raw)
		if err != nil {
			return fmt.Errorf("outbox: decode %s: %w", id, err)
		}
		it.Status = types.StatusFailed
		it.Retries++
		it.Error = reason
		val, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("outbox: encode %s: %w", id, err)
		}
		return b.Put([]byte(id), val)
	})
}

// Delete removes every item in ids. Called for items the server confirmed as
// sent — delivered messages do not linger in the outbox.
func (s *Store) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return fmt.Errorf("outbox: delete %s: %w", id, err)
			}
		}
		return nil
	})
}

// ClearSent removes any item still carrying StatusSent. In normal operation
// sent items are already deleted by the sync pass, so the sweep is usually a
// no-op. Safe to run repeatedly. Returns the number of items removed.
func (s *Store) ClearSent() (int, error) {
	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			it, err := unmarshalItem(v)
			if err != nil {
				return fmt.Errorf("outbox: decode %s: %w", k, err)
			}
			if it.Status == types.StatusSent {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("outbox: clear sent %s: %w", k, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ─── Internal helpers ────────────────────────────────────────────────────────

func (s *Store) put(item *types.OutboxItem) error {
	val, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOutbox).Put([]byte(item.ID), val)
	})
}

// scan iterates the bucket in key order (ULID lex order == enqueue order)
// and collects items matching keep.
func (s *Store) scan(keep func(*types.OutboxItem) bool) ([]types.OutboxItem, error) {
	var items []types.OutboxItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
			it, err := unmarshalItem(v)
			if err != nil {
				return fmt.Errorf("outbox: decode %s: %w", k, err)
			}
			if keep(it) {
				items = append(items, *it)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func unmarshalItem(raw []byte) (*types.OutboxItem, error) {
	var it types.OutboxItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, err
	}
	return &it, nil
}
