// Package types contains the core domain types shared across all PawSync
// internal packages. It deliberately has zero imports of other PawSync packages
// so that both the client outbox and the server exchange can import from it
// without creating import cycles.
package types

// Status is the lifecycle state of an outbox item.
type Status uint8

const (
	// StatusQueued means the item is waiting locally for the next sync pass.
	StatusQueued Status = iota
	// StatusSending means the item is part of a sync batch currently in
	// flight to the server.
	StatusSending
	// StatusSent means the server confirmed delivery. Sent items are removed
	// from the store immediately; the state exists only on the wire and for
	// the ClearSent sweep.
	StatusSent
	// StatusFailed means the server rejected this specific item. Failed items
	// are retried automatically on the next sync pass.
	StatusFailed
)

// String returns a human-readable representation of the status.
// The strings double as the wire encoding in sync results.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus maps a wire string back to a Status. Unknown strings map to
// StatusFailed so a malformed server result can never mark an item delivered.
func ParseStatus(s string) Status {
	switch s {
	case "queued":
		return StatusQueued
	case "sending":
		return StatusSending
	case "sent":
		return StatusSent
	default:
		return StatusFailed
	}
}

// OutboxItem is the canonical unit of data in the outbox.
//
// Design rules:
//   - Item format is final. Only optional fields may be added. Never rename
//     or remove a field — persisted items must always be readable across
//     app versions.
//   - All timestamps are UTC milliseconds since Unix epoch.
//   - IDs are ULID strings: time-sortable, unique, generated at enqueue time.
type OutboxItem struct {
	// ID is a ULID uniquely identifying this item. Because ULIDs sort
	// lexicographically by creation time, the store's key order is the
	// enqueue order.
	ID string `json:"id"`

	// MatchID identifies the conversation this message belongs to.
	MatchID string `json:"match_id"`

	// SenderID identifies the device/user that composed the message.
	SenderID string `json:"sender_id"`

	// Body is the raw message payload. The outbox does not interpret it.
	Body []byte `json:"body"`

	// Metadata holds arbitrary key-value pairs set by the caller.
	Metadata map[string]string `json:"metadata,omitempty"`

	// QueuedAt is the UTC millisecond when the item was enqueued.
	QueuedAt int64 `json:"queued_at"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Retries counts failed sync attempts for this item. It increments only
	// when the server rejects the item, never on success and never on a
	// transport-level batch failure.
	Retries int `json:"retries"`

	// Error is the server-supplied rejection reason. Set only when
	// Status == StatusFailed.
	Error string `json:"error,omitempty"`
}

// Pending reports whether the item should be picked up by the next sync pass.
func (it *OutboxItem) Pending() bool {
	return it.Status == StatusQueued || it.Status == StatusFailed
}

// Clone returns a shallow copy of the item.
func (it *OutboxItem) Clone() *OutboxItem {
	c := *it
	return &c
}

// ValidTransition reports whether the transition from → to is a legal
// state change for an outbox item.
//
// State diagram:
//
//	QUEUED ──(sync pass starts)──► SENDING
//	FAILED ──(sync pass starts)──► SENDING
//	SENDING ──(server confirms)──► SENT (item removed)
//	SENDING ──(server rejects)───► FAILED
//	SENDING ──(transport fails)──► QUEUED (full-batch revert)
//
// Used in tests; production code drives transitions through the Store
// methods.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusSending
	case StatusFailed:
		return to == StatusSending
	case StatusSending:
		return to == StatusSent || to == StatusFailed || to == StatusQueued
	case StatusSent:
		// Terminal: sent items are deleted, never re-transitioned.
		return false
	}
	return false
}

// SyncRequest is the body of POST /v1/outbox/sync: the client's entire
// pending batch in enqueue order.
type SyncRequest struct {
	Items []OutboxItem `json:"items"`
}

// ItemResult is the server's verdict on a single item in a sync batch.
type ItemResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Sent reports whether the server confirmed delivery of this item.
func (r ItemResult) Sent() bool { return ParseStatus(r.Status) == StatusSent }

// BatchResult is the server's response to one sync request. Success false
// means the request failed as a whole; no per-item verdicts are trustworthy
// in that case.
type BatchResult struct {
	Success bool         `json:"success"`
	Synced  int          `json:"synced"`
	Failed  int          `json:"failed"`
	Results []ItemResult `json:"results"`
}
