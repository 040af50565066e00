package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pawmatch/pawsync/internal/types"
)

// Endpoint is the narrow transport interface the Syncer submits batches
// through. Implemented by pkg/client.Client; tests use a fake.
type Endpoint interface {
	SubmitBatch(ctx context.Context, items []types.OutboxItem) (*types.BatchResult, error)
}

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrSyncInFlight is returned when Sync is called while a previous call
	// is still running. The caller should simply try again later — the
	// in-flight pass covers everything that was pending when it started.
	ErrSyncInFlight = errors.New("outbox: sync already in flight")

	// ErrBatchRejected is returned when the server answers the request but
	// reports success=false. The whole batch has been reverted to queued.
	ErrBatchRejected = errors.New("outbox: server rejected the batch")
)

// ─── Syncer ──────────────────────────────────────────────────────────────────

// Syncer performs one-shot reconciliation between the local Store and the
// sync server.
//
// Exactly one pass runs at a time: an explicit in-flight flag guards the
// read-mark-submit sequence, so two overlapping triggers can never submit the
// same items twice. The second caller gets ErrSyncInFlight.
type Syncer struct {
	store *Store
	ep    Endpoint

	mu       sync.Mutex
	inFlight bool
}

// NewSyncer wires a Syncer to its store and endpoint.
func NewSyncer(store *Store, ep Endpoint) *Syncer {
	return &Syncer{store: store, ep: ep}
}

// Report summarises one sync pass. Counts and per-item results are the
// server's, passed through unchanged.
type Report struct {
	Synced  int
	Failed  int
	Results []types.ItemResult
}

// Sync drains the outbox once:
//
//  1. Read all queued+failed items. Empty → zero Report, no network call.
//  2. Mark them sending (claims the batch against a concurrent trigger).
//  3. Submit the whole batch in one request.
//  4. Transport failure or success=false → revert everything to queued and
//     return the error. A transport problem never silently drops messages.
//  5. Otherwise delete confirmed items and mark rejected ones failed with
//     retries incremented and the server's reason attached.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSyncInFlight
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	pending := s.store.Pending()
	if len(pending) == 0 {
		return &Report{}, nil
	}

	ids := make([]string, len(pending))
	for i := range pending {
		ids[i] = pending[i].ID
	}

	if err := s.store.MarkSending(ids); err != nil {
		return nil, fmt.Errorf("outbox: claim batch: %w", err)
	}

	res, err := s.ep.SubmitBatch(ctx, pending)
	if err != nil {
		if revertErr := s.store.Revert(ids); revertErr != nil {
			slog.Error("outbox: revert after transport failure", "err", revertErr)
		}
		return nil, fmt.Errorf("outbox: submit batch: %w", err)
	}
	if !res.Success {
		if revertErr := s.store.Revert(ids); revertErr != nil {
			slog.Error("outbox: revert after batch rejection", "err", revertErr)
		}
		return nil, ErrBatchRejected
	}

	// Reconcile per-item verdicts. Items the server did not mention are
	// reverted to queued so they are retried rather than stuck in sending.
	verdicts := make(map[string]types.ItemResult, len(res.Results))
	for _, r := range res.Results {
		verdicts[r.ID] = r
	}

	var sent []string
	var unmentioned []string
	for _, id := range ids {
		r, ok := verdicts[id]
		switch {
		case !ok:
			unmentioned = append(unmentioned, id)
		case r.Sent():
			sent = append(sent, id)
		default:
			reason := r.Error
			if reason == "" {
				reason = "rejected by server"
			}
			if err := s.store.MarkFailed(id, reason); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("outbox: mark failed %s: %w", id, err)
			}
		}
	}

	if err := s.store.Delete(sent); err != nil {
		return nil, fmt.Errorf("outbox: delete sent: %w", err)
	}
	if len(unmentioned) > 0 {
		slog.Warn("outbox: server omitted items from sync result", "count", len(unmentioned))
		if err := s.store.Revert(unmentioned); err != nil {
			return nil, fmt.Errorf("outbox: revert unmentioned: %w", err)
		}
	}

	slog.Info("outbox: sync complete", "synced", res.Synced, "failed", res.Failed)
	return &Report{Synced: res.Synced, Failed: res.Failed, Results: res.Results}, nil
}

// InFlight reports whether a sync pass is currently running.
func (s *Syncer) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
