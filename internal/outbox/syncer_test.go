package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pawmatch/pawsync/internal/types"
)

// fakeEndpoint scripts the server side of a sync pass. respond is called with
// the submitted batch; block, when set, holds the request open until released.
type fakeEndpoint struct {
	mu      sync.Mutex
	calls   int
	batches [][]types.OutboxItem
	respond func(items []types.OutboxItem) (*types.BatchResult, error)
	block   chan struct{}
}

func (f *fakeEndpoint) SubmitBatch(ctx context.Context, items []types.OutboxItem) (*types.BatchResult, error) {
	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, items)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.respond(items)
}

func (f *fakeEndpoint) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// acceptAll confirms every submitted item as sent.
func acceptAll(items []types.OutboxItem) (*types.BatchResult, error) {
	res := &types.BatchResult{Success: true, Synced: len(items)}
	for _, it := range items {
		res.Results = append(res.Results, types.ItemResult{ID: it.ID, Status: "sent"})
	}
	return res, nil
}

func TestSyncEmptyOutboxSkipsNetwork(t *testing.T) {
	s := newTestStore(t)
	ep := &fakeEndpoint{respond: acceptAll}
	sy := NewSyncer(s, ep)

	rep, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Synced != 0 || rep.Failed != 0 {
		t.Errorf("report = %+v, want zero", rep)
	}
	if ep.callCount() != 0 {
		t.Errorf("endpoint called %d times for empty outbox, want 0", ep.callCount())
	}
}

func TestSyncDrainsConfirmedItems(t *testing.T) {
	s := newTestStore(t)
	ids := enqueueN(t, s, 3)
	ep := &fakeEndpoint{respond: acceptAll}
	sy := NewSyncer(s, ep)

	rep, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Synced != 3 || rep.Failed != 0 {
		t.Errorf("report synced=%d failed=%d, want 3/0", rep.Synced, rep.Failed)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after full drain, want 0", s.Len())
	}
	for _, id := range ids {
		if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("item %s still present after drain", id)
		}
	}
}

func TestSyncSubmitsItemsInEnqueueOrder(t *testing.T) {
	s := newTestStore(t)
	ids := enqueueN(t, s, 4)
	ep := &fakeEndpoint{respond: acceptAll}
	sy := NewSyncer(s, ep)

	if _, err := sy.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	batch := ep.batches[0]
	if len(batch) != 4 {
		t.Fatalf("batch size = %d, want 4", len(batch))
	}
	for i, it := range batch {
		if it.ID != ids[i] {
			t.Errorf("batch[%d].ID = %s, want %s", i, it.ID, ids[i])
		}
	}
}

func TestSyncTransportFailureRevertsBatch(t *testing.T) {
	s := newTestStore(t)
	enqueueN(t, s, 2)
	ep := &fakeEndpoint{respond: func([]types.OutboxItem) (*types.BatchResult, error) {
		return nil, errors.New("connection refused")
	}}
	sy := NewSyncer(s, ep)

	if _, err := sy.Sync(context.Background()); err == nil {
		t.Fatal("Sync succeeded despite transport failure")
	}
	pending := s.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d after revert, want 2", len(pending))
	}
	for _, it := range pending {
		if it.Status != types.StatusQueued {
			t.Errorf("item %s status = %s after revert, want queued", it.ID, it.Status)
		}
		if it.Retries != 0 {
			t.Errorf("item %s retries = %d after transport failure, want 0", it.ID, it.Retries)
		}
	}
}

func TestSyncBatchRejectionRevertsBatch(t *testing.T) {
	s := newTestStore(t)
	enqueueN(t, s, 2)
	ep := &fakeEndpoint{respond: func([]types.OutboxItem) (*types.BatchResult, error) {
		return &types.BatchResult{Success: false}, nil
	}}
	sy := NewSyncer(s, ep)

	if _, err := sy.Sync(context.Background()); !errors.Is(err, ErrBatchRejected) {
		t.Fatalf("err = %v, want ErrBatchRejected", err)
	}
	if got := len(s.Pending()); got != 2 {
		t.Errorf("pending = %d after rejection, want 2", got)
	}
}

func TestSyncPartialFailureKeepsRejectedItems(t *testing.T) {
	s := newTestStore(t)
	ids := enqueueN(t, s, 3)
	ep := &fakeEndpoint{respond: func(items []types.OutboxItem) (*types.BatchResult, error) {
		res := &types.BatchResult{Success: true, Synced: 2, Failed: 1}
		for i, it := range items {
			if i == 1 {
				res.Results = append(res.Results, types.ItemResult{ID: it.ID, Status: "failed", Error: "blocked by recipient"})
				continue
			}
			res.Results = append(res.Results, types.ItemResult{ID: it.ID, Status: "sent"})
		}
		return res, nil
	}}
	sy := NewSyncer(s, ep)

	rep, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Synced != 2 || rep.Failed != 1 {
		t.Errorf("report synced=%d failed=%d, want 2/1", rep.Synced, rep.Failed)
	}

	kept, err := s.Get(ids[1])
	if err != nil {
		t.Fatalf("Get rejected item: %v", err)
	}
	if kept.Status != types.StatusFailed || kept.Retries != 1 || kept.Error != "blocked by recipient" {
		t.Errorf("rejected item = %s retries=%d err=%q, want failed/1/blocked by recipient",
			kept.Status, kept.Retries, kept.Error)
	}
	for _, id := range []string{ids[0], ids[2]} {
		if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("confirmed item %s not deleted", id)
		}
	}
}

func TestSyncUnmentionedItemsReturnToQueued(t *testing.T) {
	s := newTestStore(t)
	ids := enqueueN(t, s, 2)
	ep := &fakeEndpoint{respond: func(items []types.OutboxItem) (*types.BatchResult, error) {
		// Server confirms only the first item and stays silent on the rest.
		return &types.BatchResult{
			Success: true,
			Synced:  1,
			Results: []types.ItemResult{{ID: items[0].ID, Status: "sent"}},
		}, nil
	}}
	sy := NewSyncer(s, ep)

	if _, err := sy.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got, err := s.Get(ids[1])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.StatusQueued {
		t.Errorf("unmentioned item status = %s, want queued", got.Status)
	}
}

func TestSyncSecondCallWhileInFlight(t *testing.T) {
	s := newTestStore(t)
	enqueueN(t, s, 1)
	release := make(chan struct{})
	ep := &fakeEndpoint{respond: acceptAll, block: release}
	sy := NewSyncer(s, ep)

	firstDone := make(chan error, 1)
	go func() {
		_, err := sy.Sync(context.Background())
		firstDone <- err
	}()

	// Wait until the first pass is inside the endpoint call.
	deadline := time.After(2 * time.Second)
	for ep.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first sync never reached the endpoint")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := sy.Sync(context.Background()); !errors.Is(err, ErrSyncInFlight) {
		t.Fatalf("concurrent Sync err = %v, want ErrSyncInFlight", err)
	}
	if !sy.InFlight() {
		t.Error("InFlight() = false while a pass is blocked in the endpoint")
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if ep.callCount() != 1 {
		t.Errorf("endpoint called %d times, want 1 — batch submitted twice", ep.callCount())
	}
	if sy.InFlight() {
		t.Error("InFlight() = true after the pass returned")
	}
}
