package client

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pawmatch/pawsync/internal/config"
	"github.com/pawmatch/pawsync/internal/connectivity"
	"github.com/pawmatch/pawsync/internal/history"
	"github.com/pawmatch/pawsync/internal/outbox"
	"github.com/pawmatch/pawsync/internal/worker"
)

// Offline bundles the pieces of offline-first messaging into one handle:
// a durable outbox, a syncer, and a connectivity monitor that drains the
// outbox automatically when the device comes back online.
//
//	off, err := client.NewOffline(cfg)
//	defer off.Close()
//	off.Start(ctx)
//
//	id, _ := off.Send("match-123", "owner-1", []byte("hi!"), nil)
//	// delivered now if online, or on the next offline→online transition
type Offline struct {
	store   *outbox.Store
	syncer  *outbox.Syncer
	monitor *connectivity.Monitor
	trigger *connectivity.Trigger
	client  *Client
	tasks   *worker.Pool
	edits   *history.Stack
}

// NewOffline wires the offline stack from config. The outbox database lives
// under the configured data directory.
func NewOffline(cfg *config.Config, opts ...Option) (*Offline, error) {
	store, err := outbox.Open(filepath.Join(cfg.Node.DataDir, "outbox.db"))
	if err != nil {
		return nil, fmt.Errorf("pawsync: open outbox: %w", err)
	}

	c := New(cfg.Client.Endpoint, opts...)
	syncer := outbox.NewSyncer(store, c)

	interval := time.Duration(cfg.Client.ProbeIntervalMs) * time.Millisecond
	monitor := connectivity.NewMonitor(c, interval)
	trigger := connectivity.NewTrigger(monitor,
		func() bool { return len(store.Pending()) > 0 },
		func(ctx context.Context) error {
			_, err := syncer.Sync(ctx)
			return err
		})

	return &Offline{
		store:   store,
		syncer:  syncer,
		monitor: monitor,
		trigger: trigger,
		client:  c,
		tasks:   worker.New(cfg.Worker.Concurrency, time.Duration(cfg.Worker.TimeoutMs)*time.Millisecond),
		edits:   history.NewStack(cfg.History.MaxDepth),
	}, nil
}

// Start launches the connectivity monitor and the auto-sync trigger.
func (o *Offline) Start(ctx context.Context) {
	o.trigger.Start(ctx)
	o.monitor.Start()
}

// Send queues a message for delivery and returns its id. The message is
// persisted immediately; delivery happens on the next sync pass.
func (o *Offline) Send(matchID, senderID string, body []byte, metadata map[string]string) (string, error) {
	return o.store.Enqueue(outbox.Draft{
		MatchID:  matchID,
		SenderID: senderID,
		Body:     body,
		Metadata: metadata,
	})
}

// SyncNow forces an immediate sync pass. Returns outbox.ErrSyncInFlight when
// one is already running.
func (o *Offline) SyncNow(ctx context.Context) (*outbox.Report, error) {
	return o.syncer.Sync(ctx)
}

// PendingCount reports how many messages are waiting for delivery.
func (o *Offline) PendingCount() int { return len(o.store.Pending()) }

// Online reports the most recent connectivity observation.
func (o *Offline) Online() bool { return o.monitor.Current().Online() }

// Client exposes the underlying API client for history and subscriptions.
func (o *Offline) Client() *Client { return o.client }

// Store exposes the underlying outbox for inspection.
func (o *Offline) Store() *outbox.Store { return o.store }

// Tasks exposes the background task pool, sized from the worker config.
// Use it to throttle image processing before attaching results to a Send.
func (o *Offline) Tasks() *worker.Pool { return o.tasks }

// Edits exposes the photo-editor undo/redo stack, bounded per the history
// config.
func (o *Offline) Edits() *history.Stack { return o.edits }

// Close stops the background loops and releases the outbox database.
// Queued tasks are rejected; running ones finish on their own.
func (o *Offline) Close() error {
	o.tasks.Abort()
	o.trigger.Stop()
	o.monitor.Stop()
	return o.store.Close()
}
