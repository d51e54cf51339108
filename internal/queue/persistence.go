package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/storage"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// storeKey is the single key the queue snapshot is persisted under.
const storeKey = "queue"

// Persistence wires a TaskQueueManager to a storage.KVStore, debouncing
// writes so a burst of queue mutations collapses into a single save.
type Persistence struct {
	store     storage.KVStore
	queue     *TaskQueueManager
	logger    *logger.Logger
	debouncer *storage.Debouncer
	unsub     func()
}

// NewPersistence wires q to store, scheduling a debounced save on every
// queue change. Callers must call Load before relying on the queue's
// contents, and Close when shutting down to flush any pending write.
func NewPersistence(q *TaskQueueManager, store storage.KVStore, debounce time.Duration, log *logger.Logger) *Persistence {
	p := &Persistence{store: store, queue: q, logger: log}
	p.debouncer = storage.NewDebouncer(debounce, p.saveNow)
	p.unsub = q.OnChange(func(v1.QueueEvent) {
		p.debouncer.Schedule()
	})
	return p
}

// Load reads any existing snapshot from the store and restores it into the
// queue. Missing, corrupt, or version-mismatched data results in an empty
// queue rather than an error, per the crash-recovery contract.
func (p *Persistence) Load(ctx context.Context) error {
	data, ok, err := p.store.Get(ctx, storeKey)
	if err != nil {
		p.logger.WithError(err).Warn("failed to read queue snapshot, starting empty")
		return nil
	}
	if !ok {
		return nil
	}

	var snapshot v1.QueueSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		p.logger.WithError(err).Warn("queue snapshot unparseable, starting empty")
		return nil
	}
	if snapshot.Version != SnapshotVersion {
		p.logger.Warn("queue snapshot has an unknown version, starting empty")
	}

	p.queue.Restore(snapshot)
	return nil
}

func (p *Persistence) saveNow() {
	snapshot := p.queue.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.WithError(err).Error("failed to marshal queue snapshot")
		return
	}
	if err := p.store.Put(context.Background(), storeKey, data); err != nil {
		p.logger.WithError(err).Error("failed to persist queue snapshot")
	}
}

// Flush forces any pending debounced save to run synchronously now.
func (p *Persistence) Flush() {
	p.debouncer.Flush()
}

// Close unsubscribes from queue changes and flushes any pending write.
func (p *Persistence) Close() {
	p.unsub()
	p.debouncer.Stop()
	p.saveNow()
}
