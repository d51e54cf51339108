package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/storage"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

const storeKey = "process-registry"

// Persistence wires an AIProcessManager to a storage.KVStore, debouncing
// writes so a burst of registry mutations collapses into a single save.
type Persistence struct {
	store     storage.KVStore
	registry  *AIProcessManager
	logger    *logger.Logger
	debouncer *storage.Debouncer
	unsub     func()
}

// NewPersistence wires m to store, scheduling a debounced save on every
// registry change.
func NewPersistence(m *AIProcessManager, store storage.KVStore, debounce time.Duration, log *logger.Logger) *Persistence {
	p := &Persistence{store: store, registry: m, logger: log}
	p.debouncer = storage.NewDebouncer(debounce, p.saveNow)
	p.unsub = m.OnChange(func(v1.ProcessEvent) {
		p.debouncer.Schedule()
	})
	return p
}

// Load reads any existing snapshot and restores it into the registry.
// Missing, corrupt, or version-mismatched data results in an empty registry
// rather than an error.
func (p *Persistence) Load(ctx context.Context) error {
	data, ok, err := p.store.Get(ctx, storeKey)
	if err != nil {
		p.logger.WithError(err).Warn("failed to read process registry snapshot, starting empty")
		return nil
	}
	if !ok {
		return nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		p.logger.WithError(err).Warn("process registry snapshot unparseable, starting empty")
		return nil
	}

	p.registry.Restore(snapshot)
	return nil
}

func (p *Persistence) saveNow() {
	snapshot := p.registry.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.WithError(err).Error("failed to marshal process registry snapshot")
		return
	}
	if err := p.store.Put(context.Background(), storeKey, data); err != nil {
		p.logger.WithError(err).Error("failed to persist process registry snapshot")
	}
}

// Flush forces any pending debounced save to run synchronously now.
func (p *Persistence) Flush() {
	p.debouncer.Flush()
}

// Close unsubscribes from registry changes and flushes any pending write.
func (p *Persistence) Close() {
	p.unsub()
	p.debouncer.Stop()
	p.saveNow()
}
