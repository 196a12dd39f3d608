package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"warzone2044/server/logging"
)

const (
	// EventSaveFailed is emitted when a record exhausts its retries.
	EventSaveFailed logging.EventType = "persistence.save_failed"
	// EventSaveDropped is emitted when the queue is full and a record is
	// discarded instead of blocking the caller.
	EventSaveDropped logging.EventType = "persistence.save_dropped"
)

const (
	defaultQueueSize  = 256
	saveRetryAttempts = 3
	saveRetryBackoff  = 100 * time.Millisecond
)

// WriteBehind queues saves and flushes them on a background worker.
// Enqueue never blocks; under sustained backpressure the newest record is
// dropped and accounted for.
type WriteBehind struct {
	store Store
	pub   logging.Publisher

	queue chan PlayerRecord
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
	saved     atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewWriteBehind wraps store with an asynchronous save queue of the given
// size (<= 0 selects the default). pub may be nil.
func NewWriteBehind(store Store, queueSize int, pub logging.Publisher) *WriteBehind {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	w := &WriteBehind{
		store: store,
		pub:   pub,
		queue: make(chan PlayerRecord, queueSize),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue schedules a save. Returns false when the record was dropped
// because the queue is full.
func (w *WriteBehind) Enqueue(record PlayerRecord) bool {
	select {
	case w.queue <- record:
		return true
	default:
		w.dropped.Add(1)
		w.pub.Publish(context.Background(), logging.Event{
			Type:     EventSaveDropped,
			Severity: logging.SeverityWarn,
			Category: logging.CategorySystem,
			Payload:  map[string]any{"playerId": record.ID},
		})
		return false
	}
}

// Stats reports lifetime queue counters.
type Stats struct {
	Saved   uint64 `json:"saved"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (w *WriteBehind) Stats() Stats {
	return Stats{
		Saved:   w.saved.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}

// Close stops accepting work, drains the queue, and closes the store.
func (w *WriteBehind) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
	return w.store.Close()
}

func (w *WriteBehind) run() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.queue:
			w.flush(record)
		case <-w.done:
			for {
				select {
				case record := <-w.queue:
					w.flush(record)
				default:
					return
				}
			}
		}
	}
}

func (w *WriteBehind) flush(record PlayerRecord) {
	record = w.merge(record)
	var err error
	for attempt := 0; attempt < saveRetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(saveRetryBackoff << (attempt - 1))
		}
		if err = w.store.Save(context.Background(), record); err == nil {
			w.saved.Add(1)
			return
		}
	}
	w.failed.Add(1)
	w.pub.Publish(context.Background(), logging.Event{
		Type:     EventSaveFailed,
		Severity: logging.SeverityError,
		Category: logging.CategorySystem,
		Payload:  map[string]any{"playerId": record.ID, "error": err.Error()},
	})
}

// merge carries stored progression forward for position-only saves.
// Disconnect records carry no Name or XP; upserting them as-is would wipe
// the stored columns.
func (w *WriteBehind) merge(record PlayerRecord) PlayerRecord {
	if record.Name != "" && record.XP != 0 {
		return record
	}
	stored, err := w.store.Load(context.Background(), record.ID)
	if err != nil {
		return record
	}
	if record.Name == "" {
		record.Name = stored.Name
	}
	if record.XP == 0 {
		record.XP = stored.XP
	}
	return record
}
