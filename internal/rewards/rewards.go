// Package rewards settles raid reward pools. The ledger guarantees each
// raid pays out once; the async front absorbs settlement latency so the
// raid manager never waits on payout.
package rewards

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"warzone2044/server/logging"
	raidlog "warzone2044/server/logging/raid"
)

// ErrDuplicateSettlement marks a second settlement attempt for a raid the
// ledger has already paid.
var ErrDuplicateSettlement = errors.New("raid already settled")

// Receipt proves one settlement.
type Receipt struct {
	Reference string    `json:"reference"`
	SectorID  string    `json:"sectorId"`
	Pool      float64   `json:"pool"`
	SettledAt time.Time `json:"settledAt"`
}

// Settler performs the actual payout.
type Settler interface {
	Settle(ctx context.Context, sectorID string, pool float64) (Receipt, error)
}

// LedgerSettler is an in-memory settler: one receipt per raid, minted with
// a unique reference.
type LedgerSettler struct {
	mu       sync.Mutex
	receipts map[string]Receipt
	now      func() time.Time
	newRef   func() string
}

func NewLedgerSettler() *LedgerSettler {
	return &LedgerSettler{
		receipts: make(map[string]Receipt),
		now:      time.Now,
		newRef:   uuid.NewString,
	}
}

// SetClock overrides timestamping, for tests.
func (l *LedgerSettler) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

func (l *LedgerSettler) Settle(_ context.Context, sectorID string, pool float64) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.receipts[sectorID]; done {
		return Receipt{}, ErrDuplicateSettlement
	}
	receipt := Receipt{
		Reference: l.newRef(),
		SectorID:  sectorID,
		Pool:      pool,
		SettledAt: l.now().UTC(),
	}
	l.receipts[sectorID] = receipt
	return receipt, nil
}

// Receipt returns the settlement record for a raid, if any.
func (l *LedgerSettler) Receipt(sectorID string) (Receipt, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	receipt, ok := l.receipts[sectorID]
	return receipt, ok
}

// Receipts lists every settlement ordered by raid id.
func (l *LedgerSettler) Receipts() []Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Receipt, 0, len(l.receipts))
	for _, receipt := range l.receipts {
		out = append(out, receipt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectorID < out[j].SectorID })
	return out
}

type settlementJob struct {
	sectorID string
	pool     float64
}

const (
	settleRetryAttempts = 3
	settleRetryBackoff  = 100 * time.Millisecond
)

// Async queues settlements and runs them on a background worker. Submit
// never blocks, which is what the raid manager requires.
type Async struct {
	settler Settler
	pub     logging.Publisher

	jobs chan settlementJob
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewAsync wraps settler with a settlement queue of the given size (<= 0
// selects 64). pub may be nil.
func NewAsync(settler Settler, queueSize int, pub logging.Publisher) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	a := &Async{
		settler: settler,
		pub:     pub,
		jobs:    make(chan settlementJob, queueSize),
		done:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Submit schedules a payout. Implements the raid manager's settlement
// queue. A full queue reports a settlement error instead of blocking.
func (a *Async) Submit(sectorID string, pool float64) {
	select {
	case a.jobs <- settlementJob{sectorID: sectorID, pool: pool}:
	default:
		raidlog.SettlementError(context.Background(), a.pub, logging.RaidRef(sectorID), errors.New("settlement queue full"))
	}
}

// Close drains pending settlements and stops the worker.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}

func (a *Async) run() {
	defer a.wg.Done()
	for {
		select {
		case job := <-a.jobs:
			a.settle(job)
		case <-a.done:
			for {
				select {
				case job := <-a.jobs:
					a.settle(job)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) settle(job settlementJob) {
	ctx := context.Background()
	var err error
	for attempt := 0; attempt < settleRetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(settleRetryBackoff << (attempt - 1))
		}
		var receipt Receipt
		if receipt, err = a.settler.Settle(ctx, job.sectorID, job.pool); err == nil {
			raidlog.RewardsSettled(ctx, a.pub, logging.RaidRef(job.sectorID), raidlog.SettledPayload{
				Pool:      receipt.Pool,
				Reference: receipt.Reference,
			})
			return
		}
		if errors.Is(err, ErrDuplicateSettlement) {
			break
		}
	}
	raidlog.SettlementError(ctx, a.pub, logging.RaidRef(job.sectorID), err)
}
