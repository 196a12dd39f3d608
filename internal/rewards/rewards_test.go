package rewards

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLedgerSettlesOnce(t *testing.T) {
	ledger := NewLedgerSettler()
	stamp := time.Date(2025, 7, 4, 9, 30, 0, 0, time.UTC)
	ledger.SetClock(func() time.Time { return stamp })

	receipt, err := ledger.Settle(context.Background(), "raid-1", 450)
	require.NoError(t, err)
	require.NotEmpty(t, receipt.Reference)
	require.Equal(t, "raid-1", receipt.SectorID)
	require.Equal(t, 450.0, receipt.Pool)
	require.Equal(t, stamp, receipt.SettledAt)

	_, err = ledger.Settle(context.Background(), "raid-1", 450)
	require.ErrorIs(t, err, ErrDuplicateSettlement)
}

func TestLedgerReceiptLookup(t *testing.T) {
	ledger := NewLedgerSettler()
	want, err := ledger.Settle(context.Background(), "raid-1", 100)
	require.NoError(t, err)

	got, ok := ledger.Receipt("raid-1")
	require.True(t, ok)
	require.Equal(t, want, got)

	_, ok = ledger.Receipt("raid-2")
	require.False(t, ok)
}

func TestLedgerReceiptsOrdered(t *testing.T) {
	ledger := NewLedgerSettler()
	for _, id := range []string{"raid-c", "raid-a", "raid-b"} {
		_, err := ledger.Settle(context.Background(), id, 10)
		require.NoError(t, err)
	}

	receipts := ledger.Receipts()
	require.Len(t, receipts, 3)
	require.Equal(t, "raid-a", receipts[0].SectorID)
	require.Equal(t, "raid-b", receipts[1].SectorID)
	require.Equal(t, "raid-c", receipts[2].SectorID)
}

type countingSettler struct {
	mu    sync.Mutex
	calls []settlementJob
}

func (c *countingSettler) Settle(_ context.Context, sectorID string, pool float64) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, settlementJob{sectorID: sectorID, pool: pool})
	return Receipt{Reference: "ref", SectorID: sectorID, Pool: pool}, nil
}

func (c *countingSettler) snapshot() []settlementJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]settlementJob(nil), c.calls...)
}

func TestAsyncDrainsOnClose(t *testing.T) {
	settler := &countingSettler{}
	async := NewAsync(settler, 8, nil)

	async.Submit("raid-1", 120)
	async.Submit("raid-2", 340)
	async.Close()

	calls := settler.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, settlementJob{sectorID: "raid-1", pool: 120}, calls[0])
	require.Equal(t, settlementJob{sectorID: "raid-2", pool: 340}, calls[1])
}

func TestAsyncCloseIsIdempotent(t *testing.T) {
	async := NewAsync(NewLedgerSettler(), 1, nil)
	async.Close()
	async.Close()
}

type flakySettler struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    Settler
	err      error
}

func (f *flakySettler) Settle(ctx context.Context, sectorID string, pool float64) (Receipt, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return Receipt{}, f.err
	}
	return f.inner.Settle(ctx, sectorID, pool)
}

func (f *flakySettler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestAsyncRetriesTransientFailure(t *testing.T) {
	ledger := NewLedgerSettler()
	settler := &flakySettler{failures: 2, inner: ledger, err: context.DeadlineExceeded}
	async := NewAsync(settler, 4, nil)

	async.Submit("raid-1", 275)
	async.Close()

	require.Equal(t, 3, settler.callCount())
	receipt, ok := ledger.Receipt("raid-1")
	require.True(t, ok)
	require.Equal(t, 275.0, receipt.Pool)
}

func TestAsyncDoesNotRetryDuplicateSettlement(t *testing.T) {
	ledger := NewLedgerSettler()
	_, err := ledger.Settle(context.Background(), "raid-1", 100)
	require.NoError(t, err)

	settler := &flakySettler{inner: ledger}
	async := NewAsync(settler, 4, nil)
	async.Submit("raid-1", 100)
	async.Close()

	require.Equal(t, 1, settler.callCount())
}
