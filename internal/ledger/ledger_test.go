package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/store"
)

func newLedger(t *testing.T) (*store.Store, *Ledger) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, New(st)
}

func TestCreditAndBalance(t *testing.T) {
	st, led := newLedger(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, 1, "tester"))

	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 5, store.TxAllocation))
	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 2.5, store.TxAllocation))

	got, err := led.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 7.5, got)

	// Untouched resource reads as zero, not an error.
	got, err = led.Balance(ctx, store.AgentHolder(1), store.ResourceEnergy)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestDebitInsufficientFunds(t *testing.T) {
	st, led := newLedger(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, 1, "tester"))
	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 3, store.TxAllocation))

	err := led.Debit(ctx, store.AgentHolder(1), store.ResourceFood, 3.01, store.TxConsumption)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// A failed debit leaves the balance untouched.
	got, err := led.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	// Debiting the exact balance succeeds and lands on zero.
	require.NoError(t, led.Debit(ctx, store.AgentHolder(1), store.ResourceFood, 3, store.TxConsumption))
	got, err = led.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRejectNonPositiveAmounts(t *testing.T) {
	st, led := newLedger(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, 1, "tester"))

	assert.Error(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 0, store.TxAllocation))
	assert.Error(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, -1, store.TxAllocation))
	assert.Error(t, led.Debit(ctx, store.AgentHolder(1), store.ResourceFood, -1, store.TxConsumption))
}

func TestDebitAllAtomic(t *testing.T) {
	st, led := newLedger(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, 1, "tester"))
	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 10, store.TxAllocation))
	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceEnergy, 0.5, store.TxAllocation))

	// Energy is short, so the food leg must roll back too.
	err := led.DebitAll(ctx, store.AgentHolder(1), map[store.Resource]float64{
		store.ResourceFood:   1,
		store.ResourceEnergy: 1,
	}, store.TxConsumption)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	food, err := led.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 10.0, food)
	energy, err := led.Balance(ctx, store.AgentHolder(1), store.ResourceEnergy)
	require.NoError(t, err)
	assert.Equal(t, 0.5, energy)
}

// A sender with exactly 5 food transferring 5 either fully succeeds or
// fully fails; the system total never changes.
func TestTransferAtomicExactBalance(t *testing.T) {
	st, led := newLedger(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, 1, "sender"))
	require.NoError(t, st.CreateAgent(ctx, 2, "receiver"))
	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 5, store.TxAllocation))

	require.NoError(t, led.Transfer(ctx, store.AgentHolder(1), store.AgentHolder(2), store.ResourceFood, 5, store.TxTrade))

	from, err := led.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	to, err := led.Balance(ctx, store.AgentHolder(2), store.ResourceFood)
	require.NoError(t, err)
	assert.Zero(t, from)
	assert.Equal(t, 5.0, to)

	// Second attempt fails outright and credits nothing.
	err = led.Transfer(ctx, store.AgentHolder(1), store.AgentHolder(2), store.ResourceFood, 5, store.TxTrade)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	to, err = led.Balance(ctx, store.AgentHolder(2), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 5.0, to)
}

// Concurrent debits against one balance can never drive it negative and
// the survivors must sum to exactly the starting amount.
func TestConcurrentDebitsNeverNegative(t *testing.T) {
	st, led := newLedger(t)
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, 1, "tester"))
	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 10, store.TxAllocation))

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := led.Debit(ctx, store.AgentHolder(1), store.ResourceFood, 1, store.TxConsumption)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	got, err := led.Balance(ctx, store.AgentHolder(1), store.ResourceFood)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestTransferWritesAuditRow(t *testing.T) {
	st, led := newLedger(t)
	ctx := context.Background()
	st.SetClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) })
	require.NoError(t, st.CreateAgent(ctx, 1, "sender"))
	require.NoError(t, st.CreateAgent(ctx, 2, "receiver"))
	require.NoError(t, led.Credit(ctx, store.AgentHolder(1), store.ResourceFood, 5, store.TxAllocation))
	require.NoError(t, led.Transfer(ctx, store.AgentHolder(1), store.AgentHolder(2), store.ResourceFood, 2, store.TxTrade))

	txs, err := led.Transactions(ctx, store.TxTrade, time.UnixMilli(0))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(1), txs[0].FromID)
	assert.Equal(t, int64(2), txs[0].ToID)
	assert.Equal(t, 2.0, txs[0].Amount)
	assert.Equal(t, int64(1_700_000_000_000), txs[0].CreatedAt)
}

func TestPoolHoldings(t *testing.T) {
	_, led := newLedger(t)
	ctx := context.Background()

	require.NoError(t, led.Credit(ctx, store.CommonPool(), store.ResourceFood, 50, store.TxAllocation))
	got, err := led.Balance(ctx, store.CommonPool(), store.ResourceFood)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got)
}
