package sqlite

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/ecommerce-metrics/internal/ledger"
	"github.com/jcmexdev/ecommerce-metrics/internal/order"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testItems() []order.Item {
	return []order.Item{
		{ProductID: "prod_1", Price: 1000, Quantity: 2},
		{ProductID: "prod_2", Price: 500, Quantity: 1},
	}
}

// placeOrder creates the canonical 2300-revenue order used across tests.
func placeOrder(t *testing.T, store *Store) *order.Order {
	t.Helper()
	ctx := context.Background()

	o, _, err := store.CreateOrder(ctx, testItems())
	require.NoError(t, err)

	discount := 200.0
	_, err = store.UpdateStatus(ctx, o.ID, order.StatusPending, &order.FinancialsPatch{OrderDiscount: &discount}, "")
	require.NoError(t, err)
	return o
}

func TestCreateOrderBumpsTotalOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, snap, err := store.CreateOrder(ctx, testItems())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalOrders)
	assert.Equal(t, 0.0, snap.TotalRevenue)

	_, snap, err = store.CreateOrder(ctx, testItems())
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.TotalOrders)
}

func TestCreateOrderRejectsInvalidItems(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.CreateOrder(context.Background(), nil)
	assert.ErrorIs(t, err, order.ErrInvalidItems)

	// Rejected input leaves no trace on the ledger.
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalOrders)
}

func TestDeliveryCountsRevenue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	res, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, res.PrevStatus)
	assert.Equal(t, 2300.0, res.Ledger.TotalRevenue)
	assert.True(t, res.Order.RevenueCounted)
	assert.Equal(t, 2300.0, res.Order.RealizedRevenue)
}

func TestRepeatedTransitionIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	res, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2300.0, res.Ledger.TotalRevenue)
}

func TestCancelRollsBackThenRedeliverRestores(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	res, err := store.UpdateStatus(ctx, o.ID, order.StatusCancelled, nil, "customer request")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Ledger.TotalRevenue)
	assert.False(t, res.Order.RevenueCounted)

	res, err = store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2300.0, res.Ledger.TotalRevenue)
	assert.Equal(t, 2300.0, res.Order.RealizedRevenue)
}

func TestFinancialsPatchWhileDelivered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	discount := 300.0
	res, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, &order.FinancialsPatch{OrderDiscount: &discount}, "")
	require.NoError(t, err)

	// Re-evaluated, not re-added.
	assert.Equal(t, 2200.0, res.Ledger.TotalRevenue)
	assert.Equal(t, 2200.0, res.Order.RealizedRevenue)
}

func TestRefundAdjustsLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	res, err := store.Refund(ctx, o.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, 1800.0, res.Ledger.TotalRevenue)
	assert.Equal(t, 1800.0, res.Order.RealizedRevenue)
	assert.Equal(t, 500.0, res.Order.Financials.RefundedAmount)
}

func TestRefundNeverDrivesLedgerNegative(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	res, err := store.Refund(ctx, o.ID, 99999)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Ledger.TotalRevenue)
	assert.Equal(t, 0.0, res.Order.RealizedRevenue)
}

func TestRefundRejectsInvalidAmountBeforeTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	for _, amount := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := store.Refund(ctx, o.ID, amount)
		assert.ErrorIs(t, err, order.ErrInvalidFinancials, "amount %v", amount)
	}

	// Rejections left the order and the ledger untouched.
	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Financials.RefundedAmount)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2300.0, snap.TotalRevenue)
}

func TestRefundBeforeDeliveryHasNoLedgerEffect(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	res, err := store.Refund(ctx, o.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Ledger.TotalRevenue)
	assert.Equal(t, 500.0, res.Order.Financials.RefundedAmount)

	// The refund applies automatically once delivered.
	sres, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1800.0, sres.Ledger.TotalRevenue)
}

func TestUpdateStatusValidationBeforeTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.Status("bogus"), nil, "")
	assert.ErrorIs(t, err, order.ErrUnknownStatus)

	neg := -5.0
	_, err = store.UpdateStatus(ctx, o.ID, order.StatusShipped, &order.FinancialsPatch{TaxAmount: &neg}, "")
	assert.ErrorIs(t, err, order.ErrInvalidFinancials)

	// Neither rejection mutated anything.
	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, 0.0, got.Financials.TaxAmount)
}

func TestOrderNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)

	_, err = store.UpdateStatus(ctx, "missing", order.StatusDelivered, nil, "")
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)

	_, err = store.Refund(ctx, "missing", 10)
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)
}

func TestRebuildIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	first, err := store.Rebuild(ctx)
	require.NoError(t, err)
	second, err := store.Rebuild(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.TotalRevenue, second.TotalRevenue)
	assert.Equal(t, first.TotalOrders, second.TotalOrders)
	assert.Equal(t, 2300.0, second.TotalRevenue)
	assert.Equal(t, int64(1), second.TotalOrders)
}

func TestRebuildCorrectsDrift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "")
	require.NoError(t, err)

	// Simulate drift from a direct data edit.
	_, err = store.db.ExecContext(ctx, `UPDATE ledger SET total_revenue = 1, total_orders = 42 WHERE id = 1`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `UPDATE orders SET revenue_counted = 0, realized_revenue = 7 WHERE id = ?`, o.ID)
	require.NoError(t, err)

	snap, err := store.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2300.0, snap.TotalRevenue)
	assert.Equal(t, int64(1), snap.TotalOrders)

	// Self-healing mode also repairs the per-order flags.
	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.RevenueCounted)
	assert.Equal(t, 2300.0, got.RealizedRevenue)
}

func TestConcurrentDeliveriesLoseNoUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 10
	ids := make([]string, n)
	var want float64
	for i := range ids {
		o, _, err := store.CreateOrder(ctx, []order.Item{
			{ProductID: fmt.Sprintf("prod_%d", i), Price: float64(100 * (i + 1)), Quantity: 1},
		})
		require.NoError(t, err)
		ids[i] = o.ID
		want += float64(100 * (i + 1))
	}

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := store.UpdateStatus(ctx, id, order.StatusDelivered, nil, "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, snap.TotalRevenue)
	assert.Equal(t, int64(n), snap.TotalOrders)
}

func TestAuditTrailWrittenWithMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	o := placeOrder(t, store)

	_, err := store.UpdateStatus(ctx, o.ID, order.StatusDelivered, nil, "ops note")
	require.NoError(t, err)
	_, err = store.Refund(ctx, o.ID, 100)
	require.NoError(t, err)
	_, err = store.Rebuild(ctx)
	require.NoError(t, err)

	var kinds []string
	rows, err := store.db.QueryContext(ctx, `SELECT kind FROM ledger_events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var kind string
		require.NoError(t, rows.Scan(&kind))
		kinds = append(kinds, kind)
	}
	require.NoError(t, rows.Err())

	// placeOrder issues ORDER_CREATED plus the discount-patch transition.
	assert.Equal(t, []string{
		"ORDER_CREATED", "STATUS_CHANGE", "STATUS_CHANGE", "REFUND", "REBUILD",
	}, kinds)

	var note string
	var delta float64
	row := store.db.QueryRowContext(ctx, `SELECT note, delta FROM ledger_events WHERE kind = 'STATUS_CHANGE' ORDER BY id DESC LIMIT 1`)
	require.NoError(t, row.Scan(&note, &delta))
	assert.Equal(t, "ops note", note)
	assert.Equal(t, 2300.0, delta)
}

func TestSnapshotOnEmptyStore(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.Snapshot{}, snap)
}
