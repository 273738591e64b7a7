// Package sqlite provides the SQLite-backed implementation of ledger.Store.
//
// WAL mode is enabled on Open so readers never block the writer; the pool
// is capped at a single connection so every order+ledger transaction is
// serialized by the store itself, which is exactly the concurrency contract
// the updater needs (no two read-modify-write cycles may interleave).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jcmexdev/ecommerce-metrics/internal/ledger"
	"github.com/jcmexdev/ecommerce-metrics/internal/order"

	// Register the pure-Go SQLite driver. modernc.org/sqlite avoids CGO,
	// which keeps Docker (Alpine) builds simple.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    status           TEXT    NOT NULL,

    -- JSON array of order lines. Immutable after placement.
    items            TEXT    NOT NULL,

    order_discount   REAL    NOT NULL DEFAULT 0,
    tax_amount       REAL    NOT NULL DEFAULT 0,
    shipping_fee     REAL    NOT NULL DEFAULT 0,
    refunded_amount  REAL    NOT NULL DEFAULT 0,
    include_tax      INTEGER NOT NULL DEFAULT 0,

    -- revenue_counted is 1 exactly while realized_revenue is included in
    -- the ledger total.
    revenue_counted  INTEGER NOT NULL DEFAULT 0,
    realized_revenue REAL    NOT NULL DEFAULT 0,

    created_at       TEXT    NOT NULL,
    updated_at       TEXT    NOT NULL
);

-- Singleton aggregate. The CHECK pins the row count to one.
CREATE TABLE IF NOT EXISTS ledger (
    id            INTEGER PRIMARY KEY CHECK (id = 1),
    total_revenue REAL    NOT NULL DEFAULT 0,
    total_orders  INTEGER NOT NULL DEFAULT 0,
    updated_at    TEXT    NOT NULL
);

-- Append-only audit trail: one row per committed ledger mutation, written
-- inside the same transaction as the mutation itself.
CREATE TABLE IF NOT EXISTS ledger_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    prev_status TEXT NOT NULL DEFAULT '',
    new_status  TEXT NOT NULL DEFAULT '',
    delta       REAL NOT NULL DEFAULT 0,
    note        TEXT NOT NULL DEFAULT '',
    trace_id    TEXT NOT NULL DEFAULT '',
    span_id     TEXT NOT NULL DEFAULT '',
    occurred_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_events_order_id ON ledger_events(order_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_ledger_events_trace_id ON ledger_events(trace_id);
`

// Store is the SQLite implementation of ledger.Store.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
//
//	store, err := sqlite.Open("./data/metrics.db")
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// "sqlite", not "sqlite3", for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// Single writer connection: transactions on the order/ledger pair
	// serialize here instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateOrder persists a new order and bumps total_orders in one transaction.
func (s *Store) CreateOrder(ctx context.Context, items []order.Item) (*order.Order, ledger.Snapshot, error) {
	o, err := order.New(items)
	if err != nil {
		return nil, ledger.Snapshot{}, err
	}

	var snap ledger.Snapshot
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := adjustLedger(ctx, tx, 0, 1, o.UpdatedAt); err != nil {
			return err
		}
		ev := ledger.NewEvent(ctx, ledger.EventOrderCreated, o.ID, 0)
		ev.NewStatus = string(o.Status)
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
		snap, err = readSnapshot(ctx, tx)
		return err
	})
	if err != nil {
		return nil, ledger.Snapshot{}, err
	}
	return o, snap, nil
}

// GetOrder loads a single order record.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, selectOrderQuery+` WHERE id = ?`, id), id)
}

// UpdateStatus is the transactional updater: it merges the financials
// patch, moves the order to newStatus, applies the revenue delta to the
// ledger and records the audit event, all in one transaction.
func (s *Store) UpdateStatus(ctx context.Context, id string, newStatus order.Status, patch *order.FinancialsPatch, note string) (*ledger.StatusResult, error) {
	// Validation happens before the transaction starts: no side effects
	// on rejected input.
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", order.ErrUnknownStatus, newStatus)
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var res ledger.StatusResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx, selectOrderQuery+` WHERE id = ?`, id), id)
		if err != nil {
			return err
		}

		o.Financials.Apply(patch)
		change, err := order.ApplyStatusChange(o, newStatus)
		if err != nil {
			return err
		}
		o.UpdatedAt = time.Now().UTC()

		if err := updateOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := adjustLedger(ctx, tx, change.Delta, 0, o.UpdatedAt); err != nil {
			return err
		}

		ev := ledger.NewEvent(ctx, ledger.EventStatusChange, o.ID, change.Delta)
		ev.PrevStatus = string(change.PrevStatus)
		ev.NewStatus = string(change.NewStatus)
		ev.Note = note
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}

		snap, err := readSnapshot(ctx, tx)
		if err != nil {
			return err
		}
		res = ledger.StatusResult{Order: o, PrevStatus: change.PrevStatus, Ledger: snap}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Refund records a refund against the order and delta-adjusts the ledger
// when the order's revenue is currently counted.
func (s *Store) Refund(ctx context.Context, id string, amount float64) (*ledger.RefundResult, error) {
	// Validation happens before the transaction starts: no side effects
	// on rejected input.
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: refund amount must be a finite number >= 0, got %v", order.ErrInvalidFinancials, amount)
	}

	var res ledger.RefundResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx, selectOrderQuery+` WHERE id = ?`, id), id)
		if err != nil {
			return err
		}

		delta := order.ApplyRefund(o, amount)
		o.UpdatedAt = time.Now().UTC()

		if err := updateOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := adjustLedger(ctx, tx, delta, 0, o.UpdatedAt); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, ledger.NewEvent(ctx, ledger.EventRefund, o.ID, delta)); err != nil {
			return err
		}

		snap, err := readSnapshot(ctx, tx)
		if err != nil {
			return err
		}
		res = ledger.RefundResult{Order: o, Ledger: snap}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Snapshot reads the current ledger. A missing row (nothing committed yet)
// reads as the zero snapshot; the row itself is created lazily by the
// first mutation.
func (s *Store) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT total_revenue, total_orders, updated_at FROM ledger WHERE id = 1`)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Snapshot{}, nil
	}
	return snap, err
}

// Rebuild recomputes the ledger from the authoritative order rows in
// self-healing mode: every delivered order gets its revenue recomputed
// from its stored financials and its counted flags rewritten, instead of
// trusting the flags on disk. Idempotent: a second run with no intervening
// mutation recomputes the same totals.
func (s *Store) Rebuild(ctx context.Context) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectOrderQuery)
		if err != nil {
			return fmt.Errorf("sqlite: list orders: %w", err)
		}
		orders, err := collectOrders(rows)
		if err != nil {
			return err
		}

		prev, err := readSnapshot(ctx, tx)
		if err != nil {
			return err
		}

		var total float64
		for _, o := range orders {
			counted := o.RevenueCounted
			realized := o.RealizedRevenue

			if o.Status == order.StatusDelivered {
				o.RevenueCounted = true
				o.RealizedRevenue = order.Revenue(o)
				total += o.RealizedRevenue
			} else {
				o.RevenueCounted = false
				o.RealizedRevenue = 0
			}

			// Only touch rows whose flags drifted.
			if counted == o.RevenueCounted && realized == o.RealizedRevenue {
				continue
			}
			if err := updateOrder(ctx, tx, o); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := writeLedger(ctx, tx, total, int64(len(orders)), now); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, ledger.NewEvent(ctx, ledger.EventRebuild, "", total-prev.TotalRevenue)); err != nil {
			return err
		}

		snap, err = readSnapshot(ctx, tx)
		return err
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

// withTx runs fn inside a transaction, rolling back on any error so the
// order record and the ledger never commit separately.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

const selectOrderQuery = `
SELECT id, status, items,
       order_discount, tax_amount, shipping_fee, refunded_amount, include_tax,
       revenue_counted, realized_revenue, created_at, updated_at
FROM   orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner, id string) (*order.Order, error) {
	var (
		o              order.Order
		itemsJSON      string
		includeTax     int
		revenueCounted int
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&o.ID, &o.Status, &itemsJSON,
		&o.Financials.OrderDiscount, &o.Financials.TaxAmount,
		&o.Financials.ShippingFee, &o.Financials.RefundedAmount, &includeTax,
		&revenueCounted, &o.RealizedRevenue, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan order %q: %w", id, err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &o.Items); err != nil {
		return nil, fmt.Errorf("sqlite: decode items for %q: %w", o.ID, err)
	}
	o.Financials.IncludeTaxInRevenue = includeTax != 0
	o.RevenueCounted = revenueCounted != 0
	if o.CreatedAt, err = parseRFC3339(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]*order.Order, error) {
	defer rows.Close()
	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func insertOrder(ctx context.Context, tx *sql.Tx, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("sqlite: encode items for %q: %w", o.ID, err)
	}
	const q = `
		INSERT INTO orders
			(id, status, items, order_discount, tax_amount, shipping_fee,
			 refunded_amount, include_tax, revenue_counted, realized_revenue,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		o.ID, string(o.Status), string(items),
		o.Financials.OrderDiscount, o.Financials.TaxAmount,
		o.Financials.ShippingFee, o.Financials.RefundedAmount,
		boolToInt(o.Financials.IncludeTaxInRevenue),
		boolToInt(o.RevenueCounted), o.RealizedRevenue,
		formatRFC3339(o.CreatedAt), formatRFC3339(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
	}
	return nil
}

func updateOrder(ctx context.Context, tx *sql.Tx, o *order.Order) error {
	// Items are immutable after placement, so they are deliberately
	// absent from the UPDATE.
	const q = `
		UPDATE orders SET
			status = ?, order_discount = ?, tax_amount = ?, shipping_fee = ?,
			refunded_amount = ?, include_tax = ?, revenue_counted = ?,
			realized_revenue = ?, updated_at = ?
		WHERE id = ?`
	_, err := tx.ExecContext(ctx, q,
		string(o.Status),
		o.Financials.OrderDiscount, o.Financials.TaxAmount,
		o.Financials.ShippingFee, o.Financials.RefundedAmount,
		boolToInt(o.Financials.IncludeTaxInRevenue),
		boolToInt(o.RevenueCounted), o.RealizedRevenue,
		formatRFC3339(o.UpdatedAt),
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update order %q: %w", o.ID, err)
	}
	return nil
}

// adjustLedger applies a signed revenue delta and order-count increment,
// creating the singleton row lazily on first need.
func adjustLedger(ctx context.Context, tx *sql.Tx, revenueDelta float64, ordersDelta int64, at time.Time) error {
	const q = `
		INSERT INTO ledger (id, total_revenue, total_orders, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			total_revenue = total_revenue + excluded.total_revenue,
			total_orders  = total_orders  + excluded.total_orders,
			updated_at    = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, revenueDelta, ordersDelta, formatRFC3339(at)); err != nil {
		return fmt.Errorf("sqlite: adjust ledger: %w", err)
	}
	return nil
}

// writeLedger overwrites the singleton wholesale (reconciliation).
func writeLedger(ctx context.Context, tx *sql.Tx, totalRevenue float64, totalOrders int64, at time.Time) error {
	const q = `
		INSERT INTO ledger (id, total_revenue, total_orders, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			total_revenue = excluded.total_revenue,
			total_orders  = excluded.total_orders,
			updated_at    = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, totalRevenue, totalOrders, formatRFC3339(at)); err != nil {
		return fmt.Errorf("sqlite: write ledger: %w", err)
	}
	return nil
}

func readSnapshot(ctx context.Context, tx *sql.Tx) (ledger.Snapshot, error) {
	row := tx.QueryRowContext(ctx, `SELECT total_revenue, total_orders, updated_at FROM ledger WHERE id = 1`)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Snapshot{}, nil
	}
	return snap, err
}

func scanSnapshot(row rowScanner) (ledger.Snapshot, error) {
	var (
		snap      ledger.Snapshot
		updatedAt string
	)
	if err := row.Scan(&snap.TotalRevenue, &snap.TotalOrders, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Snapshot{}, err
		}
		return ledger.Snapshot{}, fmt.Errorf("sqlite: scan ledger: %w", err)
	}
	var err error
	if snap.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev ledger.Event) error {
	const q = `
		INSERT INTO ledger_events
			(order_id, kind, prev_status, new_status, delta, note, trace_id, span_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		ev.OrderID, string(ev.Kind), ev.PrevStatus, ev.NewStatus,
		ev.Delta, ev.Note, ev.TraceID, ev.SpanID,
		formatRFC3339(ev.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert ledger event: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
