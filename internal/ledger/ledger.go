// Package ledger defines the metrics ledger domain: the singleton revenue
// aggregate, the store port that mutates it atomically together with order
// records, and the audit trail of every mutation.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jcmexdev/ecommerce-metrics/internal/order"
)

var (
	// ErrOrderNotFound is returned when an operation names an order that
	// does not exist. No mutation has happened when it is returned.
	ErrOrderNotFound = errors.New("ledger: order not found")
)

// Snapshot is a point-in-time copy of the singleton ledger.
//
// TotalRevenue is always reproducible by summing RealizedRevenue over all
// orders with RevenueCounted set; Rebuild verifies and restores that
// invariant. TotalOrders counts every order ever created, regardless of
// lifecycle.
type Snapshot struct {
	TotalRevenue float64   `json:"total_revenue"`
	TotalOrders  int64     `json:"total_orders"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusResult is the outcome of a committed status transition.
type StatusResult struct {
	Order      *order.Order
	PrevStatus order.Status
	Ledger     Snapshot
}

// RefundResult is the outcome of a committed refund.
type RefundResult struct {
	Order  *order.Order
	Ledger Snapshot
}

// Store is the port for the transactional order+ledger persistence layer.
// Every mutating call commits the order record and the ledger in one
// transaction; on failure both are left at their pre-call state.
type Store interface {
	// CreateOrder persists a freshly placed order and bumps TotalOrders.
	CreateOrder(ctx context.Context, items []order.Item) (*order.Order, Snapshot, error)

	// GetOrder loads a single order record.
	GetOrder(ctx context.Context, id string) (*order.Order, error)

	// UpdateStatus merges the optional financials patch, moves the order
	// to newStatus and applies the resulting revenue delta to the ledger.
	UpdateStatus(ctx context.Context, id string, newStatus order.Status, patch *order.FinancialsPatch, note string) (*StatusResult, error)

	// Refund records a refund against the order and, when the order's
	// revenue is currently counted, delta-adjusts the ledger.
	Refund(ctx context.Context, id string, amount float64) (*RefundResult, error)

	// Snapshot reads the current ledger without mutating anything.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Rebuild recomputes the ledger from the authoritative order records,
	// overwrites it wholesale and returns the corrected snapshot.
	Rebuild(ctx context.Context) (Snapshot, error)
}
