package order

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownStatus is returned when a transition names a status outside
	// the lifecycle.
	ErrUnknownStatus = errors.New("order: unknown status")

	// ErrInvalidFinancials is returned when a financials patch carries a
	// negative or non-finite value.
	ErrInvalidFinancials = errors.New("order: invalid financials")

	// ErrInvalidItems is returned when an order is placed with no items or
	// with negative prices/quantities.
	ErrInvalidItems = errors.New("order: invalid items")
)

// Status is the lifecycle state of an order.
// Only the transition into delivered counts revenue; only the transition
// out of delivered rolls it back.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Valid reports whether s is one of the lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Item is a single order line. Items are immutable once the order is placed.
type Item struct {
	ProductID string  `json:"product_id"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Discount  float64 `json:"discount"` // per-unit discount
}

// Subtotal is the line contribution after the per-unit discount,
// never negative.
func (i Item) Subtotal() float64 {
	unit := i.Price - i.Discount
	if unit < 0 {
		unit = 0
	}
	return unit * float64(i.Quantity)
}

// Financials is the order-level monetary breakdown. Mutable only through
// a FinancialsPatch or the refund operation.
type Financials struct {
	OrderDiscount       float64 `json:"order_discount"`
	TaxAmount           float64 `json:"tax_amount"`
	ShippingFee         float64 `json:"shipping_fee"`
	RefundedAmount      float64 `json:"refunded_amount"`
	IncludeTaxInRevenue bool    `json:"include_tax_in_revenue"`
}

// FinancialsPatch is a partial update of Financials. Only non-nil fields
// are merged.
type FinancialsPatch struct {
	OrderDiscount       *float64
	TaxAmount           *float64
	ShippingFee         *float64
	RefundedAmount      *float64
	IncludeTaxInRevenue *bool
}

// Validate checks every provided field before any merge happens.
func (p *FinancialsPatch) Validate() error {
	if p == nil {
		return nil
	}
	for name, v := range map[string]*float64{
		"order_discount":  p.OrderDiscount,
		"tax_amount":      p.TaxAmount,
		"shipping_fee":    p.ShippingFee,
		"refunded_amount": p.RefundedAmount,
	} {
		if v == nil {
			continue
		}
		if *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("%w: %s must be a finite number >= 0", ErrInvalidFinancials, name)
		}
	}
	return nil
}

// Apply merges the provided fields of p into f. Call Validate first.
func (f *Financials) Apply(p *FinancialsPatch) {
	if p == nil {
		return
	}
	if p.OrderDiscount != nil {
		f.OrderDiscount = *p.OrderDiscount
	}
	if p.TaxAmount != nil {
		f.TaxAmount = *p.TaxAmount
	}
	if p.ShippingFee != nil {
		f.ShippingFee = *p.ShippingFee
	}
	if p.RefundedAmount != nil {
		f.RefundedAmount = *p.RefundedAmount
	}
	if p.IncludeTaxInRevenue != nil {
		f.IncludeTaxInRevenue = *p.IncludeTaxInRevenue
	}
}

// Order is the persisted order record.
//
// RevenueCounted is true exactly while RealizedRevenue is included in the
// ledger total. RealizedRevenue is meaningful only when RevenueCounted is
// true; it holds the amount last contributed to the ledger.
type Order struct {
	ID              string
	Status          Status
	Items           []Item
	Financials      Financials
	RevenueCounted  bool
	RealizedRevenue float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New builds a freshly placed order in pending state. Revenue is not
// counted until the order is delivered.
func New(items []Item) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidItems)
	}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 || it.Price < 0 || it.Discount < 0 {
			return nil, fmt.Errorf("%w: product_id, quantity and price must be valid", ErrInvalidItems)
		}
	}
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
