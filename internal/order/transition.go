package order

import "fmt"

// StatusChange records the outcome of a single lifecycle transition and
// the signed adjustment it owes the ledger.
type StatusChange struct {
	PrevStatus Status
	NewStatus  Status
	Delta      float64
}

// ApplyStatusChange mutates o to newStatus and returns the signed ledger
// delta the transition produces. The rules keep at most one live revenue
// contribution per order:
//
//   - leaving delivered rolls back the counted amount;
//   - entering delivered counts the freshly computed revenue;
//   - staying delivered re-evaluates and applies only the difference.
//
// Replaying the same transition is a no-op the second time because
// RevenueCounted has already reached its target value.
func ApplyStatusChange(o *Order, newStatus Status) (StatusChange, error) {
	if !newStatus.Valid() {
		return StatusChange{}, fmt.Errorf("%w: %q", ErrUnknownStatus, newStatus)
	}

	change := StatusChange{PrevStatus: o.Status, NewStatus: newStatus}
	o.Status = newStatus

	if change.PrevStatus == StatusDelivered && newStatus != StatusDelivered && o.RevenueCounted {
		change.Delta -= o.RealizedRevenue
		o.RevenueCounted = false
		o.RealizedRevenue = 0
	}

	if newStatus == StatusDelivered {
		revenue := Revenue(o)
		if !o.RevenueCounted {
			change.Delta += revenue
			o.RevenueCounted = true
		} else if revenue != o.RealizedRevenue {
			change.Delta += revenue - o.RealizedRevenue
		}
		o.RealizedRevenue = revenue
	}

	return change, nil
}

// ApplyRefund adds amount to the order's refunded total and returns the
// signed ledger delta. When the order is not currently counted the refund
// is recorded but has no immediate ledger effect; it applies automatically
// on a later (re)delivery since ComputeRevenue always subtracts the
// refunded amount.
func ApplyRefund(o *Order, amount float64) float64 {
	o.Financials.RefundedAmount += amount

	if o.Status != StatusDelivered || !o.RevenueCounted {
		return 0
	}

	revenue := Revenue(o)
	delta := revenue - o.RealizedRevenue
	o.RealizedRevenue = revenue
	return delta
}
