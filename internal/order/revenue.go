package order

// RevenueOptions controls which order-level charges are included in the
// revenue figure.
type RevenueOptions struct {
	// IncludeTax overrides the order's own IncludeTaxInRevenue flag when
	// non-nil.
	IncludeTax *bool

	// IncludeShipping defaults to false: shipping is excluded from revenue.
	IncludeShipping bool
}

// ComputeRevenue derives the monetary amount an order contributes to the
// ledger from its current snapshot. Pure: identical snapshot, identical
// result. Every stage clamps at zero so revenue is never negative.
func ComputeRevenue(o *Order, opts RevenueOptions) float64 {
	var itemsTotal float64
	for _, it := range o.Items {
		itemsTotal += it.Subtotal()
	}

	afterDiscount := itemsTotal - o.Financials.OrderDiscount
	if afterDiscount < 0 {
		afterDiscount = 0
	}

	includeTax := o.Financials.IncludeTaxInRevenue
	if opts.IncludeTax != nil {
		includeTax = *opts.IncludeTax
	}

	revenue := afterDiscount
	if includeTax {
		revenue += o.Financials.TaxAmount
	}
	if opts.IncludeShipping {
		revenue += o.Financials.ShippingFee
	}

	revenue -= o.Financials.RefundedAmount
	if revenue < 0 {
		revenue = 0
	}
	return revenue
}

// Revenue is ComputeRevenue with the order's own defaults.
func Revenue(o *Order) float64 {
	return ComputeRevenue(o, RevenueOptions{})
}
