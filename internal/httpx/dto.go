package httpx

import (
	"time"

	"github.com/jcmexdev/ecommerce-metrics/internal/ledger"
	"github.com/jcmexdev/ecommerce-metrics/internal/order"
)

type CreateOrderRequest struct {
	Items []OrderItemDTO `json:"items"`
}

type OrderItemDTO struct {
	ProductID string  `json:"product_id"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Discount  float64 `json:"discount,omitempty"`
}

type FinancialsPatchDTO struct {
	OrderDiscount       *float64 `json:"order_discount,omitempty"`
	TaxAmount           *float64 `json:"tax_amount,omitempty"`
	ShippingFee         *float64 `json:"shipping_fee,omitempty"`
	RefundedAmount      *float64 `json:"refunded_amount,omitempty"`
	IncludeTaxInRevenue *bool    `json:"include_tax_in_revenue,omitempty"`
}

type UpdateStatusRequest struct {
	Status     string              `json:"status"`
	Financials *FinancialsPatchDTO `json:"financials,omitempty"`
	Note       string              `json:"note,omitempty"`
}

type UpdateStatusResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PrevStatus string `json:"prev_status"`
}

type RefundRequest struct {
	Amount float64 `json:"amount"`
}

type RefundResponse struct {
	Acknowledged   bool    `json:"acknowledged"`
	OrderID        string  `json:"order_id"`
	RefundedAmount float64 `json:"refunded_amount"`
}

type OrderResponse struct {
	ID              string         `json:"id"`
	Status          string         `json:"status"`
	Items           []OrderItemDTO `json:"items"`
	OrderDiscount   float64        `json:"order_discount"`
	TaxAmount       float64        `json:"tax_amount"`
	ShippingFee     float64        `json:"shipping_fee"`
	RefundedAmount  float64        `json:"refunded_amount"`
	RevenueCounted  bool           `json:"revenue_counted"`
	RealizedRevenue float64        `json:"realized_revenue"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

type MetricsResponse struct {
	TotalRevenue float64 `json:"total_revenue"`
	TotalOrders  int64   `json:"total_orders"`
	UpdatedAt    string  `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapOrderToResponse(o *order.Order) OrderResponse {
	items := make([]OrderItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemDTO{
			ProductID: it.ProductID,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Discount:  it.Discount,
		}
	}
	return OrderResponse{
		ID:              o.ID,
		Status:          string(o.Status),
		Items:           items,
		OrderDiscount:   o.Financials.OrderDiscount,
		TaxAmount:       o.Financials.TaxAmount,
		ShippingFee:     o.Financials.ShippingFee,
		RefundedAmount:  o.Financials.RefundedAmount,
		RevenueCounted:  o.RevenueCounted,
		RealizedRevenue: o.RealizedRevenue,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
}

func mapSnapshotToResponse(s ledger.Snapshot) MetricsResponse {
	return MetricsResponse{
		TotalRevenue: s.TotalRevenue,
		TotalOrders:  s.TotalOrders,
		UpdatedAt:    s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapPatch(dto *FinancialsPatchDTO) *order.FinancialsPatch {
	if dto == nil {
		return nil
	}
	return &order.FinancialsPatch{
		OrderDiscount:       dto.OrderDiscount,
		TaxAmount:           dto.TaxAmount,
		ShippingFee:         dto.ShippingFee,
		RefundedAmount:      dto.RefundedAmount,
		IncludeTaxInRevenue: dto.IncludeTaxInRevenue,
	}
}
