// Package notify delivers order updates to the external notification
// collaborator. Delivery is asynchronous and best effort: the financial
// transaction never depends on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jcmexdev/ecommerce-metrics/internal/order"
)

// Notifier is the port for the notification dispatcher.
type Notifier interface {
	// OrderUpdated hands the updated order to the collaborator. Callers
	// invoke it post-commit in a detached goroutine and only log failures.
	OrderUpdated(ctx context.Context, o *order.Order, prevStatus order.Status, note string) error
}

// Nop discards all notifications. Used when no webhook is configured and
// in tests.
type Nop struct{}

func (Nop) OrderUpdated(context.Context, *order.Order, order.Status, string) error { return nil }

type orderUpdatedPayload struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	PrevStatus     string  `json:"prev_status"`
	Note           string  `json:"note,omitempty"`
	RefundedAmount float64 `json:"refunded_amount"`
	Revenue        float64 `json:"revenue"`
}

// Webhook POSTs order updates to a collaborator endpoint as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

var _ Notifier = (*Webhook)(nil)

func (w *Webhook) OrderUpdated(ctx context.Context, o *order.Order, prevStatus order.Status, note string) error {
	body, err := json.Marshal(orderUpdatedPayload{
		OrderID:        o.ID,
		Status:         string(o.Status),
		PrevStatus:     string(prevStatus),
		Note:           note,
		RefundedAmount: o.Financials.RefundedAmount,
		Revenue:        order.Revenue(o),
	})
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver order %s: %w", o.ID, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("notify: collaborator returned %d for order %s", res.StatusCode, o.ID)
	}
	return nil
}
