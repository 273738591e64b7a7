package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/ecommerce-metrics/internal/hub"
	"github.com/jcmexdev/ecommerce-metrics/internal/ledger"
	"github.com/jcmexdev/ecommerce-metrics/internal/notify"
	"github.com/jcmexdev/ecommerce-metrics/internal/order"
	"github.com/jcmexdev/ecommerce-metrics/internal/pkg/cache"
	"github.com/jcmexdev/ecommerce-metrics/internal/pkg/metrics"
)

// keepaliveInterval paces the SSE comments that keep idle stream
// connections from being reaped by intermediaries. A variable so tests
// can shorten it.
var keepaliveInterval = 15 * time.Second

// Handler serves the order/metrics HTTP surface.
type Handler struct {
	store    ledger.Store
	hub      *hub.Hub
	notifier notify.Notifier
	cache    cache.SnapshotCache // nil-safe: summary falls through to the store
}

// NewHandler wires the handler with its collaborators. cache may be nil.
func NewHandler(store ledger.Store, h *hub.Hub, n notify.Notifier, c cache.SnapshotCache) *Handler {
	return &Handler{store: store, hub: h, notifier: n, cache: c}
}

// CreateOrder places a new order. The order starts pending with revenue
// not counted; only total_orders moves on the ledger.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	items := make([]order.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.Item{
			ProductID: it.ProductID,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Discount:  it.Discount,
		})
	}

	o, snap, err := h.store.CreateOrder(r.Context(), items)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "order created", "order_id", o.ID, "items", len(o.Items))
	h.afterCommit(r.Context(), snap)
	writeJSON(w, http.StatusCreated, mapOrderToResponse(o))
}

// GetOrderByID retrieves a single order record.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	o, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// UpdateOrderStatus runs the transactional updater and, post-commit, hands
// the broadcast and the notification off as fire-and-forget work.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	newStatus := order.Status(req.Status)
	if !newStatus.Valid() {
		writeError(w, http.StatusBadRequest, "unknown_status", fmt.Sprintf("%q is not a valid status", req.Status))
		return
	}

	res, err := h.store.UpdateStatus(r.Context(), orderID, newStatus, mapPatch(req.Financials), req.Note)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "order status updated",
		"order_id", orderID,
		"prev_status", string(res.PrevStatus),
		"status", string(res.Order.Status),
	)
	metrics.StatusTransitionsTotal.WithLabelValues(string(res.PrevStatus), string(res.Order.Status)).Inc()
	h.afterCommit(r.Context(), res.Ledger)

	// Detach from the request context so the notification survives the
	// response being sent, while keeping tracing metadata.
	noteCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.notifier.OrderUpdated(noteCtx, res.Order, res.PrevStatus, req.Note); err != nil {
			slog.ErrorContext(noteCtx, "notification delivery failed", "order_id", orderID, "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, UpdateStatusResponse{
		ID:         res.Order.ID,
		Status:     string(res.Order.Status),
		PrevStatus: string(res.PrevStatus),
	})
}

// RefundOrder records a refund against the order. The amount must be a
// finite number >= 0; validation happens before any transaction starts.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Amount < 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a finite number >= 0")
		return
	}

	res, err := h.store.Refund(r.Context(), orderID, req.Amount)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "order refunded", "order_id", orderID, "amount", req.Amount)
	metrics.RefundsTotal.Inc()
	h.afterCommit(r.Context(), res.Ledger)

	writeJSON(w, http.StatusOK, RefundResponse{
		Acknowledged:   true,
		OrderID:        res.Order.ID,
		RefundedAmount: res.Order.Financials.RefundedAmount,
	})
}

// GetMetricsSummary returns the current ledger snapshot, read through the
// cache when one is configured. Cache failures degrade to the store.
func (h *Handler) GetMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		snap, ok, err := h.cache.Get(r.Context())
		if err != nil {
			slog.WarnContext(r.Context(), "snapshot cache read failed", "error", err)
		} else if ok {
			writeJSON(w, http.StatusOK, mapSnapshotToResponse(snap))
			return
		}
	}

	snap, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSnapshotToResponse(snap))
}

// StreamMetrics is the long-lived push channel: an immediate liveness
// ping on connect, a snapshot event per ledger change, and periodic
// keepalives. Closes on client disconnect or when the hub drops the
// subscriber for falling behind.
func (h *Handler) StreamMetrics(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	// Liveness signal, independent of mutation events.
	fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(mapSnapshotToResponse(snap))
			if err != nil {
				slog.ErrorContext(r.Context(), "encode snapshot event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// RebuildMetrics runs the reconciliation job and returns the corrected
// snapshot.
func (h *Handler) RebuildMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Rebuild(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "ledger rebuilt",
		"total_revenue", snap.TotalRevenue,
		"total_orders", snap.TotalOrders,
	)
	metrics.RebuildsTotal.Inc()
	h.afterCommit(r.Context(), snap)

	writeJSON(w, http.StatusOK, mapSnapshotToResponse(snap))
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// afterCommit runs the best-effort post-commit side effects: broadcast to
// subscribers, gauge refresh, cache refresh. None of them can fail the
// already-committed transaction.
func (h *Handler) afterCommit(ctx context.Context, snap ledger.Snapshot) {
	delivered, dropped := h.hub.Publish(snap)
	metrics.BroadcastsTotal.Inc()
	if dropped > 0 {
		metrics.DroppedSubscribersTotal.Add(float64(dropped))
		slog.WarnContext(ctx, "dropped slow stream subscribers", "dropped", dropped, "delivered", delivered)
	}
	metrics.ObserveLedger(snap.TotalRevenue, snap.TotalOrders)

	if h.cache != nil {
		// Synchronous on purpose: back-to-back commits refresh the cache
		// in commit order. A detached write could land after a later
		// commit's write and pin the older snapshot until the TTL expires.
		if err := h.cache.Put(ctx, snap); err != nil {
			slog.WarnContext(ctx, "snapshot cache refresh failed", "error", err)
		}
	}
}

// writeStoreError maps domain errors onto HTTP statuses. Validation and
// not-found outcomes were produced before any mutation; everything else is
// an aborted transaction the caller may retry.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, order.ErrInvalidFinancials),
		errors.Is(err, order.ErrInvalidItems):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
