package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-metrics/internal/ledger"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()
	a := h.Subscribe()
	b := h.Subscribe()

	snap := ledger.Snapshot{TotalRevenue: 2300, TotalOrders: 1, UpdatedAt: time.Now()}
	delivered, dropped := h.Publish(snap)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 0, dropped)

	assert.Equal(t, snap, <-a)
	assert.Equal(t, snap, <-b)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New()
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	delivered, dropped := h.Publish(ledger.Snapshot{TotalRevenue: 1})
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 0, h.Len())

	// Channel is closed, a reader unblocks immediately.
	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe must not panic.
	h.Unsubscribe(ch)
}

func TestSlowSubscriberIsDroppedWithoutAffectingOthers(t *testing.T) {
	h := New()
	slow := h.Subscribe()
	fast := h.Subscribe()

	// Fill the slow subscriber's buffer without draining it.
	for i := 0; i < subscriberBuffer; i++ {
		h.Publish(ledger.Snapshot{TotalOrders: int64(i)})
		<-fast
	}

	delivered, dropped := h.Publish(ledger.Snapshot{TotalOrders: 99})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, dropped)
	require.Equal(t, 1, h.Len())

	got := <-fast
	assert.Equal(t, int64(99), got.TotalOrders)

	// The dropped channel was closed after its buffered values.
	for range slow {
	}
}
