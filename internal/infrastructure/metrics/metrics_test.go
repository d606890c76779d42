package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestObservers(t *testing.T) {
	m := New()

	m.AllocationSucceeded(decimal.NewFromInt(120), 2)
	m.AllocationFailed("INSUFFICIENT_INVENTORY")
	m.TransferApplied(3)
	m.TransferSkipped()
	m.OrderCreated(4)
	m.OrderFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues("INSUFFICIENT_INVENTORY")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.allocatedKg))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.transferLines))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("skipped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ordersRemisiones))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("failed")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.OrderCreated(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "concreterp_arkik_orders_total")
}
