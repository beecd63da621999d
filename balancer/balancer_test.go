package balancer_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yakap-link/dispensary/balancer"
)

var (
	today     = date(2025, 1, 1)
	farFuture = date(2026, 1, 1)
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func item(sku, batch string, stock int64, expiry time.Time, burn float64) balancer.InventoryItem {
	return balancer.InventoryItem{
		SKU:           sku,
		BatchID:       batch,
		CurrentStock:  stock,
		ExpiryDate:    expiry,
		DailyBurnRate: decimal.NewFromFloat(burn),
	}
}

func clinic(id string, items ...balancer.InventoryItem) balancer.Clinic {
	return balancer.Clinic{ID: id, Name: "Clinic " + id, Inventory: items}
}

// =============================================================================
// METRICS
// =============================================================================

func TestDynamicThreshold(t *testing.T) {
	far := balancer.DynamicThreshold(date(2027, 1, 1), today, 90)
	assert.InDelta(t, 180, far.InexactFloat64(), 5)

	near := balancer.DynamicThreshold(date(2025, 4, 1), today, 90)
	assert.InDelta(t, 22.5, near.InexactFloat64(), 5)

	assert.True(t, balancer.DynamicThreshold(today, today, 90).IsZero(), "expiring today")
	assert.True(t, balancer.DynamicThreshold(date(2024, 6, 1), today, 90).IsZero(), "already expired")
}

func TestDaysOfInventory(t *testing.T) {
	assert.True(t, balancer.DaysOfInventory(item("X", "B1", 100, today, 0)).Equal(balancer.InfiniteDOI))
	assert.True(t, balancer.DaysOfInventory(item("X", "B2", 100, today, -1)).Equal(balancer.InfiniteDOI))
	assert.True(t, balancer.DaysOfInventory(item("X", "B3", 100, today, 4)).Equal(decimal.NewFromInt(25)))
}

// =============================================================================
// PLANNING
// =============================================================================

func TestDetectImbalances_SimpleTransfer(t *testing.T) {
	// GIVEN: Clinic A holds 200 days of doxycycline, clinic B holds 5
	// WHEN: Planning
	// THEN: A sends B enough for 30 days: (30 * 2) - 10 = 50

	orders := balancer.DetectImbalances([]balancer.Clinic{
		clinic("A", item("DOXY", "B1", 200, farFuture, 1.0)),
		clinic("B", item("DOXY", "B2", 10, farFuture, 2.0)),
	}, today)

	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "A", o.SourceClinic)
	assert.Equal(t, "B", o.DestClinic)
	assert.Equal(t, "DOXY", o.SKU)
	assert.Equal(t, "B1", o.BatchID)
	assert.Equal(t, int64(50), o.Qty)
	assert.Equal(t, balancer.PriorityStandardRebalance, o.Priority)
	assert.NotEmpty(t, o.ID)
}

func TestDetectImbalances_ExpiryPush(t *testing.T) {
	// Clinic A uses 0.1/day of 100 units expiring in 90 days: keeps 9, offers 91.
	nearExpiry := date(2025, 4, 1)
	orders := balancer.DetectImbalances([]balancer.Clinic{
		clinic("A", item("INSULIN", "B1", 100, nearExpiry, 0.1)),
		clinic("B", item("INSULIN", "B2", 0, nearExpiry, 5.0)),
	}, today)

	require.Len(t, orders, 1)
	assert.Equal(t, balancer.PriorityUrgentExpiry, orders[0].Priority)
	assert.Equal(t, "A", orders[0].SourceClinic)
	assert.Equal(t, "B", orders[0].DestClinic)
	assert.Equal(t, int64(91), orders[0].Qty)
}

func TestDetectImbalances_ZeroBurnIsUrgentSurplus(t *testing.T) {
	tests := []struct {
		name    string
		stockA  int64
		burnB   float64
		wantQty int64
	}{
		{"destination need limits the transfer", 100, 1.0, 30},
		{"source surplus limits the transfer", 50, 10.0, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := balancer.DetectImbalances([]balancer.Clinic{
				clinic("A", item("SKU1", "B1", tt.stockA, farFuture, 0)),
				clinic("B", item("SKU1", "B2", 0, farFuture, tt.burnB)),
			}, today)

			require.Len(t, orders, 1)
			assert.Equal(t, tt.wantQty, orders[0].Qty)
			assert.Equal(t, balancer.PriorityUrgentExpiry, orders[0].Priority)
		})
	}
}

func TestDetectImbalances_UrgentSourcesGoFirst(t *testing.T) {
	orders := balancer.DetectImbalances([]balancer.Clinic{
		clinic("A", item("DOXY", "STD", 200, farFuture, 1.0)),
		clinic("C", item("DOXY", "EXP", 40, date(2025, 1, 11), 1.0)),
		clinic("B", item("DOXY", "LOW", 0, farFuture, 2.0)),
	}, today)

	require.Len(t, orders, 2)
	assert.Equal(t, "C", orders[0].SourceClinic)
	assert.Equal(t, balancer.PriorityUrgentExpiry, orders[0].Priority)
	assert.Equal(t, int64(30), orders[0].Qty, "40 on hand, 10 usable before expiry")
	assert.Equal(t, "A", orders[1].SourceClinic)
	assert.Equal(t, int64(30), orders[1].Qty)
}

func TestDetectImbalances_NoSelfTransfer(t *testing.T) {
	// 10 units at 2/day expiring in 3 days: short of stock and partly wasted.
	orders := balancer.DetectImbalances([]balancer.Clinic{
		clinic("A", item("AMOX", "B1", 10, date(2025, 1, 4), 2.0)),
	}, today)
	assert.Empty(t, orders)
}

func TestDetectImbalances_Balanced(t *testing.T) {
	orders := balancer.DetectImbalances([]balancer.Clinic{
		clinic("A", item("DOXY", "B1", 60, farFuture, 1.0)),
		clinic("B", item("DOXY", "B2", 40, farFuture, 2.0)),
	}, today)
	assert.Empty(t, orders)
}
