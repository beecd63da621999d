/*
Package balancer plans stock transfers between facilities.

Every facility reports, per SKU batch, how much it holds, how fast it is
used (daily burn rate) and when it expires. The planner flags:

  - SHORTAGES: fewer than CriticalLowDays of inventory left. The facility
    needs enough to cover TargetDays of use.
  - SURPLUSES: more inventory than the expiry-scaled threshold, or stock
    that will expire before it can be used locally.

Surpluses are then matched against shortages of the same SKU, stock that
would otherwise expire going first. The output is a list of advisory
TransferOrders; nothing is written to any ledger.

ARITHMETIC:
  Burn rates are fractional, so all intermediate values use
  shopspring/decimal. Quantities are truncated toward zero.
*/
package balancer

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CriticalLowDays   = 15
	TargetDays        = 30
	BaseOverstockDays = 90
	DaysPerMonth      = 30
)

// InfiniteDOI is reported for items that are not being used at all.
var InfiniteDOI = decimal.NewFromInt(9999)

// Priority ranks a transfer.
type Priority string

const (
	PriorityCritical          Priority = "CRITICAL"
	PriorityUrgentExpiry      Priority = "URGENT_EXPIRY"
	PriorityStandardRebalance Priority = "STANDARD_REBALANCE"
)

// InventoryItem is one batch of a SKU at a facility.
type InventoryItem struct {
	SKU           string          `json:"sku"`
	BatchID       string          `json:"batch_id"`
	CurrentStock  int64           `json:"current_stock"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	DailyBurnRate decimal.Decimal `json:"daily_burn_rate"`
}

// Clinic is a facility taking part in rebalancing.
type Clinic struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Inventory []InventoryItem `json:"inventory"`
}

// TransferOrder moves Qty units of a batch from one facility to another.
type TransferOrder struct {
	ID           string   `json:"id"`
	SourceClinic string   `json:"source_clinic_id"`
	DestClinic   string   `json:"dest_clinic_id"`
	SKU          string   `json:"sku"`
	BatchID      string   `json:"batch_id"`
	Qty          int64    `json:"qty"`
	Priority     Priority `json:"priority"`
}

// DaysOfInventory is how long the current stock lasts at the current burn
// rate. Items with no positive burn rate last InfiniteDOI days.
func DaysOfInventory(item InventoryItem) decimal.Decimal {
	if !item.DailyBurnRate.IsPositive() {
		return InfiniteDOI
	}
	return decimal.NewFromInt(item.CurrentStock).Div(item.DailyBurnRate)
}

// DynamicThreshold scales the overstock threshold with time left to expiry:
// base * (months_to_expiry / 12), with 30-day months. Expired stock has a
// zero threshold.
func DynamicThreshold(expiry, today time.Time, baseDays int) decimal.Decimal {
	months := decimal.NewFromInt(daysBetween(today, expiry)).Div(decimal.NewFromInt(DaysPerMonth))
	if !months.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(baseDays)).Mul(months).Div(decimal.NewFromInt(12))
}

// daysBetween counts whole calendar days from a to b.
func daysBetween(a, b time.Time) int64 {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int64(b.Sub(a).Hours() / 24)
}

type need struct {
	clinic string
	qty    int64
}

type offer struct {
	clinic   string
	batchID  string
	qty      int64
	priority Priority
}

// DetectImbalances analyzes all clinics as of today and returns transfer
// orders. SKUs are processed in the order they first appear as a shortage.
// A clinic is never asked to transfer to itself.
func DetectImbalances(clinics []Clinic, today time.Time) []TransferOrder {
	var (
		shortages = map[string][]need{}
		surpluses = map[string][]*offer{}
		skuOrder  []string
	)

	critical := decimal.NewFromInt(CriticalLowDays)
	target := decimal.NewFromInt(TargetDays)

	for _, clinic := range clinics {
		for _, item := range clinic.Inventory {
			doi := DaysOfInventory(item)
			threshold := DynamicThreshold(item.ExpiryDate, today, BaseOverstockDays)
			stock := decimal.NewFromInt(item.CurrentStock)

			if doi.LessThan(critical) {
				needed := target.Mul(item.DailyBurnRate).Sub(stock).IntPart()
				if needed > 0 {
					if _, seen := shortages[item.SKU]; !seen {
						skuOrder = append(skuOrder, item.SKU)
					}
					shortages[item.SKU] = append(shortages[item.SKU], need{clinic: clinic.ID, qty: needed})
				}
			}

			daysToExpiry := decimal.NewFromInt(daysBetween(today, item.ExpiryDate))
			isOverstock := doi.GreaterThan(threshold)
			willExpireUnused := doi.GreaterThan(daysToExpiry)
			if !isOverstock && !willExpireUnused {
				continue
			}

			var keep int64
			priority := PriorityStandardRebalance
			if willExpireUnused {
				keep = daysToExpiry.Mul(item.DailyBurnRate).IntPart()
				priority = PriorityUrgentExpiry
			} else {
				keep = threshold.Mul(item.DailyBurnRate).IntPart()
			}

			if surplus := item.CurrentStock - keep; surplus > 0 {
				surpluses[item.SKU] = append(surpluses[item.SKU], &offer{
					clinic:   clinic.ID,
					batchID:  item.BatchID,
					qty:      surplus,
					priority: priority,
				})
			}
		}
	}

	var orders []TransferOrder
	for _, sku := range skuOrder {
		available := surpluses[sku]
		if len(available) == 0 {
			continue
		}
		sort.SliceStable(available, func(i, j int) bool {
			return available[i].priority == PriorityUrgentExpiry && available[j].priority != PriorityUrgentExpiry
		})

		for _, n := range shortages[sku] {
			remaining := n.qty
			for _, src := range available {
				if remaining <= 0 {
					break
				}
				if src.qty <= 0 || src.clinic == n.clinic {
					continue
				}

				qty := min(remaining, src.qty)
				orders = append(orders, TransferOrder{
					ID:           uuid.NewString(),
					SourceClinic: src.clinic,
					DestClinic:   n.clinic,
					SKU:          sku,
					BatchID:      src.batchID,
					Qty:          qty,
					Priority:     src.priority,
				})
				remaining -= qty
				src.qty -= qty
			}
		}
	}
	return orders
}
