package dispensary

import "github.com/yakap-link/dispensary/ledger"

// Item is a stocked medicine.
type Item struct {
	SKU   ledger.SKU `json:"sku"`
	Label string     `json:"label"`
}

// Catalog lists the medicines the facility UI offers. The ledger itself
// accepts any non-empty SKU.
var Catalog = []Item{
	{SKU: "MED-AMOX-500", Label: "Amoxicillin 500mg"},
	{SKU: "MED-PARA-500", Label: "Paracetamol 500mg"},
	{SKU: "MED-DOXY-100", Label: "Doxycycline 100mg"},
}

// LookupItem returns the catalog entry for sku.
func LookupItem(sku ledger.SKU) (Item, bool) {
	for _, it := range Catalog {
		if it.SKU == sku {
			return it, true
		}
	}
	return Item{}, false
}
