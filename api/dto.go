/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Movements:
    DispenseRequest, MovementRequest, DispenseResponse

  Stock:
    StockDTO

  Patients:
    EligibilityDTO

  Connectivity:
    ConnectivityDTO, SetConnectivityRequest

  Balancer:
    PlanRequest, ClinicDTO, InventoryItemDTO, PlanResponse

VALIDATION:
  Request types carry go-playground/validator tags for shape (required
  fields, date formats). Quantity and batch rules belong to the ledger
  Validator and are not duplicated here.
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/yakap-link/dispensary/balancer"
	"github.com/yakap-link/dispensary/directory"
	"github.com/yakap-link/dispensary/guard"
	"github.com/yakap-link/dispensary/ledger"
)

// =============================================================================
// MOVEMENTS
// =============================================================================

// DispenseRequest dispenses to a patient. Qty is a pointer so that an
// explicit 0 reaches the ledger validator instead of failing as missing.
type DispenseRequest struct {
	PatientID string   `json:"patient_id" validate:"required"`
	SKU       string   `json:"sku" validate:"required"`
	Qty       *float64 `json:"qty" validate:"required"`
	BatchID   string   `json:"batch_id"`
}

// MovementRequest is a receipt or an adjustment.
type MovementRequest struct {
	SKU     string   `json:"sku" validate:"required"`
	Qty     *float64 `json:"qty" validate:"required"`
	BatchID string   `json:"batch_id"`
}

// DispenseResponse is returned for every dispense that reached the guard.
type DispenseResponse struct {
	Guard       guard.Result        `json:"guard"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Error       string              `json:"error,omitempty"`
	Code        string              `json:"code,omitempty"`
}

// =============================================================================
// STOCK & PATIENTS
// =============================================================================

// StockDTO is a stock snapshot with its catalog label.
type StockDTO struct {
	ledger.StockSnapshot
	Label string `json:"label,omitempty"`
}

// EligibilityDTO is a dry-run guard evaluation.
type EligibilityDTO struct {
	Patient  directory.Patient   `json:"patient"`
	Settings guard.LocalSettings `json:"settings"`
	Guard    guard.Result        `json:"guard"`
}

// =============================================================================
// CONNECTIVITY
// =============================================================================

type ConnectivityDTO struct {
	Municipality string `json:"municipality"`
	Online       bool   `json:"online"`
	Manual       bool   `json:"manual"`
}

type SetConnectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

// =============================================================================
// BALANCER
// =============================================================================

type PlanRequest struct {
	Today   string      `json:"today" validate:"omitempty,datetime=2006-01-02"`
	Clinics []ClinicDTO `json:"clinics" validate:"required,min=1,dive"`
}

type ClinicDTO struct {
	ID        string             `json:"id" validate:"required"`
	Name      string             `json:"name"`
	Inventory []InventoryItemDTO `json:"inventory" validate:"dive"`
}

type InventoryItemDTO struct {
	SKU           string          `json:"sku" validate:"required"`
	BatchID       string          `json:"batch_id"`
	CurrentStock  int64           `json:"current_stock" validate:"gte=0"`
	ExpiryDate    string          `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	DailyBurnRate decimal.Decimal `json:"daily_burn_rate"`
}

type PlanResponse struct {
	Today  string                   `json:"today"`
	Orders []balancer.TransferOrder `json:"orders"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
