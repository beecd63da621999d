/*
handlers.go - HTTP API handlers for the facility dispensary

PURPOSE:
  Exposes the stock ledger and the dispensing guard to the facility UI.
  Handles HTTP request/response and JSON serialization, and delegates to
  dispensary.Service.

ENDPOINTS:
  Catalog & patients:
    GET    /api/skus                        Stocked medicines
    GET    /api/patients                    Patient directory
    GET    /api/patients/{id}               One patient
    GET    /api/patients/{id}/eligibility   Dry-run guard evaluation

  Connectivity:
    GET    /api/connectivity                Facility settings right now
    PUT    /api/connectivity                Flip the manual toggle

  Movements:
    POST   /api/dispense                    Guarded dispense to a patient
    POST   /api/receive                     Stock received
    POST   /api/adjust                      Stock correction

  Stock:
    GET    /api/stock/{sku}                 Current snapshot
    GET    /api/stock/{sku}/stream          Server-sent events, one per change

  Planning:
    POST   /api/balancer/plan               Inter-facility transfer plan

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, validation errors (with the rule in "code")
  - 403: Dispense blocked by Protocol-20k (guard verdict in the body)
  - 404: Unknown patient
  - 503: The durable store failed
  - 500: Anything else

SECURITY NOTE:
  No authentication. The override path for blocked dispenses is not
  exposed here.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/yakap-link/dispensary/balancer"
	"github.com/yakap-link/dispensary/directory"
	"github.com/yakap-link/dispensary/dispensary"
	"github.com/yakap-link/dispensary/facility"
	"github.com/yakap-link/dispensary/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *dispensary.Service
	Directory directory.Directory
	Facility  facility.Facility

	// Toggle is the manual connectivity switch; nil when connectivity is
	// not operator-controlled.
	Toggle *facility.Toggle

	// HealthCheck reports whether the durable store is reachable.
	HealthCheck func(ctx context.Context) error

	log      zerolog.Logger
	validate *validator.Validate
	clock    func() time.Time
}

// NewHandler creates a handler. When the facility's connectivity signal is a
// *facility.Toggle it can be flipped through PUT /api/connectivity.
func NewHandler(svc *dispensary.Service, dir directory.Directory, fac facility.Facility, log zerolog.Logger) *Handler {
	h := &Handler{
		Service:   svc,
		Directory: dir,
		Facility:  fac,
		log:       log.With().Str("component", "api").Logger(),
		validate:  validator.New(),
		clock:     time.Now,
	}
	if tg, ok := fac.Connectivity.(*facility.Toggle); ok {
		h.Toggle = tg
	}
	return h
}

// WithClock overrides "today" for the balancer.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

// =============================================================================
// CATALOG & PATIENTS
// =============================================================================

// ListSKUs returns the catalog.
func (h *Handler) ListSKUs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dispensary.Catalog)
}

// ListPatients returns the whole directory.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.Directory.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list patients", err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

// GetPatient returns a single patient.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.Directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetEligibility evaluates the guard for a patient without dispensing.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	p, err := h.Directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	settings := h.Facility.Settings()
	writeJSON(w, http.StatusOK, EligibilityDTO{
		Patient:  p,
		Settings: settings,
		Guard:    h.Service.CheckEligibility(p, settings),
	})
}

// =============================================================================
// CONNECTIVITY
// =============================================================================

func (h *Handler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectivityDTO())
}

// SetConnectivity flips the manual toggle.
func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	if h.Toggle == nil {
		writeError(w, http.StatusConflict, "Connectivity is not operator-controlled", nil)
		return
	}

	var req SetConnectivityRequest
	if !h.decode(w, r, &req) {
		return
	}

	if h.Toggle.Set(*req.Online) {
		h.log.Info().Bool("online", *req.Online).Msg("connectivity set by operator")
	}
	writeJSON(w, http.StatusOK, h.connectivityDTO())
}

func (h *Handler) connectivityDTO() ConnectivityDTO {
	s := h.Facility.Settings()
	return ConnectivityDTO{
		Municipality: s.Municipality,
		Online:       s.IsOnline,
		Manual:       h.Toggle != nil,
	}
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// Dispense runs a guarded dispense for a patient from the directory.
func (h *Handler) Dispense(w http.ResponseWriter, r *http.Request) {
	var req DispenseRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	patient, err := h.Directory.Get(ctx, req.PatientID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out, err := h.Service.SubmitDispensing(ctx, patient, ledger.SKU(req.SKU), *req.Qty, req.BatchID, h.Facility.Settings())
	resp := DispenseResponse{Guard: out.Guard, Transaction: out.Transaction}

	var verr *ledger.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, resp)
	case errors.Is(err, dispensary.ErrPolicyBlock):
		resp.Error = out.Guard.Reason
		writeJSON(w, http.StatusForbidden, resp)
	case errors.As(err, &verr):
		resp.Error = verr.Message
		resp.Code = verr.Code()
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		h.writeDomainError(w, err)
	}
}

// Receive records incoming stock.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Service.SubmitReceive)
}

// Adjust records a stock correction.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Service.SubmitAdjust)
}

type submitFunc func(ctx context.Context, sku ledger.SKU, qty float64, batchID string) (ledger.Transaction, error)

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, submit submitFunc) {
	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := submit(r.Context(), ledger.SKU(req.SKU), *req.Qty, req.BatchID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// =============================================================================
// STOCK
// =============================================================================

// GetStock returns the current snapshot, newest transactions first.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	sku := ledger.SKU(chi.URLParam(r, "sku"))

	snap, err := h.Service.Stock(r.Context(), sku)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockDTO(snap))
}

// StreamStock sends a "stock" event with the full snapshot on connect and
// after every append to the SKU, until the client goes away.
func (h *Handler) StreamStock(w http.ResponseWriter, r *http.Request) {
	sku := ledger.SKU(chi.URLParam(r, "sku"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	feed, err := h.Service.ObserveStock(ctx, sku)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	defer feed.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-feed.Snapshots():
			if !ok {
				return
			}
			if u.Err != nil {
				h.log.Error().Err(u.Err).Str("sku", string(sku)).Msg("stock refresh failed")
				writeEvent(w, "error", ErrorResponse{Error: "Stock refresh failed", Details: u.Err.Error()})
			} else {
				writeEvent(w, "stock", stockDTO(u.StockSnapshot))
			}
			flusher.Flush()
		}
	}
}

func stockDTO(snap ledger.StockSnapshot) StockDTO {
	dto := StockDTO{StockSnapshot: snap}
	if it, ok := dispensary.LookupItem(snap.SKU); ok {
		dto.Label = it.Label
	}
	return dto
}

// =============================================================================
// BALANCER
// =============================================================================

// PlanTransfers runs the rebalancing planner over the posted inventories.
func (h *Handler) PlanTransfers(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	today := h.clock().UTC()
	if req.Today != "" {
		t, err := time.Parse(dateLayout, req.Today)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date: %s", req.Today), err)
			return
		}
		today = t
	}

	clinics := make([]balancer.Clinic, len(req.Clinics))
	for i, c := range req.Clinics {
		clinics[i] = balancer.Clinic{ID: c.ID, Name: c.Name}
		for _, it := range c.Inventory {
			expiry, err := time.Parse(dateLayout, it.ExpiryDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date: %s", it.ExpiryDate), err)
				return
			}
			clinics[i].Inventory = append(clinics[i].Inventory, balancer.InventoryItem{
				SKU:           it.SKU,
				BatchID:       it.BatchID,
				CurrentStock:  it.CurrentStock,
				ExpiryDate:    expiry,
				DailyBurnRate: it.DailyBurnRate,
			})
		}
	}

	orders := balancer.DetectImbalances(clinics, today)
	if orders == nil {
		orders = []balancer.TransferOrder{}
	}
	writeJSON(w, http.StatusOK, PlanResponse{Today: today.Format(dateLayout), Orders: orders})
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.HealthCheck != nil {
		if err := h.HealthCheck(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		resp := ErrorResponse{Error: "Invalid request", Details: err.Error()}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			resp.Fields = make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				resp.Fields[fe.Namespace()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// writeDomainError maps service errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Message, Code: verr.Code()})
	case errors.Is(err, directory.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "Patient not found", err)
	case ledger.IsStorageFailure(err):
		h.log.Error().Err(err).Msg("storage failure")
		writeError(w, http.StatusServiceUnavailable, "Ledger storage unavailable", err)
	default:
		h.log.Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
