/*
Package dispensary is the caller-facing surface of the stock core.

A dispensing request runs through three gates in order:

	guard.Evaluate      may the patient be served at all right now?
	Validator.Validate  is the quantity and batch well formed?
	Ledger.Append       record it durably and notify subscribers

Receipts and adjustments skip the guard. Any stage that says no stops the
request; nothing is written unless every stage agreed.
*/
package dispensary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yakap-link/dispensary/directory"
	"github.com/yakap-link/dispensary/guard"
	"github.com/yakap-link/dispensary/ledger"
)

var ErrPolicyBlock = errors.New("dispensing blocked by policy")

// PolicyBlockError carries the guard verdict that refused a dispense.
type PolicyBlockError struct {
	Result guard.Result
}

func (e *PolicyBlockError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPolicyBlock, e.Result.Reason)
}

func (e *PolicyBlockError) Unwrap() error {
	return ErrPolicyBlock
}

// Dispensation is the outcome of SubmitDispensing. Transaction is nil unless
// the movement was recorded.
type Dispensation struct {
	Guard       guard.Result        `json:"guard"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	ledger    *ledger.Ledger
	projector *ledger.Projector
	validator ledger.Validator
	clock     func() time.Time
	log       zerolog.Logger
}

func NewService(l *ledger.Ledger, v ledger.Validator) *Service {
	return &Service{
		ledger:    l,
		projector: ledger.NewProjector(l),
		validator: v,
		clock:     time.Now,
		log:       zerolog.Nop(),
	}
}

// WithClock overrides the guard's evaluation time source for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) WithLogger(log zerolog.Logger) *Service {
	s.log = log.With().Str("component", "dispensary").Logger()
	return s
}

// CheckEligibility evaluates the guard without recording anything.
func (s *Service) CheckEligibility(patient directory.Patient, settings guard.LocalSettings) guard.Result {
	return guard.Evaluate(patient, settings, s.clock())
}

// SubmitDispensing dispenses qty units of sku to patient.
//
// A guard block returns the verdict together with a *PolicyBlockError.
// A validation failure returns the verdict and a *ledger.ValidationError.
// A cap_limit on an allowed verdict is advisory: the dispense is recorded and
// the cap is reported back to the caller.
func (s *Service) SubmitDispensing(
	ctx context.Context,
	patient directory.Patient,
	sku ledger.SKU,
	qty float64,
	batchID string,
	settings guard.LocalSettings,
) (Dispensation, error) {
	result := s.CheckEligibility(patient, settings)
	out := Dispensation{Guard: result}

	if !result.Allowed {
		s.log.Warn().
			Str("patient", patient.ID).
			Str("sku", string(sku)).
			Str("branch", string(result.Branch)).
			Msg("dispense blocked")
		return out, &PolicyBlockError{Result: result}
	}

	if err := s.validator.Validate(qty, batchID); err != nil {
		return out, err
	}

	if result.Capped() {
		s.log.Warn().
			Str("patient", patient.ID).
			Str("sku", string(sku)).
			Int("cap_days", *result.CapLimit).
			Float64("qty", qty).
			Msg("dispensing under staleness cap")
	}

	tx, err := s.ledger.Append(ctx, sku, ledger.TxDispense, int64(qty), batchID)
	if err != nil {
		return out, err
	}
	out.Transaction = &tx
	return out, nil
}

// SubmitReceive records incoming stock. A negative qty is stored positive.
func (s *Service) SubmitReceive(ctx context.Context, sku ledger.SKU, qty float64, batchID string) (ledger.Transaction, error) {
	return s.submit(ctx, sku, ledger.TxReceive, qty, batchID)
}

// SubmitAdjust records a correction with the sign as given.
func (s *Service) SubmitAdjust(ctx context.Context, sku ledger.SKU, qty float64, batchID string) (ledger.Transaction, error) {
	return s.submit(ctx, sku, ledger.TxAdjust, qty, batchID)
}

func (s *Service) submit(ctx context.Context, sku ledger.SKU, txType ledger.TransactionType, qty float64, batchID string) (ledger.Transaction, error) {
	if err := s.validator.Validate(qty, batchID); err != nil {
		return ledger.Transaction{}, err
	}
	return s.ledger.Append(ctx, sku, txType, int64(qty), batchID)
}

// ObserveStock opens a live stock feed. The first snapshot is the current
// state; each later one follows an append to sku.
func (s *Service) ObserveStock(ctx context.Context, sku ledger.SKU) (*ledger.StockFeed, error) {
	return s.projector.Observe(ctx, sku)
}

// Stock returns the current snapshot by full replay.
func (s *Service) Stock(ctx context.Context, sku ledger.SKU) (ledger.StockSnapshot, error) {
	return s.projector.Rebuild(ctx, sku)
}
