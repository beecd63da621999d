/*
Package guard implements Protocol-20k, the offline dispensing admission policy.

While a facility is offline it cannot ask the central system whether a patient
was already served elsewhere. The guard decides from local facts only:

  - A visitor (home municipality differs from the facility's) is blocked
    while offline. Serving them risks dispensing twice to the same person at
    two facilities.
  - A home-court patient whose record has not been reconciled with the
    central system for more than 72 hours gets an emergency buffer only
    (7 days of supply).
  - Everyone else is allowed without a cap.

Evaluate is pure: the same patient, settings and instant always give the same
result, and it never touches storage or the network.
*/
package guard

import (
	"fmt"
	"time"

	"github.com/yakap-link/dispensary/directory"
)

const (
	// StalenessWindow is how long a patient record may go without a central
	// sync before offline dispensing is capped. The boundary is exclusive.
	StalenessWindow = 72 * time.Hour

	// EmergencySupplyDays is the cap applied to stale home-court patients.
	EmergencySupplyDays = 7
)

// LocalSettings is the facility state relevant to the guard at evaluation time.
type LocalSettings struct {
	Municipality string `json:"municipality"`
	IsOnline     bool   `json:"is_online"`
}

// Branch identifies which rule produced a Result.
type Branch string

const (
	BranchVisitorOffline   Branch = "visitor_offline"
	BranchStaleSync        Branch = "stale_sync"
	BranchHomeCourtOffline Branch = "home_court_offline"
	BranchOnline           Branch = "online"
)

// Result is the guard's verdict.
//
// CapLimit is a days-of-supply limit; nil means uncapped. RequiresOverride is
// only ever true on a block where an override is the sole way forward.
type Result struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason"`
	CapLimit         *int   `json:"cap_limit"`
	RequiresOverride bool   `json:"requires_override,omitempty"`
	Branch           Branch `json:"branch"`
}

// Capped reports whether a days-of-supply cap applies.
func (r Result) Capped() bool {
	return r.CapLimit != nil
}

// Evaluate applies Protocol-20k to a patient.
func Evaluate(patient directory.Patient, settings LocalSettings, now time.Time) Result {
	isVisitor := patient.Municipality != settings.Municipality
	isOffline := !settings.IsOnline

	if isVisitor && isOffline {
		return Result{
			Allowed: false,
			Reason: fmt.Sprintf(
				"Protocol-20k Violation: Cannot dispense to visitor (%s) while offline. Risk of double-dipping.",
				patient.Municipality),
			CapLimit:         intPtr(0),
			RequiresOverride: true,
			Branch:           BranchVisitorOffline,
		}
	}

	if isOffline && patient.LastSyncDate != nil && now.Sub(*patient.LastSyncDate) > StalenessWindow {
		return Result{
			Allowed: true,
			Reason: fmt.Sprintf(
				"Offline > 72h. Emergency Buffer Only (%d days). Facility assumes liability for excess.",
				EmergencySupplyDays),
			CapLimit: intPtr(EmergencySupplyDays),
			Branch:   BranchStaleSync,
		}
	}

	if isOffline {
		return Result{
			Allowed: true,
			Reason:  "Offline Mode: Home Court verified. Proceed with caution.",
			Branch:  BranchHomeCourtOffline,
		}
	}
	return Result{
		Allowed: true,
		Reason:  "Online: Eligibility verified via central server.",
		Branch:  BranchOnline,
	}
}

func intPtr(v int) *int { return &v }
