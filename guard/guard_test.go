package guard_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yakap-link/dispensary/directory"
	"github.com/yakap-link/dispensary/guard"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	lubuagan = "Lubuagan"
	tabuk    = "Tabuk"
)

var now = time.Date(2023, 10, 25, 12, 0, 0, 0, time.UTC)

func patient(municipality string, syncedAgo ...time.Duration) directory.Patient {
	p := directory.Patient{ID: "p1", Name: "John Doe", Municipality: municipality}
	if len(syncedAgo) > 0 {
		last := now.Add(-syncedAgo[0])
		p.LastSyncDate = &last
	}
	return p
}

func settings(online bool) guard.LocalSettings {
	return guard.LocalSettings{Municipality: lubuagan, IsOnline: online}
}

// =============================================================================
// VISITORS
// =============================================================================

func TestEvaluate_VisitorOfflineIsBlocked(t *testing.T) {
	// GIVEN: A Tabuk patient at an offline Lubuagan facility
	// WHEN: Evaluating
	// THEN: Blocked, zero cap, override required, reason names the home municipality

	r := guard.Evaluate(patient(tabuk), settings(false), now)

	assert.False(t, r.Allowed)
	assert.Contains(t, r.Reason, "Protocol-20k Violation")
	assert.Contains(t, r.Reason, tabuk)
	assert.Contains(t, r.Reason, "double-dipping")
	require.NotNil(t, r.CapLimit)
	assert.Equal(t, 0, *r.CapLimit)
	assert.True(t, r.RequiresOverride)
	assert.Equal(t, guard.BranchVisitorOffline, r.Branch)
}

func TestEvaluate_VisitorBlockIgnoresSyncAge(t *testing.T) {
	r := guard.Evaluate(patient(tabuk, time.Hour), settings(false), now)
	assert.False(t, r.Allowed)

	r = guard.Evaluate(patient(tabuk, 500*time.Hour), settings(false), now)
	assert.False(t, r.Allowed)
	assert.Equal(t, guard.BranchVisitorOffline, r.Branch)
}

func TestEvaluate_VisitorOnlineIsAllowed(t *testing.T) {
	r := guard.Evaluate(patient(tabuk), settings(true), now)

	assert.True(t, r.Allowed)
	assert.Contains(t, r.Reason, "Online")
	assert.Nil(t, r.CapLimit)
	assert.False(t, r.RequiresOverride)
	assert.Equal(t, guard.BranchOnline, r.Branch)
}

// =============================================================================
// HOME COURT
// =============================================================================

func TestEvaluate_HomeCourtOfflineIsAllowed(t *testing.T) {
	r := guard.Evaluate(patient(lubuagan), settings(false), now)

	assert.True(t, r.Allowed)
	assert.Contains(t, r.Reason, "Offline Mode")
	assert.Nil(t, r.CapLimit)
	assert.False(t, r.RequiresOverride)
	assert.Equal(t, guard.BranchHomeCourtOffline, r.Branch)
}

func TestEvaluate_StalenessCap(t *testing.T) {
	tests := []struct {
		name      string
		syncedAgo time.Duration
		online    bool
		wantCap   *int
		wantText  string
		branch    guard.Branch
	}{
		{"offline 73h is capped", 73 * time.Hour, false, intPtr(7), "Offline > 72h", guard.BranchStaleSync},
		{"offline 71h is not capped", 71 * time.Hour, false, nil, "Offline Mode", guard.BranchHomeCourtOffline},
		{"offline exactly 72h is not capped", 72 * time.Hour, false, nil, "Offline Mode", guard.BranchHomeCourtOffline},
		{"offline 72h plus 1ms is capped", 72*time.Hour + time.Millisecond, false, intPtr(7), "Emergency Buffer", guard.BranchStaleSync},
		{"online 100h is not capped", 100 * time.Hour, true, nil, "Online", guard.BranchOnline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := guard.Evaluate(patient(lubuagan, tt.syncedAgo), settings(tt.online), now)

			assert.True(t, r.Allowed)
			assert.Equal(t, tt.wantCap, r.CapLimit)
			assert.Contains(t, r.Reason, tt.wantText)
			assert.False(t, r.RequiresOverride)
			assert.Equal(t, tt.branch, r.Branch)
		})
	}
}

func TestEvaluate_NeverSyncedHomeCourtIsUncapped(t *testing.T) {
	r := guard.Evaluate(patient(lubuagan), settings(false), now)
	assert.True(t, r.Allowed)
	assert.False(t, r.Capped())
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	p := patient(lubuagan, 80*time.Hour)
	first := guard.Evaluate(p, settings(false), now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, guard.Evaluate(p, settings(false), now))
	}
}

func intPtr(v int) *int { return &v }
