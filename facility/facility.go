// Package facility describes where dispensing happens: the facility's home
// municipality and whether it can currently reach the central system.
package facility

import (
	"sync/atomic"

	"github.com/yakap-link/dispensary/guard"
)

// Connectivity is an instantaneous connectivity signal.
type Connectivity interface {
	IsOnline() bool
}

// Toggle is a Connectivity that is flipped explicitly, either by an operator
// or by a Prober.
type Toggle struct {
	online atomic.Bool
}

func NewToggle(online bool) *Toggle {
	t := &Toggle{}
	t.online.Store(online)
	return t
}

func (t *Toggle) IsOnline() bool { return t.online.Load() }

// Set records the new state and reports whether it changed.
func (t *Toggle) Set(online bool) bool {
	return t.online.Swap(online) != online
}

// Facility is the local dispensing site.
type Facility struct {
	Municipality string
	Connectivity Connectivity
}

// Settings snapshots the facility state for a guard evaluation.
// A facility without a connectivity signal is treated as offline.
func (f Facility) Settings() guard.LocalSettings {
	online := false
	if f.Connectivity != nil {
		online = f.Connectivity.IsOnline()
	}
	return guard.LocalSettings{
		Municipality: f.Municipality,
		IsOnline:     online,
	}
}
