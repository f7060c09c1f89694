// Package state reads and writes the JSON files the scheduler uses to
// survive crashes: the crash dump, the recovery state file and the live
// target override.
package state

import "github.com/alanyoungcy/xarb/internal/domain"

// VenueState is the persisted session of one venue.
type VenueState struct {
	OfflineBalances  map[string]float64   `json:"offline_balances"`
	InitialBalances  map[string]float64   `json:"initial_balances"`
	Orders           []domain.OrderRecord `json:"orders,omitempty"`
	ToResubmitOrders []domain.OrderRecord `json:"to_resubmit_orders,omitempty"`
}

// Snapshot maps venue name to its persisted session.
type Snapshot map[string]VenueState

// CrashReport is the content of the crash file.
type CrashReport struct {
	Error string   `json:"error"`
	State Snapshot `json:"state"`
}
