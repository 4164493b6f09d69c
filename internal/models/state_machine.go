// Package models provides the position, trade record and lifecycle phases of a
// single-leg option backtest.
package models

import (
	"fmt"
)

// Phase is the lifecycle phase of an underlying's single position slot.
type Phase string

const (
	PhaseFlat    Phase = "flat"    // No position
	PhaseOpen    Phase = "open"    // Position live
	PhaseStopped Phase = "stopped" // Stop-loss fired, waiting for re-entry or expiry
)

// Transition conditions
const (
	CondInitialEntry = "initial_entry"
	CondOvernightSL  = "overnight_sl"
	CondIntradaySL   = "intraday_sl"
	CondReentry      = "reentry"
	CondExpiryClose  = "expiry_close"
	CondExpiryClear  = "expiry_clear"
)

// StateTransition defines a valid phase transition
type StateTransition struct {
	From        Phase
	To          Phase
	Condition   string
	Description string
}

// ValidTransitions lists every transition the simulator may take.
var ValidTransitions = []StateTransition{
	{PhaseFlat, PhaseOpen, CondInitialEntry, "Entered at target delta within the DTE threshold"},
	{PhaseOpen, PhaseStopped, CondOvernightSL, "Open gapped through the stop level"},
	{PhaseOpen, PhaseStopped, CondIntradaySL, "High touched the stop level"},
	{PhaseStopped, PhaseOpen, CondReentry, "Re-entered after a stop-loss"},
	{PhaseOpen, PhaseFlat, CondExpiryClose, "Closed at expiry"},
	{PhaseStopped, PhaseFlat, CondExpiryClear, "Cycle ended at expiry without re-entry"},
}

// ValidateTransition checks that from -> to under condition is in ValidTransitions.
func ValidateTransition(from, to Phase, condition string) error {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to && t.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'", from, to, condition)
}

// Describe returns a human-readable description of the phase.
func (p Phase) Describe() string {
	switch p {
	case PhaseFlat:
		return "No position, waiting for the entry window"
	case PhaseOpen:
		return "Position open, monitoring stop-loss and expiry"
	case PhaseStopped:
		return "Stopped out, waiting for re-entry or expiry"
	default:
		return "Unknown phase"
	}
}
