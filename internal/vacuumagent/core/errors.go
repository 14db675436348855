package core

import "errors"

// Typed command failures exposed at the control-plane boundary. Handlers wrap
// them with context via fmt.Errorf("...: %w", ...); transports map them to
// response codes with errors.Is.
var (
	// ErrBadIndex rejects an out-of-range device index or malformed argument.
	ErrBadIndex = errors.New("device index out of range")

	// ErrWrongMode rejects an operation not permitted in the current
	// operation mode (e.g. manual actuation while in Auto).
	ErrWrongMode = errors.New("operation not allowed in current mode")

	// ErrBusy rejects an operation while the sequencer is in a state that
	// does not accept it (a running procedure, or a terminal state).
	ErrBusy = errors.New("sequencer busy")

	// ErrNoPermit rejects actuation lacking its interlock permit, and
	// sequence starts whose entry interlocks are not satisfied.
	ErrNoPermit = errors.New("interlock permit not satisfied")

	// ErrNotConnected rejects actuation while the PLC link is down.
	ErrNotConnected = errors.New("plc link down")
)
