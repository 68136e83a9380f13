package reservation

import "errors"

// Error taxonomy for reservation operations. Callers match with errors.Is;
// the HTTP layer maps each sentinel onto a status code.
var (
	// ErrNotFound means the reservation id does not exist.
	ErrNotFound = errors.New("reservation not found")

	// ErrInvalidTransition means the requested state change violates the
	// lifecycle contract (e.g. confirming a cancelled reservation).
	ErrInvalidTransition = errors.New("invalid reservation state transition")

	// ErrSlotConflict means another non-cancelled reservation already
	// occupies the (date, start_time, field) slot.
	ErrSlotConflict = errors.New("slot already reserved")

	// ErrStoreUnavailable wraps storage I/O failures. Sweeps and
	// enforcement abort the current pass on it and retry next tick.
	ErrStoreUnavailable = errors.New("reservation store unavailable")
)
