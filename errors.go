package relaykit

import (
	"github.com/hyp3rd/ewrap"
)

// Common errors for the relaykit package.
var (
	// ErrNilBuffer is returned when a relay is created without a shared buffer.
	ErrNilBuffer = ewrap.New("shared buffer is required")

	// ErrRelayClosed is returned when a closed relay is used.
	ErrRelayClosed = ewrap.New("relay is closed")

	// ErrCorruptSlot is returned when a claimed slot's published size does not
	// match its capacity. This indicates a protocol violation on the producer
	// side and is surfaced loudly rather than delivered.
	ErrCorruptSlot = ewrap.New("slot size does not match capacity")
)
