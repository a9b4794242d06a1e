package doublebuf

import (
	"github.com/hyp3rd/ewrap"
)

// Common errors for the doublebuf package.
var (
	// ErrInvalidCapacity is returned when a buffer is created with a
	// non-positive slot capacity.
	ErrInvalidCapacity = ewrap.New("slot capacity must be positive")

	// ErrSlotOverflow is returned when an append does not fit in the slot's
	// remaining region.
	ErrSlotOverflow = ewrap.New("write exceeds slot capacity")

	// ErrSlotNotFull is returned when a partially written slot is published.
	ErrSlotNotFull = ewrap.New("slot is not fully written")
)
