package fallback

import (
	"github.com/hyp3rd/ewrap"
)

// Common errors for the fallback package.
var (
	// ErrEmpty is returned by Oldest when no records are pending.
	ErrEmpty = ewrap.New("no fallback records pending")

	// ErrNoDirectory is returned when the store is created without a directory.
	ErrNoDirectory = ewrap.New("fallback directory is required")

	// ErrNilRecord is returned when a nil record is passed to the store.
	ErrNilRecord = ewrap.New("fallback record is nil")
)
