package upload

import (
	"github.com/hyp3rd/ewrap"
)

// Common errors for the upload package.
var (
	// ErrInvalidServerURL is returned when the configured server URL is not a
	// usable http or https URL.
	ErrInvalidServerURL = ewrap.New("server URL must be a valid http(s) URL")

	// ErrServerRejected is returned when the server answers with a
	// non-success status code.
	ErrServerRejected = ewrap.New("server rejected payload")
)
