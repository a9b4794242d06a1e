// Package constants provides fixed values shared across the relay system:
// default intervals, file modes and naming conventions for fallback records.
// Centralizing them keeps the relay, the fallback store and the configuration
// loader consistent.
package constants

import (
	"os"
	"time"
)

const (
	// DefaultUploadTimeout bounds a single upload attempt.
	DefaultUploadTimeout = 10 * time.Second
	// DefaultFlushInterval is the background fallback flusher period used
	// when flushing is enabled without an explicit interval.
	DefaultFlushInterval = 30 * time.Second
	// EnvPrefix is the environment variable prefix for configuration keys.
	EnvPrefix = "RELAYKIT"
)

const (
	// RecordExt is the file extension of a fallback record.
	RecordExt = ".bin"
	// RecordTmpExt marks a record that is still being written. Scans ignore
	// these so a power cut never exposes a half-written record.
	RecordTmpExt = ".tmp"
	// RecordSkipExt marks a record quarantined after a read failure.
	RecordSkipExt = ".skip"
	// RecordFileMode is the permission set for fallback record files.
	RecordFileMode os.FileMode = 0o600
	// FallbackDirMode is the permission set when creating the fallback directory.
	FallbackDirMode os.FileMode = 0o700
)
