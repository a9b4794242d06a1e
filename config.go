package relaykit

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hyp3rd/hyperlogger"

	"github.com/hyp3rd/relaykit/internal/constants"
	"github.com/hyp3rd/relaykit/upload"
)

const (
	// DefaultUploadTimeout bounds a single upload attempt when no timeout is
	// configured.
	DefaultUploadTimeout = constants.DefaultUploadTimeout
	// DefaultFlushInterval is the fallback flusher period applied when the
	// flusher is enabled without an explicit interval.
	DefaultFlushInterval = constants.DefaultFlushInterval
)

// Config holds configuration for the relay.
type Config struct {
	// ServerURL is the destination for drained payloads. Required unless an
	// Uploader is injected.
	ServerURL string
	// FallbackDir is the durable directory undelivered payloads fall back to.
	// Required.
	FallbackDir string
	// UploadTimeout bounds a single upload attempt. Defaults to
	// DefaultUploadTimeout.
	UploadTimeout time.Duration
	// EnableFlusher starts a background goroutine that drains the fallback
	// backlog independently of the Process loop.
	EnableFlusher bool
	// FlushInterval is the flusher period. Defaults to DefaultFlushInterval
	// when the flusher is enabled.
	FlushInterval time.Duration
	// Verbose enables diagnostic logging when no Logger is supplied.
	Verbose bool
	// Logger receives relay diagnostics. Defaults to a console logger when
	// Verbose is set, a noop logger otherwise.
	Logger hyperlogger.Logger
	// Uploader overrides the HTTP upload client. When set, ServerURL and
	// UploadTimeout are ignored.
	Uploader upload.Uploader
	// Clock supplies time for fallback record stamps and the flusher ticker.
	// Defaults to the wall clock; tests substitute a mock.
	Clock clock.Clock
}

// DefaultConfig returns a config with all defaults applied. ServerURL and
// FallbackDir still have to be set by the caller.
func DefaultConfig() Config {
	return Config{
		UploadTimeout: DefaultUploadTimeout,
		FlushInterval: DefaultFlushInterval,
	}
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}

	if c.Clock == nil {
		c.Clock = clock.New()
	}
}
