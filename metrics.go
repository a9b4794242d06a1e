package relaykit

import (
	"sync/atomic"
)

// relayCounters tracks relay activity. Counters are atomic so Process, the
// background flusher and Metrics readers never contend on a lock.
type relayCounters struct {
	delivered      atomic.Uint64
	persisted      atomic.Uint64
	replayed       atomic.Uint64
	quarantined    atomic.Uint64
	uploadFailures atomic.Uint64
	idleTicks      atomic.Uint64
}

// Metrics is a snapshot of the relay's activity counters.
type Metrics struct {
	// Delivered counts buffer slots uploaded on first attempt.
	Delivered uint64
	// Persisted counts slot payloads written to the fallback store after a
	// failed upload.
	Persisted uint64
	// Replayed counts fallback records delivered and deleted.
	Replayed uint64
	// Quarantined counts unreadable fallback records set aside.
	Quarantined uint64
	// UploadFailures counts failed upload attempts, both slots and records.
	UploadFailures uint64
	// IdleTicks counts Process calls that found no pending work.
	IdleTicks uint64
}

// Metrics returns a snapshot of the current counters.
func (r *Relay) Metrics() Metrics {
	return Metrics{
		Delivered:      r.metrics.delivered.Load(),
		Persisted:      r.metrics.persisted.Load(),
		Replayed:       r.metrics.replayed.Load(),
		Quarantined:    r.metrics.quarantined.Load(),
		UploadFailures: r.metrics.uploadFailures.Load(),
		IdleTicks:      r.metrics.idleTicks.Load(),
	}
}
