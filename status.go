package relaykit

// Status is the outcome of one unit of relay work. It is the signal the
// driving loop keys its retry and backoff decisions on.
type Status int

const (
	// StatusOK means the unit of work completed: a payload was delivered or
	// there was nothing to do.
	StatusOK Status = 0

	// StatusError means a local failure: I/O on the fallback directory,
	// malformed state, or a closed relay. The caller should treat it as fatal
	// or retry after a generous backoff.
	StatusError Status = -1

	// StatusServerFault means the destination is at fault: it rejected the
	// payload or could not be reached. The payload has been preserved; the
	// condition is expected to be transient, so the caller may keep looping.
	StatusServerFault Status = -2
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusServerFault:
		return "server fault"
	default:
		return "unknown"
	}
}
