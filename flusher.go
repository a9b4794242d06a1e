package relaykit

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"

	"github.com/hyp3rd/relaykit/internal/fallback"
)

// flusherState holds the lifecycle of the background fallback flusher.
type flusherState struct {
	active atomic.Bool
	stop   context.CancelFunc
	done   chan struct{}
}

// startFlusher launches the background goroutine that drains the fallback
// backlog on a fixed period, independently of the Process loop. While the
// flusher is active, Process leaves the backlog alone so a record is never
// delivered twice; the store's mutex covers the directory operations
// themselves.
func (r *Relay) startFlusher() {
	ctx, cancel := context.WithCancel(context.Background())

	r.flusher.stop = cancel
	r.flusher.done = make(chan struct{})
	r.flusher.active.Store(true)

	go r.runFlusher(ctx)
}

// runFlusher ticks on the configured interval and drains the backlog on each
// tick until the relay closes.
func (r *Relay) runFlusher(ctx context.Context) {
	defer close(r.flusher.done)
	defer r.flusher.active.Store(false)

	ticker := r.cfg.Clock.Ticker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainBacklog(ctx)
		}
	}
}

// drainBacklog replays fallback records oldest first until the backlog is
// clear or deliveries keep failing. Failed attempts back off exponentially,
// bounded so one drain pass cannot outlast the flush interval.
func (r *Relay) drainBacklog(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = r.cfg.FlushInterval

	for ctx.Err() == nil {
		rec, err := r.store.Oldest()
		if err != nil {
			if !errors.Is(err, fallback.ErrEmpty) {
				r.log.WithError(err).Error("flusher failed to scan fallback backlog")
			}

			return
		}

		status, err := r.deliverRecord(ctx, rec)
		if status == StatusOK {
			policy.Reset()

			continue
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return
		}

		r.log.WithError(err).WithField("wait", wait.String()).
			Debug("flusher delivery failed, backing off")

		select {
		case <-ctx.Done():
			return
		case <-r.cfg.Clock.After(wait):
		}
	}
}
