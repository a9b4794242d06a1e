// Package relaykit moves sensor data from a constrained device to a collection
// server on the same local network.
//
// Data is handed off through a fixed-capacity double buffer (package
// doublebuf) shared with an external producer. The relay drains full buffer
// slots and uploads their payloads over HTTP (package upload). When the server
// cannot accept data, payloads are persisted to a durable fallback directory
// and re-delivered later, oldest first, so no payload is ever lost across
// network loss, server error or power loss.
//
// The relay performs one unit of work per Process call: drain one full slot,
// replay one fallback record, or nothing. The driving loop owns pacing:
//
//	relay, err := relaykit.New(buf, cfg)
//	if err != nil {
//		return err
//	}
//	defer relay.Close()
//
//	for {
//		status, err := relay.Process(ctx)
//		if status == relaykit.StatusError {
//			return err
//		}
//		// back off on StatusServerFault, keep going on StatusOK
//	}
//
// Memory-resident work always takes priority over fallback backlog: buffer
// slots are the bounded resource the producer depends on, so freeing one
// unblocks the producer immediately, while fallback files carry no
// producer-side pressure. A failed delivery still frees the slot by first
// persisting its bytes; the producer is never blocked merely because the
// network is down. Only when persistence itself fails does the relay keep the
// slot full, accepting producer backpressure over data loss.
package relaykit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperlogger"
	"github.com/hyp3rd/hyperlogger/pkg/adapter"

	"github.com/hyp3rd/relaykit/doublebuf"
	"github.com/hyp3rd/relaykit/internal/fallback"
	"github.com/hyp3rd/relaykit/upload"
)

// Relay drains the shared double buffer and the fallback backlog to the
// collection server. Create it with New, drive it with Process, release it
// with Close. The relay references the shared buffer but does not own it.
type Relay struct {
	buf      *doublebuf.Buffer
	uploader upload.Uploader
	store    *fallback.Store
	log      hyperlogger.Logger
	cfg      Config

	metrics relayCounters
	flusher flusherState

	closeMu sync.Mutex
	closed  atomic.Bool
}

// New validates the configuration, constructs the upload client and the
// fallback store, and returns a ready relay. On failure nothing is leaked:
// any partially constructed state is released before returning.
//
// When the flusher is enabled it starts immediately and runs until Close.
func New(buf *doublebuf.Buffer, cfg Config) (*Relay, error) {
	if buf == nil {
		return nil, ErrNilBuffer
	}

	cfg.normalize()

	log, err := buildLogger(cfg)
	if err != nil {
		return nil, ewrap.Wrap(err, "building relay logger")
	}

	uploader := cfg.Uploader
	if uploader == nil {
		uploader, err = upload.NewHTTPUploader(cfg.ServerURL, cfg.UploadTimeout)
		if err != nil {
			return nil, ewrap.Wrap(err, "constructing upload client")
		}
	}

	store, err := fallback.New(cfg.FallbackDir, cfg.Clock, log)
	if err != nil {
		releaseUploader(uploader)

		return nil, ewrap.Wrap(err, "opening fallback store")
	}

	relay := &Relay{
		buf:      buf,
		uploader: uploader,
		store:    store,
		log:      log,
		cfg:      cfg,
	}

	if cfg.EnableFlusher {
		relay.startFlusher()
	}

	log.WithFields(
		hyperlogger.Field{Key: "server_url", Value: cfg.ServerURL},
		hyperlogger.Field{Key: "fallback_dir", Value: cfg.FallbackDir},
		hyperlogger.Field{Key: "flusher", Value: cfg.EnableFlusher},
	).Info("relay initialized")

	return relay, nil
}

// Process performs one unit of work: it drains one full buffer slot, or —
// when no memory-resident work is pending and no background flusher owns the
// backlog — replays the oldest fallback record, or does nothing. The returned
// status is sufficient for the caller's retry and backoff logic; the error
// carries diagnostic detail for non-OK statuses.
func (r *Relay) Process(ctx context.Context) (Status, error) {
	if r.closed.Load() {
		return StatusError, ErrRelayClosed
	}

	if slot := r.buf.TryClaimForRead(); slot != nil {
		return r.deliverSlot(ctx, slot)
	}

	// The flusher owns the backlog while it runs; replaying here too could
	// deliver the same record twice.
	if r.flusher.active.Load() {
		r.metrics.idleTicks.Add(1)

		return StatusOK, nil
	}

	rec, err := r.store.Oldest()
	if err != nil {
		if errors.Is(err, fallback.ErrEmpty) {
			r.metrics.idleTicks.Add(1)

			return StatusOK, nil
		}

		return StatusError, ewrap.Wrap(err, "scanning fallback backlog")
	}

	return r.deliverRecord(ctx, rec)
}

// Close stops the background flusher if one is running and releases the
// resources the relay owns: the upload client and the fallback store handle.
// It never touches the shared buffer, which belongs to the producer side.
func (r *Relay) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()

	if r.closed.Load() {
		return ErrRelayClosed
	}

	r.closed.Store(true)

	if r.flusher.stop != nil {
		r.flusher.stop()
		<-r.flusher.done
	}

	releaseUploader(r.uploader)

	r.log.Info("relay closed")

	return nil
}

// deliverSlot uploads one full buffer slot and applies the fallback policy.
func (r *Relay) deliverSlot(ctx context.Context, slot *doublebuf.Slot) (Status, error) {
	payload := slot.Bytes()
	if len(payload) != slot.Capacity() {
		return StatusError, ewrap.Wrapf(ErrCorruptSlot, "validating claimed slot").
			WithMetadata("slot", slot.Index()).
			WithMetadata("size", len(payload)).
			WithMetadata("capacity", slot.Capacity())
	}

	name := fmt.Sprintf("slot-%d.bin", slot.Index())

	result, upErr := r.uploader.Upload(ctx, name, payload)
	if result == upload.Success {
		slot.MarkEmpty()
		r.metrics.delivered.Add(1)

		r.log.WithField("slot", slot.Index()).Debug("slot delivered")

		return StatusOK, nil
	}

	r.metrics.uploadFailures.Add(1)

	r.log.WithFields(
		hyperlogger.Field{Key: "slot", Value: slot.Index()},
		hyperlogger.Field{Key: "result", Value: result.String()},
	).WithError(upErr).Warn("slot upload failed, persisting to fallback")

	recName, err := r.store.Write(payload)
	if err != nil {
		// The slot stays full: producer backpressure beats data loss.
		return StatusError, ewrap.Wrap(err, "persisting undelivered slot payload").
			WithMetadata("slot", slot.Index())
	}

	slot.MarkEmpty()
	r.metrics.persisted.Add(1)

	r.log.WithFields(
		hyperlogger.Field{Key: "slot", Value: slot.Index()},
		hyperlogger.Field{Key: "record", Value: recName},
	).Debug("slot payload persisted to fallback")

	return StatusServerFault, upErr
}

// deliverRecord replays one fallback record. The record is deleted only after
// the server confirms receipt; on upload failure it stays in place, still
// queued for the next attempt.
func (r *Relay) deliverRecord(ctx context.Context, rec *fallback.Record) (Status, error) {
	payload, err := rec.Bytes()
	if err != nil {
		// Unreadable content would clog the oldest-first backlog forever.
		// Quarantine preserves the bytes for inspection and unblocks the scan.
		r.log.WithField("record", rec.Name()).WithError(err).Error("fallback record unreadable")

		qErr := r.store.Quarantine(rec)
		if qErr != nil {
			return StatusError, ewrap.Wrap(qErr, "quarantining unreadable record").
				WithMetadata("record", rec.Name())
		}

		r.metrics.quarantined.Add(1)

		return StatusError, ewrap.Wrap(err, "reading fallback record").
			WithMetadata("record", rec.Name())
	}

	result, upErr := r.uploader.Upload(ctx, rec.Name(), payload)
	if result == upload.Success {
		err = r.store.Remove(rec)
		if err != nil {
			// Delivered but not deleted: surface it, the next tick would
			// upload the record again.
			return StatusError, ewrap.Wrap(err, "removing delivered record").
				WithMetadata("record", rec.Name())
		}

		r.metrics.replayed.Add(1)

		r.log.WithField("record", rec.Name()).Debug("fallback record delivered")

		return StatusOK, nil
	}

	r.metrics.uploadFailures.Add(1)

	r.log.WithFields(
		hyperlogger.Field{Key: "record", Value: rec.Name()},
		hyperlogger.Field{Key: "result", Value: result.String()},
	).WithError(upErr).Warn("fallback record upload failed, left queued")

	return StatusServerFault, upErr
}

// buildLogger resolves the configured logger: the injected one, a console
// logger when verbose diagnostics are requested, a noop logger otherwise.
func buildLogger(cfg Config) (hyperlogger.Logger, error) {
	if cfg.Logger != nil {
		return cfg.Logger, nil
	}

	if !cfg.Verbose {
		return hyperlogger.NewNoop(), nil
	}

	log, err := adapter.NewAdapter(context.Background(), hyperlogger.Config{
		Output:      os.Stderr,
		Level:       hyperlogger.DebugLevel,
		EnableAsync: false,
	})
	if err != nil {
		return nil, ewrap.Wrap(err, "creating verbose logger")
	}

	return log, nil
}

// releaseUploader closes the uploader when it holds releasable resources.
func releaseUploader(uploader upload.Uploader) {
	if closer, ok := uploader.(io.Closer); ok {
		_ = closer.Close()
	}
}
