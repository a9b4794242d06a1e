// Package fallback implements the durable store the relay falls back to when
// the collection server cannot accept data.
//
// The store is an append-only directory of record files on durable media, one
// record per undelivered payload. A record holds exactly the bytes of the
// payload, no header, so a replayed record travels through the same upload
// path as a live buffer slot. Records are delivered oldest first and deleted
// only after the server confirms receipt, which bounds worst-case staleness to
// the backlog size and guarantees nothing is dropped across power loss.
//
// All directory operations take the store's mutex. The lock covers the minimum
// span around list, create and delete; it is never held across a network call,
// so a background flusher and the main relay loop can share the directory.
package fallback

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperlogger"

	"github.com/hyp3rd/relaykit/internal/constants"
	"github.com/hyp3rd/relaykit/internal/utils"
)

// nameTimestampWidth is the zero-padded width of the timestamp prefix in a
// record name. Padding keeps lexical order equal to creation order.
const nameTimestampWidth = 20

// Record identifies one pending fallback file.
type Record struct {
	path string
	name string
	ts   int64
}

// Name returns the record's file name.
func (r *Record) Name() string {
	return r.name
}

// Path returns the record's absolute location.
func (r *Record) Path() string {
	return r.path
}

// Bytes reads the record's payload. The content is byte-identical to the slot
// payload the record was created from.
func (r *Record) Bytes() ([]byte, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, ewrap.Wrap(err, "reading fallback record").
			WithMetadata("path", r.path)
	}

	return data, nil
}

// Store manages the fallback directory.
type Store struct {
	mu  sync.Mutex
	dir string
	clk clock.Clock
	log hyperlogger.Logger
}

// New verifies that dir exists (creating it if needed) and is writable, and
// returns a store over it. The clock stamps new records; tests substitute a
// mock to control ordering.
func New(dir string, clk clock.Clock, log hyperlogger.Logger) (*Store, error) {
	if dir == "" {
		return nil, ErrNoDirectory
	}

	if clk == nil {
		clk = clock.New()
	}

	if log == nil {
		log = hyperlogger.NewNoop()
	}

	err := os.MkdirAll(dir, constants.FallbackDirMode)
	if err != nil {
		return nil, ewrap.Wrap(err, "creating fallback directory").
			WithMetadata("dir", dir)
	}

	err = utils.ProbeWritable(dir)
	if err != nil {
		return nil, ewrap.Wrap(err, "fallback directory is not writable").
			WithMetadata("dir", dir)
	}

	return &Store{dir: dir, clk: clk, log: log}, nil
}

// Dir returns the directory the store manages.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists one payload as a new record and returns the record's file
// name. The write is durable: the payload is synced to a temporary file and
// renamed into place, so a power cut never leaves a half-written record
// visible to a scan.
func (s *Store) Write(payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := recordName(s.clk.Now().UnixNano())
	path := filepath.Join(s.dir, name)

	err := utils.WriteFileDurable(path, payload, constants.RecordFileMode, constants.RecordTmpExt)
	if err != nil {
		return "", ewrap.Wrap(err, "persisting fallback record").
			WithMetadata("dir", s.dir).
			WithMetadata("name", name)
	}

	s.log.WithFields(
		hyperlogger.Field{Key: "record", Value: name},
		hyperlogger.Field{Key: "bytes", Value: len(payload)},
	).Debug("fallback record persisted")

	return name, nil
}

// Oldest returns the oldest pending record, or ErrEmpty when the backlog is
// clear. Entries that are not valid records (foreign files, half-written
// temporaries, quarantined records) are skipped after logging rather than
// halting the scan.
func (s *Store) Oldest() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, ewrap.Wrap(err, "listing fallback directory").
			WithMetadata("dir", s.dir)
	}

	var oldest *Record

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ts, ok := parseRecordName(entry.Name())
		if !ok {
			s.log.WithField("entry", entry.Name()).Trace("skipping non-record entry")

			continue
		}

		if oldest == nil || ts < oldest.ts || (ts == oldest.ts && entry.Name() < oldest.name) {
			oldest = &Record{
				path: filepath.Join(s.dir, entry.Name()),
				name: entry.Name(),
				ts:   ts,
			}
		}
	}

	if oldest == nil {
		return nil, ErrEmpty
	}

	return oldest, nil
}

// Remove deletes a record after its delivery has been confirmed.
func (s *Store) Remove(rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(rec.path)
	if err != nil {
		return ewrap.Wrap(err, "removing fallback record").
			WithMetadata("path", rec.path)
	}

	return nil
}

// Quarantine renames a record so scans no longer pick it up while its bytes
// stay on disk for operator inspection. Used when a record's content cannot be
// read back; deleting it would lose data, leaving it would clog the
// oldest-first backlog forever.
func (s *Store) Quarantine(rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quarantined := rec.path + constants.RecordSkipExt

	err := os.Rename(rec.path, quarantined)
	if err != nil {
		return ewrap.Wrap(err, "quarantining fallback record").
			WithMetadata("path", rec.path)
	}

	s.log.WithField("record", rec.name).Warn("fallback record quarantined")

	return nil
}

// Len reports the number of pending records.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, ewrap.Wrap(err, "listing fallback directory").
			WithMetadata("dir", s.dir)
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if _, ok := parseRecordName(entry.Name()); ok {
			count++
		}
	}

	return count, nil
}

// recordName builds a record file name from a creation timestamp. The
// zero-padded nanosecond prefix makes lexical order match creation order; the
// uuid suffix keeps names unique when two records share a timestamp.
func recordName(unixNano int64) string {
	ts := strconv.FormatInt(unixNano, 10)
	if pad := nameTimestampWidth - len(ts); pad > 0 {
		ts = strings.Repeat("0", pad) + ts
	}

	return ts + "-" + uuid.NewString() + constants.RecordExt
}

// parseRecordName extracts the creation timestamp from a record file name,
// reporting false for anything that is not a well-formed record name.
func parseRecordName(name string) (int64, bool) {
	if !strings.HasSuffix(name, constants.RecordExt) {
		return 0, false
	}

	prefix, _, found := strings.Cut(name, "-")
	if !found || len(prefix) != nameTimestampWidth {
		return 0, false
	}

	ts, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}

	return ts, true
}
