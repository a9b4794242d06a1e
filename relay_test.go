package relaykit

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/hyp3rd/ewrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyp3rd/relaykit/doublebuf"
	"github.com/hyp3rd/relaykit/internal/fallback"
	"github.com/hyp3rd/relaykit/upload"
)

const testCapacity = 16

type uploadCall struct {
	name    string
	payload []byte
}

// mockUploader returns scripted results in order, repeating the last one.
type mockUploader struct {
	mu      sync.Mutex
	results []upload.Result
	calls   []uploadCall
	closed  bool
}

func newMockUploader(results ...upload.Result) *mockUploader {
	if len(results) == 0 {
		results = []upload.Result{upload.Success}
	}

	return &mockUploader{results: results}
}

func (m *mockUploader) Upload(_ context.Context, name string, payload []byte) (upload.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.calls = append(m.calls, uploadCall{name: name, payload: cp})

	result := m.results[0]
	if len(m.results) > 1 {
		m.results = m.results[1:]
	}

	if result != upload.Success {
		return result, ewrap.New("scripted upload failure")
	}

	return result, nil
}

func (m *mockUploader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *mockUploader) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}

func (m *mockUploader) call(i int) uploadCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[i]
}

func newTestRelay(t *testing.T, uploader upload.Uploader) (*Relay, *doublebuf.Buffer, string) {
	t.Helper()

	buf, err := doublebuf.New(testCapacity)
	require.NoError(t, err)

	dir := t.TempDir()

	relay, err := New(buf, Config{
		FallbackDir: dir,
		Uploader:    uploader,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = relay.Close()
	})

	return relay, buf, dir
}

func fillSlot(t *testing.T, buf *doublebuf.Buffer, b byte) []byte {
	t.Helper()

	slot := buf.TryClaimForWrite()
	require.NotNil(t, slot)

	payload := bytes.Repeat([]byte{b}, slot.Capacity())

	_, err := slot.Append(payload)
	require.NoError(t, err)
	require.NoError(t, slot.MarkFull())

	return payload
}

// seedRecords writes payloads straight into the fallback directory with
// increasing timestamps, simulating backlog left over from earlier failures.
func seedRecords(t *testing.T, dir string, payloads ...[]byte) {
	t.Helper()

	mock := clock.NewMock()

	store, err := fallback.New(dir, mock, nil)
	require.NoError(t, err)

	for _, p := range payloads {
		mock.Add(1)

		_, err := store.Write(p)
		require.NoError(t, err)
	}
}

func pendingRecords(t *testing.T, dir string) int {
	t.Helper()

	store, err := fallback.New(dir, nil, nil)
	require.NoError(t, err)

	count, err := store.Len()
	require.NoError(t, err)

	return count
}

func TestNew(t *testing.T) {
	buf, err := doublebuf.New(testCapacity)
	require.NoError(t, err)

	t.Run("nil buffer", func(t *testing.T) {
		relay, err := New(nil, Config{FallbackDir: t.TempDir(), Uploader: newMockUploader()})
		assert.ErrorIs(t, err, ErrNilBuffer)
		assert.Nil(t, relay)
	})

	t.Run("malformed server URL", func(t *testing.T) {
		relay, err := New(buf, Config{ServerURL: "not a url", FallbackDir: t.TempDir()})
		assert.Error(t, err)
		assert.Nil(t, relay)
	})

	t.Run("unusable fallback directory", func(t *testing.T) {
		path := t.TempDir() + "/occupied"
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

		uploader := newMockUploader()

		relay, err := New(buf, Config{FallbackDir: path, Uploader: uploader})
		assert.Error(t, err)
		assert.Nil(t, relay)
		assert.True(t, uploader.closed, "failed init must release the upload client")
	})

	t.Run("valid config with real uploader", func(t *testing.T) {
		relay, err := New(buf, Config{
			ServerURL:   "http://192.168.1.10:8080/ingest",
			FallbackDir: t.TempDir(),
		})
		require.NoError(t, err)
		require.NoError(t, relay.Close())
	})
}

func TestRelay_ProcessIdle(t *testing.T) {
	uploader := newMockUploader()
	relay, _, dir := newTestRelay(t, uploader)

	for range 3 {
		status, err := relay.Process(t.Context())
		assert.Equal(t, StatusOK, status)
		assert.NoError(t, err)
	}

	assert.Zero(t, uploader.callCount(), "idle ticks must not touch the uploader")
	assert.Zero(t, pendingRecords(t, dir))
	assert.Equal(t, uint64(3), relay.Metrics().IdleTicks)
}

func TestRelay_DeliverSlot(t *testing.T) {
	uploader := newMockUploader(upload.Success)
	relay, buf, _ := newTestRelay(t, uploader)

	payload := fillSlot(t, buf, 'a')

	status, err := relay.Process(t.Context())
	assert.Equal(t, StatusOK, status)
	assert.NoError(t, err)

	require.Equal(t, 1, uploader.callCount())
	assert.Equal(t, "slot-0.bin", uploader.call(0).name)
	assert.Equal(t, payload, uploader.call(0).payload)

	slot := buf.TryClaimForWrite()
	require.NotNil(t, slot, "delivered slot must return to the producer")
	assert.Zero(t, slot.Written())

	assert.Equal(t, uint64(1), relay.Metrics().Delivered)
}

func TestRelay_ServerFaultPersistsAndReplays(t *testing.T) {
	for _, failure := range []upload.Result{upload.ServerError, upload.TransportError} {
		t.Run(failure.String(), func(t *testing.T) {
			uploader := newMockUploader(failure, upload.Success)
			relay, buf, dir := newTestRelay(t, uploader)

			payload := fillSlot(t, buf, 'x')

			status, err := relay.Process(t.Context())
			assert.Equal(t, StatusServerFault, status)
			assert.Error(t, err)

			require.NotNil(t, buf.TryClaimForWrite(),
				"failed delivery must still free the slot for the producer")
			assert.Equal(t, 1, pendingRecords(t, dir))

			// Next tick replays the persisted record.
			status, err = relay.Process(t.Context())
			assert.Equal(t, StatusOK, status)
			assert.NoError(t, err)

			require.Equal(t, 2, uploader.callCount())
			assert.Equal(t, payload, uploader.call(1).payload,
				"replayed bytes must match the original slot payload")
			assert.Zero(t, pendingRecords(t, dir), "delivered record must be deleted")

			metrics := relay.Metrics()
			assert.Equal(t, uint64(1), metrics.Persisted)
			assert.Equal(t, uint64(1), metrics.Replayed)
			assert.Equal(t, uint64(1), metrics.UploadFailures)
		})
	}
}

func TestRelay_FailedRecordStaysQueued(t *testing.T) {
	uploader := newMockUploader(upload.ServerError)
	relay, _, dir := newTestRelay(t, uploader)

	seedRecords(t, dir, []byte("pending"))

	status, err := relay.Process(t.Context())
	assert.Equal(t, StatusServerFault, status)
	assert.Error(t, err)

	assert.Equal(t, 1, pendingRecords(t, dir),
		"failed record must remain in place, neither deleted nor duplicated")
}

func TestRelay_MemoryBeforeFallback(t *testing.T) {
	uploader := newMockUploader(upload.Success)
	relay, buf, dir := newTestRelay(t, uploader)

	seedRecords(t, dir, []byte("backlog"))
	slotPayload := fillSlot(t, buf, 'm')

	status, err := relay.Process(t.Context())
	assert.Equal(t, StatusOK, status)
	assert.NoError(t, err)

	require.Equal(t, 1, uploader.callCount())
	assert.Equal(t, slotPayload, uploader.call(0).payload,
		"memory slot must be delivered before fallback backlog")

	status, err = relay.Process(t.Context())
	assert.Equal(t, StatusOK, status)
	assert.NoError(t, err)

	require.Equal(t, 2, uploader.callCount())
	assert.Equal(t, []byte("backlog"), uploader.call(1).payload)
}

func TestRelay_FallbackOldestFirst(t *testing.T) {
	uploader := newMockUploader(upload.Success)
	relay, _, dir := newTestRelay(t, uploader)

	payloads := [][]byte{[]byte("t1"), []byte("t2"), []byte("t3")}
	seedRecords(t, dir, payloads...)

	for i, want := range payloads {
		status, err := relay.Process(t.Context())
		assert.Equal(t, StatusOK, status)
		assert.NoError(t, err)
		assert.Equal(t, want, uploader.call(i).payload, "record %d delivered out of order", i)
	}

	assert.Zero(t, pendingRecords(t, dir))
}

func TestRelay_StarvationBound(t *testing.T) {
	// Uploads never succeed; repeated ticks must still free both slots by
	// persisting them, so the producer is never deadlocked.
	uploader := newMockUploader(upload.TransportError)
	relay, buf, dir := newTestRelay(t, uploader)

	fillSlot(t, buf, 'a')
	fillSlot(t, buf, 'b')
	require.Nil(t, buf.TryClaimForWrite())

	for range 2 {
		status, err := relay.Process(t.Context())
		assert.Equal(t, StatusServerFault, status)
		assert.Error(t, err)
	}

	first := buf.TryClaimForWrite()
	require.NotNil(t, first, "both slots must be freed despite permanent upload failure")
	assert.Zero(t, first.Written())

	assert.Equal(t, 2, pendingRecords(t, dir))
}

func TestRelay_PersistFailureKeepsSlotFull(t *testing.T) {
	uploader := newMockUploader(upload.ServerError)
	relay, buf, dir := newTestRelay(t, uploader)

	fillSlot(t, buf, 'k')

	// Make the fallback directory disappear so persisting must fail.
	require.NoError(t, os.RemoveAll(dir))

	status, err := relay.Process(t.Context())
	assert.Equal(t, StatusError, status)
	assert.Error(t, err)

	claimed := buf.TryClaimForRead()
	require.NotNil(t, claimed, "slot must stay full when its bytes cannot be persisted")
	assert.Equal(t, claimed.Capacity(), claimed.Len())
}

func TestRelay_CloseLifecycle(t *testing.T) {
	uploader := newMockUploader()

	buf, err := doublebuf.New(testCapacity)
	require.NoError(t, err)

	relay, err := New(buf, Config{FallbackDir: t.TempDir(), Uploader: uploader})
	require.NoError(t, err)

	fillSlot(t, buf, 'z')

	require.NoError(t, relay.Close())
	assert.True(t, uploader.closed, "close must release the upload client")

	assert.ErrorIs(t, relay.Close(), ErrRelayClosed)

	status, err := relay.Process(t.Context())
	assert.Equal(t, StatusError, status)
	assert.ErrorIs(t, err, ErrRelayClosed)

	slot := buf.TryClaimForRead()
	assert.NotNil(t, slot, "close must not touch the shared buffer")
}
