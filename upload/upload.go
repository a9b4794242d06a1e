// Package upload sends drained payloads to the collection server.
//
// The package defines the Uploader contract used by the relay and provides
// HTTPUploader, which delivers one payload per call as a multipart/form-data
// POST. An upload outcome is classified as Success, ServerError (the server
// was reached but did not accept the payload) or TransportError (the server
// could not be reached at all). Retry policy deliberately lives with the
// caller: an Uploader performs exactly one network round trip per call.
//
// Live buffer payloads and replayed fallback records travel through the same
// code path; a payload is an opaque byte blob with no framing.
package upload

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/hyp3rd/ewrap"
)

// FormField is the multipart form field name carrying the payload.
const FormField = "data"

// DefaultTimeout bounds a single upload attempt when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Result classifies the outcome of a single upload attempt.
type Result int

const (
	// Success means the server acknowledged receipt; the caller must mark the
	// source as consumed.
	Success Result = iota
	// ServerError means the server was reachable but rejected or failed to
	// process the payload. Recoverable; the caller persists the payload and
	// moves on rather than retrying in a tight loop.
	ServerError
	// TransportError means the server could not be reached: network down,
	// timeout, connection refused. Handled like ServerError for payload
	// disposition, distinguished so the caller can back off differently.
	TransportError
)

// String returns a human-readable name for the result.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case ServerError:
		return "server error"
	case TransportError:
		return "transport error"
	default:
		return "unknown"
	}
}

// Uploader delivers one payload per call. Implementations perform exactly one
// network round trip and never retry internally.
type Uploader interface {
	// Upload sends the payload under the given part name. The returned Result
	// is authoritative for payload disposition; the error carries diagnostic
	// detail for non-Success results.
	Upload(ctx context.Context, name string, payload []byte) (Result, error)
}

// HTTPUploader posts payloads to a fixed server URL as multipart form data.
type HTTPUploader struct {
	serverURL string
	client    *http.Client
}

// NewHTTPUploader validates the server URL and returns an uploader whose
// attempts are bounded by the given timeout (DefaultTimeout when zero), so a
// stalled connection cannot stall the relay loop.
func NewHTTPUploader(serverURL string, timeout time.Duration) (*HTTPUploader, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, ewrap.Wrap(err, "parsing server URL").
			WithMetadata("url", serverURL)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, ewrap.Wrapf(ErrInvalidServerURL, "validating server URL").
			WithMetadata("url", serverURL)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPUploader{
		serverURL: serverURL,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// Upload implements Uploader. A request error, including a timeout, reports
// TransportError; any non-2xx response reports ServerError.
func (u *HTTPUploader) Upload(ctx context.Context, name string, payload []byte) (Result, error) {
	body := &bytes.Buffer{}

	form := multipart.NewWriter(body)

	part, err := form.CreateFormFile(FormField, name)
	if err != nil {
		return TransportError, ewrap.Wrap(err, "creating multipart form")
	}

	_, err = part.Write(payload)
	if err != nil {
		return TransportError, ewrap.Wrap(err, "writing multipart payload")
	}

	err = form.Close()
	if err != nil {
		return TransportError, ewrap.Wrap(err, "finalizing multipart form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.serverURL, body)
	if err != nil {
		return TransportError, ewrap.Wrap(err, "building upload request").
			WithMetadata("url", u.serverURL)
	}

	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return TransportError, ewrap.Wrap(err, "posting payload").
			WithMetadata("url", u.serverURL).
			WithMetadata("name", name)
	}

	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return ServerError, ewrap.Wrapf(ErrServerRejected, "uploading payload").
			WithMetadata("url", u.serverURL).
			WithMetadata("name", name).
			WithMetadata("status", resp.StatusCode)
	}

	return Success, nil
}

// Close releases idle connections held by the underlying client.
func (u *HTTPUploader) Close() error {
	u.client.CloseIdleConnections()

	return nil
}

var _ Uploader = (*HTTPUploader)(nil)
