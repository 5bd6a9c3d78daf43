// Package transport moves cut sheet bytes to and from the remote store.
// Transports know nothing about identities or manifests; they take a
// name or URL and opaque bytes. Two implementations exist: a plain HTTP
// blob endpoint and S3-compatible object storage.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Transport errors. Reconciliation surfaces these verbatim in per-item
// failures so the operator sees which remote rejected what.
var (
	// ErrNotFound indicates the remote object does not exist.
	ErrNotFound = errors.New("remote object not found")

	// ErrAuthRequired indicates the remote rejected the credential.
	ErrAuthRequired = errors.New("remote authentication required")

	// ErrTimeout indicates the operation exceeded its deadline.
	ErrTimeout = errors.New("remote operation timed out")
)

// Transport is the byte-transfer contract. Upload stores size bytes from
// r under name and returns the document's URL; Download streams the
// object at url into w. Both honor ctx cancellation.
type Transport interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	Download(ctx context.Context, url string, w io.Writer) error
}

// StatusError carries the HTTP status behind a failed request. It
// matches the package sentinels through errors.Is.
type StatusError struct {
	// StatusCode is the HTTP response status.
	StatusCode int

	// URL is the request target.
	URL string

	// Message is the response body's error message, if any.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.StatusCode)
}

// Is maps status codes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAuthRequired:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrTimeout:
		return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout
	}
	return false
}

// Options selects and configures a transport.
type Options struct {
	// Kind is "http" or "s3".
	Kind string

	// BaseURL is the HTTP blob endpoint.
	BaseURL string

	// Token is the bearer token for the HTTP endpoint. Empty disables
	// the Authorization header.
	Token string

	// Timeout bounds each HTTP request. Zero uses a 60s default.
	Timeout time.Duration

	// Retries is the number of retry attempts for transient failures.
	Retries int

	// Bucket, Prefix, Region, Endpoint, and PathStyle configure the S3
	// transport. Endpoint overrides the AWS endpoint for S3-compatible
	// stores.
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// New builds the transport selected by opts.Kind.
func New(ctx context.Context, opts Options) (Transport, error) {
	switch opts.Kind {
	case "http":
		if opts.BaseURL == "" {
			return nil, errors.New("http transport requires a base URL")
		}
		client := &http.Client{Timeout: opts.Timeout}
		if opts.Timeout <= 0 {
			client.Timeout = 60 * time.Second
		}
		return NewHTTP(opts.BaseURL, opts.Token, client, opts.Retries), nil
	case "s3":
		if opts.Bucket == "" {
			return nil, errors.New("s3 transport requires a bucket")
		}
		return NewS3(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", opts.Kind)
	}
}

// fallbackContentType is used when the payload cannot be sniffed.
const fallbackContentType = "application/pdf"

// detectContentType sniffs the payload's content type from its first
// bytes when r can rewind. Non-seekable readers get the fallback
// untouched. A seek failure after reading is an error: the consumed
// bytes cannot be restored and the upload would be truncated.
func detectContentType(r io.Reader) (string, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return fallbackContentType, nil
	}

	buf := make([]byte, 512)
	n, _ := rs.Read(buf)
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind payload after sniffing: %w", err)
	}
	if n == 0 {
		return fallbackContentType, nil
	}

	if mt := mimetype.Detect(buf[:n]); mt != nil {
		return mt.String(), nil
	}
	return fallbackContentType, nil
}

// classifyErr maps request-level failures onto the package sentinels.
func classifyErr(err error, url string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, url, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, url, err)
	}
	return fmt.Errorf("%s: %w", url, err)
}
