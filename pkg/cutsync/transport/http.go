package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
)

// HTTPTransport talks to a plain blob endpoint: PUT <base>/<name> to
// upload, GET <url> to download. Transient failures (429, 5xx, transport
// errors) are retried with exponential backoff, honoring Retry-After.
type HTTPTransport struct {
	baseURL    string
	token      string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *logging.Logger
}

// NewHTTP creates an HTTP transport. A nil client gets a 60s timeout;
// retries < 0 selects the default of 3.
func NewHTTP(baseURL, token string, client *http.Client, retries int) *HTTPTransport {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if retries < 0 {
		retries = 3
	}
	return &HTTPTransport{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		client:     client,
		maxRetries: retries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
		logger:     logging.Get("transport"),
	}
}

// uploadResponse is the endpoint's answer to a successful PUT.
type uploadResponse struct {
	URL string `json:"url"`
}

// Upload stores size bytes from r under name and returns the document
// URL. Retries require a rewindable reader; one-shot readers fail on the
// first transient error instead of uploading truncated bytes.
func (t *HTTPTransport) Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	contentType, err := detectContentType(r)
	if err != nil {
		return "", err
	}
	target := t.baseURL + "/" + url.PathEscape(name)
	seeker, rewindable := r.(io.ReadSeeker)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return "", fmt.Errorf("failed to rewind payload for retry: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, r)
		if err != nil {
			return "", fmt.Errorf("failed to build upload request: %w", err)
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", contentType)
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if rewindable && attempt < t.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, t.retryDelay(attempt+1, "")); waitErr != nil {
					return "", waitErr
				}
				continue
			}
			return "", classifyErr(err, target)
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return "", fmt.Errorf("failed to read upload response: %w", readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			var out uploadResponse
			if len(payload) > 0 {
				_ = json.Unmarshal(payload, &out)
			}
			if out.URL == "" {
				out.URL = target
			}
			t.logger.Debug("uploaded", "name", name, "url", out.URL, "bytes", size)
			return out.URL, nil
		}

		if retryableStatus(resp.StatusCode) && rewindable && attempt < t.maxRetries {
			if waitErr := waitWithContext(ctx, t.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return "", waitErr
			}
			continue
		}

		return "", statusError(resp.StatusCode, target, payload)
	}
}

// Download streams the object at rawURL into w.
func (t *HTTPTransport) Download(ctx context.Context, rawURL string, w io.Writer) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("failed to build download request: %w", err)
		}
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if attempt < t.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, t.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return classifyErr(err, rawURL)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			n, copyErr := io.Copy(w, resp.Body)
			_ = resp.Body.Close()
			if copyErr != nil {
				return fmt.Errorf("failed to stream %s: %w", rawURL, copyErr)
			}
			t.logger.Debug("downloaded", "url", rawURL, "bytes", n)
			return nil
		}

		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		if retryableStatus(resp.StatusCode) && attempt < t.maxRetries {
			if waitErr := waitWithContext(ctx, t.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return statusError(resp.StatusCode, rawURL, payload)
	}
}

// retryableStatus reports whether a response status warrants a retry.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// statusError builds a StatusError, pulling a message out of a JSON
// error body when one is present.
func statusError(code int, target string, payload []byte) error {
	var errPayload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	msg := errPayload.Message
	if msg == "" {
		msg = errPayload.Error
	}
	return &StatusError{StatusCode: code, URL: target, Message: msg}
}

// retryDelay computes the backoff before the given attempt, capped at
// maxDelay. An explicit Retry-After wins over the exponential schedule.
func (t *HTTPTransport) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > t.maxDelay {
			return t.maxDelay
		}
		return retryAfter
	}
	delay := t.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= t.maxDelay {
			return t.maxDelay
		}
	}
	if delay > t.maxDelay {
		return t.maxDelay
	}
	return delay
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// waitWithContext sleeps for delay unless ctx ends first.
func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
