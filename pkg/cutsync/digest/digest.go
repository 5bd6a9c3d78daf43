// Package digest computes content digests for cut sheet files.
// All digests are lowercase hex SHA-256. Files above a size threshold
// are hashed by streaming through a fixed buffer so memory stays bounded
// regardless of file size; both strategies produce identical digests for
// identical content.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/jamesainslie/cutsync/pkg/cutsync/types"
)

// DefaultStreamThreshold is the file size above which hashing streams
// instead of reading the whole file into memory.
const DefaultStreamThreshold = 50 * types.MiB

// chunkSize is the buffer size used when streaming.
const chunkSize = 64 * 1024

// ErrMismatch indicates that a file's digest differs from the expected one.
var ErrMismatch = errors.New("digest mismatch")

// hexPattern matches a lowercase hex SHA-256 digest.
var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidHex reports whether s is a well-formed lowercase hex SHA-256 digest.
func ValidHex(s string) bool {
	return hexPattern.MatchString(s)
}

// Cache memoizes digests keyed by path, size, and mtime. Implementations
// must be safe for concurrent use. A nil cache disables memoization.
type Cache interface {
	Lookup(path string, size, mtimeNano int64) (string, bool)
	Remember(path string, size, mtimeNano int64, hash string) error
}

// Options configures an Engine.
type Options struct {
	// StreamThreshold is the size in bytes above which files are hashed
	// by streaming. Zero selects DefaultStreamThreshold.
	StreamThreshold int64

	// Cache, when non-nil, memoizes digests by path and stat identity.
	Cache Cache
}

// Engine computes file digests. It is safe for concurrent use.
type Engine struct {
	threshold int64
	cache     Cache
}

// New creates an engine with the given options.
func New(opts Options) *Engine {
	threshold := opts.StreamThreshold
	if threshold <= 0 {
		threshold = DefaultStreamThreshold
	}
	return &Engine{threshold: threshold, cache: opts.Cache}
}

// Sum returns the digest of an in-memory buffer.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// File digests the file at path and returns the digest and the file's
// size in bytes. A cached digest is returned when the cache holds an
// entry matching the file's current size and mtime; cache write failures
// are ignored, the computed digest is still returned.
func (e *Engine) File(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("cannot digest directory %s", path)
	}

	size := info.Size()
	mtime := info.ModTime().UnixNano()

	if e.cache != nil {
		if hash, ok := e.cache.Lookup(path, size, mtime); ok {
			return hash, size, nil
		}
	}

	var hash string
	if size > e.threshold {
		hash, err = streamFile(path)
	} else {
		hash, err = wholeFile(path)
	}
	if err != nil {
		return "", 0, err
	}

	if e.cache != nil {
		_ = e.cache.Remember(path, size, mtime, hash)
	}
	return hash, size, nil
}

// Verify digests the file at path and compares it against want.
// A differing digest returns an error wrapping ErrMismatch.
func (e *Engine) Verify(path, want string) error {
	got, _, err := e.File(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w for %s: got %s, want %s", ErrMismatch, path, got, want)
	}
	return nil
}

// wholeFile reads the entire file into memory and digests it.
func wholeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Sum(data), nil
}

// streamFile digests the file through a fixed-size buffer.
func streamFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
