// Package scanner discovers candidate cut sheets in a library directory.
// It walks the tree in parallel with fastwalk and derives document
// identities from the <manufacturer>__<partnumber>.pdf filename
// convention; files that don't follow it are still reported so they can
// be registered by hand.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
)

// Found is one candidate cut sheet discovered during a scan.
type Found struct {
	// Path is the file's absolute path.
	Path string

	// Size is the file's size in bytes.
	Size int64

	// ModTime is the file's modification time.
	ModTime time.Time

	// Identity is the identity derived from the filename convention.
	// Only meaningful when IdentityOK is true.
	Identity identity.Identity

	// IdentityOK reports whether the filename followed the
	// <manufacturer>__<partnumber>.pdf convention.
	IdentityOK bool
}

// ScanError records a path that could not be visited. The scan continues
// past these.
type ScanError struct {
	Path  string
	Error string
}

// Result holds everything a completed scan found.
type Result struct {
	// Files are the discovered candidates, in walk order.
	Files []Found

	// DirsScanned is the number of directories visited.
	DirsScanned int64

	// FilesScanned counts every regular file seen, PDF or not.
	FilesScanned int64

	// TotalBytes is the combined size of every file seen.
	TotalBytes int64

	// Elapsed is the wall time the scan took.
	Elapsed time.Duration

	// Errors are the paths that could not be visited.
	Errors []ScanError
}

// Options configures a scan.
type Options struct {
	// Root is the directory to scan.
	Root string

	// Exclude holds glob patterns for paths to skip, matched against
	// both the basename and the full path.
	Exclude []string

	// OnFile, when set, streams each discovered candidate as the walk
	// finds it. It must be safe to call from multiple goroutines.
	OnFile func(Found)
}

// Scanner walks a library directory for cut sheet candidates. The
// zero-extra-state walk makes a Scanner single-use; create one per scan.
type Scanner struct {
	opts Options

	dirsScanned  atomic.Int64
	filesScanned atomic.Int64
	bytesScanned atomic.Int64

	results   []Found
	resultsMu sync.Mutex

	errs   []ScanError
	errsMu sync.Mutex

	root string
}

// New creates a scanner with the given options.
func New(opts Options) *Scanner {
	return &Scanner{
		opts:    opts,
		results: make([]Found, 0),
		errs:    make([]ScanError, 0),
	}
}

// Scan walks the root and returns the discovered candidates. Unreadable
// paths are collected as errors without stopping the walk; cancellation
// stops the walk and returns the context's error.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	start := time.Now()

	root, err := s.validateRoot()
	if err != nil {
		return nil, err
	}
	s.root = root

	conf := fastwalk.Config{
		Follow: false,
	}

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		<-walkCtx.Done()
		close(done)
	}()

	walkErr := fastwalk.Walk(&conf, root, s.walkCallback(done))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if walkErr != nil && !errors.Is(walkErr, fastwalk.ErrSkipFiles) {
		return nil, walkErr
	}

	return &Result{
		Files:        s.results,
		DirsScanned:  s.dirsScanned.Load(),
		FilesScanned: s.filesScanned.Load(),
		TotalBytes:   s.bytesScanned.Load(),
		Elapsed:      time.Since(start),
		Errors:       s.errs,
	}, nil
}

// validateRoot resolves the root path to absolute and verifies it is a
// directory.
func (s *Scanner) validateRoot() (string, error) {
	root, err := filepath.Abs(s.opts.Root)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", os.ErrInvalid
	}
	return root, nil
}

// walkCallback returns the callback fastwalk drives, possibly from
// several goroutines at once.
func (s *Scanner) walkCallback(done <-chan struct{}) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		select {
		case <-done:
			return fastwalk.ErrSkipFiles
		default:
		}

		if err != nil {
			s.addError(path, err)
			return nil
		}

		if d.IsDir() {
			if path != s.root && (isHidden(d.Name()) || s.isExcluded(path)) {
				return filepath.SkipDir
			}
			s.dirsScanned.Add(1)
			return nil
		}

		if !d.Type().IsRegular() || s.isExcluded(path) {
			return nil
		}

		s.processFile(path, d)
		return nil
	}
}

// processFile stats a regular file and records it if it is a PDF.
func (s *Scanner) processFile(path string, d fs.DirEntry) {
	info, err := d.Info()
	if err != nil {
		s.addError(path, err)
		return
	}

	s.filesScanned.Add(1)
	s.bytesScanned.Add(info.Size())

	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return
	}

	id, ok := ParseFilename(path)
	found := Found{
		Path:       path,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Identity:   id,
		IdentityOK: ok,
	}

	s.resultsMu.Lock()
	s.results = append(s.results, found)
	s.resultsMu.Unlock()

	if s.opts.OnFile != nil {
		s.opts.OnFile(found)
	}
}

// addError records a path error thread-safely.
func (s *Scanner) addError(path string, err error) {
	s.errsMu.Lock()
	s.errs = append(s.errs, ScanError{Path: path, Error: err.Error()})
	s.errsMu.Unlock()
}

// isExcluded checks path against the exclude globs, trying the basename
// first and the full path second.
func (s *Scanner) isExcluded(path string) bool {
	for _, pattern := range s.opts.Exclude {
		if pattern == "" {
			continue
		}
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
		if matched, err := filepath.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}

// isHidden reports whether a directory name is a dot directory.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// ParseFilename derives a document identity from the
// <manufacturer>__<partnumber>.pdf convention. The extension is ignored;
// the split is on the first double underscore. Returns false when the
// name does not follow the convention.
func ParseFilename(path string) (identity.Identity, bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	manufacturer, part, ok := strings.Cut(base, "__")
	if !ok {
		return identity.Identity{}, false
	}

	id := identity.Identity{
		Manufacturer: strings.TrimSpace(manufacturer),
		PartNumber:   strings.TrimSpace(part),
	}
	if err := id.Validate(); err != nil {
		return identity.Identity{}, false
	}
	return id, true
}
