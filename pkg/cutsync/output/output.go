// Package output provides formatters for rendering cutsync command results
// in various output formats (pretty, plain, json, yaml, etc.).
//
// The package uses a registry pattern to allow registration of multiple
// formatter implementations that can be selected at runtime.
//
// Basic usage:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/cutsync/pkg/cutsync/reconcile"
)

// Row is a single document line in command output.
type Row struct {
	// Identity is the document's identity key.
	Identity string `json:"identity" yaml:"identity"`

	// State is the row's action or status word, such as "upload",
	// "clean", or "failed".
	State string `json:"state" yaml:"state"`

	// Size is the local file size in bytes, when known.
	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`

	// Path is the local file path, when the document exists locally.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// URL is the remote location, when the document is published.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Detail carries extra context, typically a failure message.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Result contains the complete output data for formatting.
type Result struct {
	// Command names the operation that produced the result.
	Command string `json:"command" yaml:"command"`

	// Source is the library or scan root the command operated on.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Report summarizes a reconciliation pass, when one ran.
	Report *reconcile.Report `json:"report,omitempty" yaml:"report,omitempty"`

	// Rows lists per-document lines.
	Rows []Row `json:"rows" yaml:"rows"`

	// Tracked is the number of records in the metadata table.
	Tracked int `json:"tracked" yaml:"tracked"`

	// Published is the number of tracked records carrying a remote URL.
	Published int `json:"published" yaml:"published"`

	// Duration is how long the operation took.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// DryRun marks a sync that planned without transferring.
	DryRun bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`

	// Warnings contains messages that did not fail the command.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// TotalSize returns the sum of all row sizes in the result.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, row := range r.Rows {
		total += row.Size
	}
	return total
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	// It returns an error if formatting fails.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry.
// It will replace any existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name. Unknown names produce an
// error listing every registered formatter.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown format %q (available: %s)",
			name, strings.Join(r.availableLocked(), ", "))
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked()
}

func (r *Registry) availableLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
