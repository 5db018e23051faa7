// Package batch holds the outcome type shared by the scheduled jobs and the
// exit code convention of their entrypoints.
package batch

import (
	"errors"
	"fmt"
	"sync"
)

const (
	ExitOK      = 0
	ExitPartial = 1
	ExitFatal   = 2
)

// Result accumulates per-item outcomes. It is safe for concurrent use.
type Result struct {
	Job string

	mu        sync.Mutex
	processed int
	failed    int
	itemErrs  []error
	fatal     error
}

func NewResult(job string) *Result {
	return &Result{Job: job}
}

func (r *Result) Succeeded() {
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
}

// Failed records an isolated item failure; the batch keeps going.
func (r *Result) Failed(item string, err error) {
	r.mu.Lock()
	r.processed++
	r.failed++
	r.itemErrs = append(r.itemErrs, fmt.Errorf("%s: %w", item, err))
	r.mu.Unlock()
}

// Abort records a failure that stopped the pass before it completed.
func (r *Result) Abort(err error) {
	r.mu.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	r.mu.Unlock()
}

func (r *Result) Counts() (processed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.failed
}

func (r *Result) Fatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Err joins every recorded error, fatal first.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := append([]error{r.fatal}, r.itemErrs...)
	return errors.Join(errs...)
}

// ExitCode maps the result onto 0 (all good), 1 (some items failed) or
// 2 (the pass was aborted).
func (r *Result) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.fatal != nil:
		return ExitFatal
	case r.failed > 0:
		return ExitPartial
	default:
		return ExitOK
	}
}
