// Package busy guards user actions against double submission.
package busy

import (
	"errors"
	"sync/atomic"
)

// ErrBusy is returned when the same action is already in flight.
var ErrBusy = errors.New("action already in progress")

// Flag guards one user action against re-entry. The zero value is idle.
type Flag struct {
	on atomic.Bool
}

// Run calls fn unless another Run on the same flag has not returned yet.
func (f *Flag) Run(fn func() error) error {
	if !f.on.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer f.on.Store(false)
	return fn()
}

// Busy reports whether an action is in flight.
func (f *Flag) Busy() bool { return f.on.Load() }
