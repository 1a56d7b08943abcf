// Package report invokes the user's save callback with the discipline spec
// §4.2 mandates: exactly one first call before any bytes move, periodic calls
// on window rollover, exactly one PAUSED call per acknowledged pause, and
// exactly one terminal call, last.
//
// Grounded on transport.Stream's SendCallback contract (send.go: "For every
// transmission... there's always an objDone() completion" and the
// once-only-via-refcount discipline in Obj.prc) — the teacher enforces
// call-exactly-once at the point completions are accounted, which is the same
// discipline this package enforces for the terminal save callback.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package report

import (
	"go.uber.org/atomic"

	"github.com/aistream/xfer/xerr"
)

// OpenFunc is the open-completion callback: state is OK or an error kind.
type OpenFunc func(state xerr.State, offset uint64, size int64, priv any) bool

// SaveFunc is the progress/terminal callback fired during Save/OSave.
type SaveFunc func(state xerr.State, offset uint64, size int64, saved uint64, rate uint64, priv any) bool

// Reporter wraps a SaveFunc with first/periodic/paused/terminal call
// discipline. Not safe for concurrent use; invoked only from a transfer's
// single cooperative loop (spec §5).
type Reporter struct {
	cb   SaveFunc
	priv any

	fired    bool
	terminal atomic.Bool // guards against a second terminal call racing Kill
}

func New(cb SaveFunc, priv any) *Reporter {
	return &Reporter{cb: cb, priv: priv}
}

// First fires the mandatory pre-transfer call: state=OK, saved=0, rate=0.
// Its boolean result follows the same user-stop convention as every other
// call; a caller that returns false aborts before a single byte moves.
func (r *Reporter) First(offset uint64, size int64) bool {
	if r.fired {
		return true
	}
	r.fired = true
	return r.cb(xerr.OK, offset, size, 0, 0, r.priv)
}

// Periodic fires on a governor window rollover, carrying the just-completed
// window's rate.
func (r *Reporter) Periodic(offset uint64, size int64, saved, rate uint64) bool {
	return r.cb(xerr.OK, offset, size, saved, rate, r.priv)
}

// Paused fires exactly once per acknowledged pause.
func (r *Reporter) Paused(offset uint64, size int64, saved uint64) bool {
	return r.cb(xerr.PAUSED, offset, size, saved, 0, r.priv)
}

// Terminal fires the single terminal callback. Subsequent calls are no-ops
// (returning true) so that a racing Kill can never produce a second terminal
// report — invariant 6.
func (r *Reporter) Terminal(state xerr.State, offset uint64, size int64, saved, totalRate uint64) bool {
	if !r.terminal.CAS(false, true) {
		return true
	}
	return r.cb(state, offset, size, saved, totalRate, r.priv)
}

// Fired reports whether the first call has already happened.
func (r *Reporter) Fired() bool { return r.fired }

// Done reports whether the terminal callback has already happened.
func (r *Reporter) Done() bool { return r.terminal.Load() }
