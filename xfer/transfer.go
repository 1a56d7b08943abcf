// Package xfer implements the transfer controller: the state machine that
// drives one input stream and one output stream through open, a
// rate-governed read/write loop, pause/resume, cancellation, and close.
//
// Grounded on the teacher's transport.Stream (send.go): the atomic
// stopped/opened/paused/pausing flags mirror transport.Stream's sessST/
// term.terminated pattern, Kill's single-shot CAS mirrors
// Stream.terminate's "assert not already terminated" guard, and the
// single-goroutine-per-phase loop mirrors the sendLoop/cmplLoop split that
// lets Kill/Pause/Resume/Limit be called safely from any goroutine while the
// read/write accounting itself never needs a lock. Design note #9's
// recommendation against "near-duplicate" sync/async controllers is realized
// here as one Transfer type whose blocking entry points (OpenSync, SaveSync,
// OSaveSync) run the identical state-machine code on the caller's own
// goroutine instead of a spawned one.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/aistream/xfer/config"
	"github.com/aistream/xfer/govern"
	"github.com/aistream/xfer/hk"
	"github.com/aistream/xfer/report"
	"github.com/aistream/xfer/xclock"
	"github.com/aistream/xfer/xerr"
	"github.com/aistream/xfer/xlog"
	"github.com/aistream/xfer/xstream"
)

// OpenFunc and SaveFunc are the user-facing callback signatures (spec §6.3).
type (
	OpenFunc = report.OpenFunc
	SaveFunc = report.SaveFunc
)

// State re-exports the error-kind taxonomy so callers need only import xfer.
type State = xerr.State

const (
	OK            = xerr.OK
	CLOSED        = xerr.CLOSED
	PAUSED        = xerr.PAUSED
	KILLED        = xerr.KILLED
	TIMEOUT       = xerr.TIMEOUT
	UNKNOWN_ERROR = xerr.UNKNOWN_ERROR
	IOERROR       = xerr.IOERROR
)

// Transfer owns, or weakly references, one input and one output stream and
// drives them through the lifecycle in spec §3.3.
type Transfer struct {
	in, out        xstream.Stream
	iowned, oowned bool
	startOffset    uint64

	governor  *govern.Governor
	reporter  *report.Reporter
	clock     xclock.Clock
	blockSize int
	priv      any

	stopped, opened, paused, pausing atomic.Bool
	usedOpen, usedSave                atomic.Bool
	lastActivityMS                    atomic.Int64

	dryRun    atomic.Bool
	dryRunPos atomic.Int64

	rdBuf []byte // reused across readBlock calls on the synchronous path

	resumeCh chan struct{}
	wg       sync.WaitGroup
	idleName string

	mu      sync.Mutex
	lastErr error
}

// New constructs a transfer bound to in/out. iowned/oowned control whether
// Close/Exit release the corresponding stream. Per spec §3.3 construction
// leaves the transfer stopped=1, opened=0.
func New(in, out xstream.Stream, iowned, oowned bool, startOffset uint64) *Transfer {
	t := &Transfer{
		in:          in,
		out:         out,
		iowned:      iowned,
		oowned:      oowned,
		startOffset: startOffset,
		clock:       xclock.Real(),
		blockSize:   config.Global().BlockSize,
		resumeCh:    make(chan struct{}, 1),
	}
	t.stopped.Store(true)
	t.dryRun.Store(config.Global().DryRun)
	t.governor = govern.New(t.clock.NowMS())
	return t
}

// WithClock overrides the clock source, for deterministic tests.
func (t *Transfer) WithClock(c xclock.Clock) *Transfer {
	t.clock = c
	t.governor = govern.New(c.NowMS())
	return t
}

// WithPriv sets the user context value passed back through every callback.
func (t *Transfer) WithPriv(priv any) *Transfer {
	t.priv = priv
	return t
}

// WithBlockSize overrides the synchronous read/write chunk size.
func (t *Transfer) WithBlockSize(n int) *Transfer {
	if n > 0 {
		t.blockSize = n
	}
	return t
}

// SetDryRun toggles dry-run mode: Save's read/write steps move synthetic
// zero-value bytes instead of touching the underlying streams, so the state
// machine (governor, pause/resume, reporter discipline) can be exercised
// without a real stream backend. Mirrors the teacher's AIS_STREAM_DRY_RUN;
// must be set before Save/OSave starts moving bytes. New seeds this from
// config.Global().DryRun (XFER_DRY_RUN), so this override is only needed to
// diverge from the process-wide default.
func (t *Transfer) SetDryRun(enable bool) { t.dryRun.Store(enable) }

// offset returns the controller's view of bytes consumed so far, which
// tracks a synthetic counter instead of the input stream's own position
// while dry-run mode is skipping real reads.
func (t *Transfer) offset() uint64 {
	if t.dryRun.Load() {
		return uint64(t.dryRunPos.Load())
	}
	return t.in.Offset()
}

// LastError returns the most recent wrapped stream error observed, if any.
func (t *Transfer) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Transfer) setLastError(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
}

func (t *Transfer) dispatch(blocking bool, fn func()) {
	if blocking {
		fn()
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

//
// Open
//

// Open begins opening the output then seeking the input; cb fires once with
// OK or an error kind. Async variant: returns immediately.
func (t *Transfer) Open(cb OpenFunc) error { return t.open(cb, false) }

// OpenSync is the blocking variant of Open: the caller's goroutine runs the
// open sequence and cb fires before OpenSync returns.
func (t *Transfer) OpenSync(cb OpenFunc) error { return t.open(cb, true) }

func (t *Transfer) open(cb OpenFunc, blocking bool) error {
	if t.in == nil || t.out == nil {
		return xerr.ErrNilStream
	}
	if !t.usedOpen.CAS(false, true) {
		return xerr.ErrAlreadyOpened
	}
	t.dispatch(blocking, func() {
		err := t.doOpen()
		if err != nil {
			xlog.V(xlog.LevelState).Infof("xfer: open failed: %v", err)
			cb(stateForErr(err), 0, 0, t.priv)
			return
		}
		offset, size := t.in.Offset(), t.in.Size()
		if !cb(xerr.OK, offset, size, t.priv) {
			t.Kill()
		}
	})
	return nil
}

// doOpen performs OPENING_OSTREAM -> SEEKING_ISTREAM and, on success, clears
// stopped and sets opened (spec §3.3). It never invokes a callback itself.
func (t *Transfer) doOpen() error {
	now := t.clock.NowMS()
	t.governor.ResetWindow(now)

	if err := t.openStream(t.out); err != nil {
		t.setLastError(err)
		return err
	}
	if err := t.seekOpenStream(t.in, t.startOffset); err != nil {
		t.setLastError(err)
		return err
	}
	t.stopped.Store(false)
	t.opened.Store(true)
	return nil
}

func (t *Transfer) openStream(s xstream.Stream) error {
	if s.IsOpened() {
		return nil
	}
	if s.Mode() == xstream.ModeAsyncCompletion {
		ch := make(chan error, 1)
		s.OpenAsync(func(err error) { ch <- err })
		return <-ch
	}
	return s.Open(context.Background())
}

func (t *Transfer) seekOpenStream(s xstream.Stream, offset uint64) error {
	if s.Mode() == xstream.ModeAsyncCompletion {
		ch := make(chan error, 1)
		s.SeekOpen(context.Background(), offset, func(err error) { ch <- err })
		return <-ch
	}
	if err := t.openStream(s); err != nil {
		return err
	}
	if offset == 0 {
		return nil
	}
	if seeker, ok := s.(xstream.Seeker); ok {
		return seeker.SeekTo(context.Background(), offset)
	}
	return t.skipRead(s, offset)
}

// skipRead discards offset bytes from a stream that can't seek natively.
func (t *Transfer) skipRead(s xstream.Stream, offset uint64) error {
	buf := make([]byte, t.blockSize)
	for offset > 0 {
		n := len(buf)
		if uint64(n) > offset {
			n = int(offset)
		}
		read, err := s.Read(context.Background(), buf[:n])
		offset -= uint64(read)
		if err != nil {
			if err == io.EOF && offset == 0 {
				return nil
			}
			return err
		}
	}
	return nil
}

//
// Save / OSave
//

// Save starts the rate-governed read/write loop; cb fires repeatedly with
// progress then exactly once with a terminal state.
func (t *Transfer) Save(cb SaveFunc) error { return t.save(cb, false) }

// SaveSync is the blocking variant: the loop runs on the caller's goroutine.
func (t *Transfer) SaveSync(cb SaveFunc) error { return t.save(cb, true) }

func (t *Transfer) save(cb SaveFunc, blocking bool) error {
	if err := t.checkSaveable(); err != nil {
		return err
	}
	t.dispatch(blocking, func() { t.doSave(cb) })
	return nil
}

func (t *Transfer) checkSaveable() error {
	if !t.opened.Load() {
		return xerr.ErrNotOpened
	}
	if t.stopped.Load() {
		return xerr.ErrStopped
	}
	if !t.usedSave.CAS(false, true) {
		return xerr.ErrInvalidState
	}
	return nil
}

// OSave opens the transfer if necessary, then saves; a failed open is
// reported through cb itself (spec §9 "tb_tstream_open_func" behavior: the
// save callback doubles as the open-failure reporter so OSave needs no
// separate OpenFunc).
func (t *Transfer) OSave(cb SaveFunc) error { return t.osave(cb, false) }

// OSaveSync is the blocking variant of OSave.
func (t *Transfer) OSaveSync(cb SaveFunc) error { return t.osave(cb, true) }

func (t *Transfer) osave(cb SaveFunc, blocking bool) error {
	if t.opened.Load() {
		return t.save(cb, blocking)
	}
	if t.in == nil || t.out == nil {
		return xerr.ErrNilStream
	}
	if !t.usedOpen.CAS(false, true) {
		return xerr.ErrAlreadyOpened
	}
	if !t.usedSave.CAS(false, true) {
		return xerr.ErrInvalidState
	}
	t.dispatch(blocking, func() {
		if err := t.doOpen(); err != nil {
			t.stopped.Store(true)
			r := report.New(cb, t.priv)
			r.Terminal(stateForErr(err), 0, 0, 0, 0)
			return
		}
		t.doSave(cb)
	})
	return nil
}

// doSave runs the read/write loop inline on the calling goroutine; both the
// async dispatch path and OSave's inline path funnel through it.
func (t *Transfer) doSave(cb SaveFunc) {
	t.reporter = report.New(cb, t.priv)
	offset, size := t.offset(), t.in.Size()
	if !t.reporter.First(offset, size) {
		t.stopped.Store(true)
		t.finishTerminal(xerr.UNKNOWN_ERROR)
		return
	}
	t.runLoop()
}

func (t *Transfer) runLoop() {
	for {
		if t.stopped.Load() {
			t.finishTerminal(xerr.KILLED)
			return
		}

		n := t.blockSize
		if limit := t.governor.RateLimit.Load(); limit > 0 && limit < uint64(n) {
			n = int(limit)
		}

		data, real, err := t.readBlock(n)
		if err != nil && err != io.EOF {
			if t.stopped.Load() {
				t.finishTerminal(xerr.KILLED)
			} else {
				t.setLastError(err)
				t.finishIOError(err)
			}
			return
		}

		if real > 0 {
			if werr := t.writeAll(data[:real]); werr != nil {
				if t.stopped.Load() {
					t.finishTerminal(xerr.KILLED)
				} else {
					t.setLastError(werr)
					t.finishIOError(werr)
				}
				return
			}
		}

		if err == io.EOF {
			t.finishClosed()
			return
		}

		if t.stopped.Load() {
			t.finishTerminal(xerr.KILLED)
			return
		}

		if !t.account(real) {
			return
		}
	}
}

// account performs the governor tick, the periodic/paused reports, and the
// pause suspension, returning false when the loop must stop. Grounded on
// tb_tstream_ostream_writ_func's ordering: accounting, then periodic report,
// then stopped-check, then pausing-check, then delay.
func (t *Transfer) account(n int) (proceed bool) {
	now := t.clock.NowMS()
	t.lastActivityMS.Store(now)
	delay, rolled := t.governor.Tick(uint64(n), now)

	if rolled {
		offset, size := t.offset(), t.in.Size()
		if !t.reporter.Periodic(offset, size, t.governor.SavedTotal(), t.governor.CurrentRate()) {
			t.stopped.Store(true)
			t.finishTerminal(xerr.UNKNOWN_ERROR)
			return false
		}
	}

	if t.stopped.Load() {
		t.finishTerminal(xerr.KILLED)
		return false
	}

	if t.pausing.Load() || t.paused.Load() {
		t.paused.Store(true)
		t.pausing.Store(false)
		offset, size := t.offset(), t.in.Size()
		if !t.reporter.Paused(offset, size, t.governor.SavedTotal()) {
			t.stopped.Store(true)
			t.finishTerminal(xerr.UNKNOWN_ERROR)
			return false
		}
		if !t.waitResume() {
			t.finishTerminal(xerr.KILLED)
			return false
		}
		return true
	}

	if delay > 0 {
		time.Sleep(delay)
	}
	return true
}

// waitResume blocks until Resume (or Kill) wakes the loop.
func (t *Transfer) waitResume() bool {
	for {
		<-t.resumeCh
		if t.stopped.Load() {
			return false
		}
		if t.paused.Load() {
			continue // woken by Kill before an actual Resume landed
		}
		return true
	}
}

func (t *Transfer) readBlock(n int) ([]byte, int, error) {
	if t.dryRun.Load() {
		left := t.in.Size() - t.dryRunPos.Load()
		if left <= 0 {
			return nil, 0, io.EOF
		}
		if int64(n) > left {
			n = int(left)
		}
		t.dryRunPos.Add(int64(n))
		return make([]byte, n), n, nil
	}
	if t.in.Mode() == xstream.ModeAsyncCompletion {
		type result struct {
			data []byte
			real int
			err  error
		}
		ch := make(chan result, 1)
		t.in.ReadAsync(n, func(data []byte, real int, err error) { ch <- result{data, real, err} })
		r := <-ch
		return r.data, r.real, r.err
	}
	if cap(t.rdBuf) < n {
		t.rdBuf = make([]byte, n)
	}
	buf := t.rdBuf[:n]
	read, err := t.in.Read(context.Background(), buf)
	return buf, read, err
}

func (t *Transfer) writeAll(data []byte) error {
	for len(data) > 0 {
		n, err := t.writeBlock(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (t *Transfer) writeBlock(data []byte) (int, error) {
	if t.dryRun.Load() {
		return len(data), nil
	}
	if t.out.Mode() == xstream.ModeAsyncCompletion {
		type result struct {
			n   int
			err error
		}
		ch := make(chan result, 1)
		t.out.WriteAsync(data, func(n int, err error) { ch <- result{n, err} })
		r := <-ch
		return r.n, r.err
	}
	return t.out.Write(context.Background(), data)
}

func (t *Transfer) flushOut() error {
	if t.dryRun.Load() {
		return nil
	}
	if t.out.Mode() == xstream.ModeAsyncCompletion {
		ch := make(chan error, 1)
		t.out.Sync(true, func(err error) { ch <- err })
		return <-ch
	}
	return t.out.Flush(context.Background())
}

func (t *Transfer) finishClosed() {
	if err := t.flushOut(); err != nil {
		t.setLastError(err)
		t.finishIOError(err)
		return
	}
	t.finishTerminal(xerr.CLOSED)
}

func (t *Transfer) finishIOError(err error) {
	t.finishTerminal(stateForErr(err))
}

func (t *Transfer) finishTerminal(state xerr.State) {
	now := t.clock.NowMS()
	offset, size := t.offset(), t.in.Size()
	t.reporter.Terminal(state, offset, size, t.governor.SavedTotal(), t.governor.TotalRate(now))
}

//
// Control operations
//

// Pause requests a pause; the next completion inside the loop acknowledges
// it with a single PAUSED report. A no-op if already paused.
func (t *Transfer) Pause() {
	if t.paused.Load() {
		return
	}
	t.pausing.Store(true)
}

// Resume resumes an acknowledged pause. A no-op (nil) if not paused; fails if
// not opened, if stopped, or while a pause is still pending acknowledgment.
func (t *Transfer) Resume() error {
	if !t.opened.Load() {
		return xerr.ErrNotOpened
	}
	if t.stopped.Load() {
		return xerr.ErrStopped
	}
	if t.pausing.Load() {
		return xerr.ErrPausePending
	}
	if !t.paused.Load() {
		return nil
	}
	now := t.clock.NowMS()
	t.governor.ResetWindow(now)
	t.paused.Store(false)
	select {
	case t.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Limit changes the rate ceiling; it takes effect on the governor's next
// tick. 0 means unlimited. Clamped to config.Global().MaxRateLimit when that
// ceiling is configured (non-zero).
func (t *Transfer) Limit(rate uint64) {
	if max := config.Global().MaxRateLimit; max > 0 && (rate == 0 || rate > max) {
		rate = max
	}
	t.governor.RateLimit.Store(rate)
}

// Kill is an idempotent, non-blocking cancel. The winner propagates a kill to
// both underlying streams and wakes a paused loop so it can observe stopped.
func (t *Transfer) Kill() {
	if !t.stopped.CAS(false, true) {
		return
	}
	xlog.V(xlog.LevelState).Infof("xfer: kill")
	t.StopIdleTick()
	t.in.Kill()
	t.out.Kill()
	select {
	case t.resumeCh <- struct{}{}:
	default:
	}
}

// Close kills the transfer (if not already stopped), waits for any
// in-flight async Open/Save to finish unless callingFromCB is set (to avoid
// deadlocking when Close is invoked from within a save/open callback), then
// closes both underlying streams regardless of ownership.
func (t *Transfer) Close(callingFromCB bool) error {
	t.Kill()
	if !callingFromCB {
		t.wg.Wait()
	}
	var err error
	if t.in != nil {
		if e := t.in.Close(); e != nil {
			err = e
		}
	}
	if t.out != nil {
		if e := t.out.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Exit closes the transfer and releases owned streams. The Transfer itself
// must not be used again afterward.
func (t *Transfer) Exit(callingFromCB bool) error {
	err := t.Close(callingFromCB)
	if t.iowned && t.in != nil {
		if e := t.in.Destroy(); e != nil && err == nil {
			err = e
		}
	}
	if t.oowned && t.out != nil {
		if e := t.out.Destroy(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Stats returns an instantaneous snapshot useful for non-callback polling.
type Stats struct {
	Offset      uint64
	Size        int64
	SavedTotal  uint64
	CurrentRate uint64
	Opened      bool
	Stopped     bool
	Paused      bool
}

func (t *Transfer) Stats() Stats {
	return Stats{
		Offset:      t.offset(),
		Size:        t.in.Size(),
		SavedTotal:  t.governor.SavedTotal(),
		CurrentRate: t.governor.CurrentRate(),
		Opened:      t.opened.Load(),
		Stopped:     t.stopped.Load(),
		Paused:      t.paused.Load(),
	}
}

// StartIdleTick registers a housekeeping callback that fires onIdle whenever
// no bytes have moved for config.Global().DefaultIdleTimeout, modeling the
// original engine's timed wait (tb_tstream_wait with a timeout, reported
// upward as TIMEOUT) as a background tick instead of a blocking call.
// Deregisters itself once the transfer stops.
func (t *Transfer) StartIdleTick(onIdle func()) {
	t.idleName = fmt.Sprintf("xfer-idle-%p", t)
	timeout := config.Global().DefaultIdleTimeout
	if timeout <= 0 {
		return
	}
	t.lastActivityMS.Store(t.clock.NowMS())
	hk.Reg(t.idleName, func() time.Duration {
		if t.stopped.Load() {
			return 0
		}
		if !t.paused.Load() {
			idleFor := time.Duration(t.clock.NowMS()-t.lastActivityMS.Load()) * time.Millisecond
			if idleFor >= timeout {
				onIdle()
			}
		}
		return timeout
	}, timeout)
}

// StopIdleTick cancels a tick registered by StartIdleTick.
func (t *Transfer) StopIdleTick() {
	if t.idleName != "" {
		hk.Unreg(t.idleName)
	}
}

func stateForErr(err error) xerr.State {
	if err == nil {
		return xerr.OK
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return xerr.TIMEOUT
	}
	return xerr.IOERROR
}
