// Package xstream defines the stream capability the transfer engine consumes
// (spec §6.1) and provides the memory- and file-backed implementations the
// constructor matrix (spec §4.5) needs. Grounded on the teacher's distinction
// between tb_astream_t (async completion-port stream) and tb_gstream_t
// (blocking stream): a single Mode() method lets the controller pick the
// read/write path instead of maintaining two stream hierarchies.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xstream

import (
	"context"
	"time"
)

// Mode distinguishes a blocking stream from one whose Read/Write complete via
// callback, mirroring tb_stream_mode()'s TB_STREAM_MODE_AIOO/AICO split.
type Mode int

const (
	ModeSyncBlocking Mode = iota
	ModeAsyncCompletion
)

func (m Mode) String() string {
	if m == ModeAsyncCompletion {
		return "async"
	}
	return "sync"
}

// WaitKind selects which readiness condition Wait blocks for (sync streams
// only - spec §6.1 "wait(which, timeout_ms) (sync only)").
type WaitKind int

const (
	WaitRead WaitKind = 1 << iota
	WaitWrite
)

// CtrlCmd configures file-mode behavior (spec §6.1 "ctrl(cmd, args...) for
// file-mode configuration"). MemStream and FileStream act only on
// CtrlSetTimeout; CtrlSetFileMode is accepted and ignored, since their flags
// are fixed at construction.
type CtrlCmd int

const (
	CtrlSetFileMode CtrlCmd = iota
	CtrlSetTimeout
)

// FileMode mirrors spec §6.4: sinks opened from a URL use read-write,
// create-if-missing, truncate, binary.
type FileMode int

const (
	FileModeReadWriteCreateTruncate FileMode = iota
	FileModeReadOnly
)

// Stream is the capability the transfer controller requires of both its
// input and output; spec §6.1 verbatim.
type Stream interface {
	Mode() Mode
	IsOpened() bool

	Open(ctx context.Context) error
	OpenAsync(cb func(err error))
	SeekOpen(ctx context.Context, offset uint64, cb func(err error))

	Read(ctx context.Context, buf []byte) (int, error)
	ReadAsync(n int, cb func(data []byte, real int, err error))

	Write(ctx context.Context, buf []byte) (int, error)
	WriteAsync(buf []byte, cb func(real int, err error))

	Flush(ctx context.Context) error
	Sync(full bool, cb func(err error))

	Wait(which WaitKind, timeout time.Duration) (WaitKind, error)

	Offset() uint64
	Size() int64
	Left() int64
	Timeout() time.Duration

	Ctrl(cmd CtrlCmd, args ...any) error

	Kill()
	Close() error
	Destroy() error
}

// Seeker is an optional capability a sync-mode stream may implement to
// reposition without reading and discarding bytes. Spec §6.1 lists
// seek_open as async-only; for a sync stream that starts at a non-zero
// offset the controller falls back to a read-and-discard loop when a stream
// doesn't implement Seeker.
type Seeker interface {
	SeekTo(ctx context.Context, offset uint64) error
}

// runAsync executes fn on its own goroutine and delivers the result to cb,
// the same "blocking call wrapped so completion arrives via callback" shape
// the teacher's transport.Stream uses to turn a blocking http.Client.Do into
// an asynchronously-completed send (send.go's sendLoop/cmplLoop pair).
func runAsync(fn func() (int, error), cb func(int, error)) {
	go func() {
		n, err := fn()
		cb(n, err)
	}()
}

func runAsyncErr(fn func() error, cb func(error)) {
	go func() {
		cb(fn())
	}()
}
