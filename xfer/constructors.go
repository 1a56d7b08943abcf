package xfer

import (
	"os"

	"github.com/aistream/xfer/xstream"
)

// The constructor matrix (spec §4.5): a transfer can read from a handle, a
// URL, or a memory buffer, and write to a handle, a URL, or a memory buffer.
// Ownership is set to true exactly for streams the constructor itself
// created (a URL-backed or memory-backed stream); a caller-supplied handle
// stream stays unowned so Exit never closes a descriptor it doesn't own.

// FromHandleToHandle transfers between two pre-opened file handles, both
// caller-owned.
func FromHandleToHandle(in, out *os.File, startOffset uint64) *Transfer {
	return New(xstream.NewFileHandle(in), xstream.NewFileHandle(out), false, false, startOffset)
}

// FromHandleToURL reads a pre-opened handle into a newly created sink file.
func FromHandleToURL(in *os.File, outURL string, startOffset uint64) (*Transfer, error) {
	out, err := xstream.OpenURL(outURL, true)
	if err != nil {
		return nil, err
	}
	return New(xstream.NewFileHandle(in), out, false, true, startOffset), nil
}

// FromHandleToMem reads a pre-opened handle into a fresh in-memory buffer.
func FromHandleToMem(in *os.File, startOffset uint64) *Transfer {
	return New(xstream.NewFileHandle(in), xstream.NewMemWriter(), false, true, startOffset)
}

// FromURLToHandle reads a source URL into a pre-opened, caller-owned handle.
func FromURLToHandle(inURL string, out *os.File, startOffset uint64) (*Transfer, error) {
	in, err := xstream.OpenURL(inURL, false)
	if err != nil {
		return nil, err
	}
	return New(in, xstream.NewFileHandle(out), true, false, startOffset), nil
}

// FromURLToURL transfers between two URL-addressed files, both owned by the
// transfer.
func FromURLToURL(inURL, outURL string, startOffset uint64) (*Transfer, error) {
	in, err := xstream.OpenURL(inURL, false)
	if err != nil {
		return nil, err
	}
	out, err := xstream.OpenURL(outURL, true)
	if err != nil {
		return nil, err
	}
	return New(in, out, true, true, startOffset), nil
}

// FromURLToMem reads a source URL into a fresh in-memory buffer.
func FromURLToMem(inURL string, startOffset uint64) (*Transfer, error) {
	in, err := xstream.OpenURL(inURL, false)
	if err != nil {
		return nil, err
	}
	return New(in, xstream.NewMemWriter(), true, true, startOffset), nil
}

// FromMemToHandle writes an in-memory buffer to a pre-opened, caller-owned
// handle.
func FromMemToHandle(data []byte, out *os.File, startOffset uint64) *Transfer {
	return New(xstream.NewMemReader(data), xstream.NewFileHandle(out), true, false, startOffset)
}

// FromMemToURL writes an in-memory buffer to a newly created sink file.
func FromMemToURL(data []byte, outURL string, startOffset uint64) (*Transfer, error) {
	out, err := xstream.OpenURL(outURL, true)
	if err != nil {
		return nil, err
	}
	return New(xstream.NewMemReader(data), out, true, true, startOffset), nil
}

// FromMemToMem copies between two in-memory buffers; mostly useful for tests
// exercising the governor/reporter without touching a filesystem.
func FromMemToMem(data []byte, startOffset uint64) *Transfer {
	return New(xstream.NewMemReader(data), xstream.NewMemWriter(), true, true, startOffset)
}
