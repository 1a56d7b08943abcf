package xerr

import "github.com/pkg/errors"

// Contract-violation sentinels: returned directly by API calls, never surfaced
// through a save/open callback (spec: "detected and reported as early-return
// failures without callback emission").
var (
	ErrNilStream     = errors.New("xfer: nil input or output stream")
	ErrInvalidState  = errors.New("xfer: operation invalid in current state")
	ErrNotOpened     = errors.New("xfer: transfer not opened")
	ErrStopped       = errors.New("xfer: transfer already stopped")
	ErrPausePending  = errors.New("xfer: resume called while pause is still pending")
	ErrAlreadyOpened = errors.New("xfer: transfer already opened")
)

// IOError wraps an underlying stream error so the State.IOERROR passthrough
// (spec §7: "any lower-layer I/O error kind passed through verbatim") keeps the
// original cause inspectable via errors.Unwrap / errors.Cause.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return errors.Wrapf(e.Err, "xfer: %s", e.Op).Error()
}

func (e *IOError) Unwrap() error { return e.Err }

func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
