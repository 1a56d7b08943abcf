package xstream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/aistream/xfer/xerr"
)

// MemStream is an in-memory buffer stream. The backing slice is borrowed for
// the stream's lifetime (spec §5: "memory buffers... must outlive [the
// transfer]"); Destroy never frees caller-owned memory, only marks the stream
// closed.
type MemStream struct {
	mu       sync.Mutex
	buf      []byte // backing storage; grows on write
	pos      int64
	opened   bool
	killed   bool
	writable bool
	timeout  time.Duration
}

// NewMemReader wraps data for reading; data is not copied.
func NewMemReader(data []byte) *MemStream {
	return &MemStream{buf: data}
}

// NewMemWriter returns a stream that appends to an internal buffer starting
// empty; call Bytes() after the transfer completes to retrieve the result.
func NewMemWriter() *MemStream {
	return &MemStream{writable: true}
}

// Bytes returns the accumulated buffer; safe to call after the transfer ends.
func (m *MemStream) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf
}

func (m *MemStream) Mode() Mode { return ModeSyncBlocking }

func (m *MemStream) IsOpened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MemStream) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *MemStream) OpenAsync(cb func(error)) { runAsyncErr(func() error { return m.Open(context.Background()) }, cb) }

func (m *MemStream) SeekOpen(ctx context.Context, offset uint64, cb func(error)) {
	err := m.Open(ctx)
	if err == nil {
		m.mu.Lock()
		m.pos = int64(offset)
		m.mu.Unlock()
	}
	cb(err)
}

// SeekTo repositions a memory stream without copying; implements Seeker.
func (m *MemStream) SeekTo(ctx context.Context, offset uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = int64(offset)
	return nil
}

func (m *MemStream) Read(ctx context.Context, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killed {
		return 0, xerr.ErrStopped
	}
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(buf, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemStream) ReadAsync(n int, cb func([]byte, int, error)) {
	buf := make([]byte, n)
	go func() {
		read, err := m.Read(context.Background(), buf)
		cb(buf[:read], read, err)
	}()
}

func (m *MemStream) Write(ctx context.Context, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killed {
		return 0, xerr.ErrStopped
	}
	if !m.writable {
		return 0, io.ErrShortWrite
	}
	end := m.pos + int64(len(buf))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], buf)
	m.pos += int64(n)
	return n, nil
}

func (m *MemStream) WriteAsync(buf []byte, cb func(int, error)) {
	go func() {
		n, err := m.Write(context.Background(), buf)
		cb(n, err)
	}()
}

func (m *MemStream) Flush(ctx context.Context) error { return nil }
func (m *MemStream) Sync(full bool, cb func(error))  { cb(nil) }

func (m *MemStream) Wait(which WaitKind, timeout time.Duration) (WaitKind, error) {
	return which, nil // in-memory I/O never blocks
}

func (m *MemStream) Offset() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(m.pos)
}

func (m *MemStream) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.buf))
}

func (m *MemStream) Left() int64 { return m.Size() - int64(m.Offset()) }
func (m *MemStream) Timeout() time.Duration { return m.timeout }

func (m *MemStream) Ctrl(cmd CtrlCmd, args ...any) error {
	if cmd == CtrlSetTimeout && len(args) == 1 {
		if d, ok := args[0].(time.Duration); ok {
			m.timeout = d
		}
	}
	return nil
}

func (m *MemStream) Kill() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = true
}

func (m *MemStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *MemStream) Destroy() error { return m.Close() }

var _ Stream = (*MemStream)(nil)
