package kernel

import (
	"reflect"
	"titankernel/kernel/kfmt/early"
	"unsafe"
)

const maxDynamicErrorMessageLen = 128

// errorRing and errorRingBuf back the errors handed out by NewError. Cycling
// through a small fixed pool lets NewError format a message without
// triggering a heap allocation, at the cost of invalidating the message of
// an error built more than len(errorRing) calls ago. This is safe because
// every caller in this codebase logs or panics with a *kernel.Error
// immediately rather than holding on to it.
var (
	errorRing    [8]Error
	errorRingBuf [8][maxDynamicErrorMessageLen]byte
	nextErrorIdx int
)

// NewError builds a *kernel.Error with a formatted message. Use this instead
// of a package-level var when the message must embed a dynamic value (a
// failing bus/device address, a table signature, ...); static conditions
// should still be declared once as a package-level var, as elsewhere in this
// tree.
func NewError(module, format string, args ...interface{}) *Error {
	idx := nextErrorIdx
	nextErrorIdx = (nextErrorIdx + 1) % len(errorRing)

	buf := &errorRingBuf[idx]
	w := &fixedWriter{buf: buf[:0]}
	early.Fprintf(w, format, args...)

	e := &errorRing[idx]
	e.Module = module

	msgHeader := (*reflect.StringHeader)(unsafe.Pointer(&e.Message))
	msgHeader.Data = uintptr(unsafe.Pointer(&buf[0]))
	msgHeader.Len = len(w.buf)

	return e
}

// fixedWriter is an io.Writer backed by a fixed-capacity byte slice; writes
// that would overflow the capacity are silently truncated.
type fixedWriter struct {
	buf []byte
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	remaining := cap(w.buf) - len(w.buf)
	if remaining <= 0 {
		return len(p), nil
	}
	if remaining < len(p) {
		p = p[:remaining]
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}
