package interp

import "bytes"

// LimitedBuffer collects output and stops storing after limit bytes.
// A limit of zero or less stores everything.
type LimitedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

// NewLimitedBuffer returns a buffer capped at limit bytes.
func NewLimitedBuffer(limit int64) *LimitedBuffer {
	return &LimitedBuffer{limit: limit}
}

// Write stores what fits and reports the full length so writers such as
// io.Copy never see a short write.
func (w *LimitedBuffer) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - int64(w.buf.Len())
	if remaining <= 0 {
		if len(p) > 0 {
			w.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) <= remaining {
		return w.buf.Write(p)
	}
	w.truncated = true
	if _, err := w.buf.Write(p[:remaining]); err != nil {
		return 0, err
	}
	return len(p), nil
}

// String returns the stored output.
func (w *LimitedBuffer) String() string { return w.buf.String() }

// Len returns the number of stored bytes.
func (w *LimitedBuffer) Len() int { return w.buf.Len() }

// Truncated reports whether any output was dropped.
func (w *LimitedBuffer) Truncated() bool { return w.truncated }
