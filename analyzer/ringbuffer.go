package analyzer

// RingBuffer is a generic ring buffer with buffer and a cursor. Len counts the
// values written since the last Clear, saturating at the buffer length.
type RingBuffer[T any] struct {
	Buffer []T
	Cursor int
	Len    int
}

func (r *RingBuffer[T]) WriteWrapSingle(value T) {
	if len(r.Buffer) == 0 {
		return
	}
	r.Buffer[r.Cursor] = value
	r.Cursor = (r.Cursor + 1) % len(r.Buffer)
	if r.Len < len(r.Buffer) {
		r.Len++
	}
}

// Values returns the written values, in no particular order.
func (r *RingBuffer[T]) Values() []T {
	return r.Buffer[:r.Len]
}

func (r *RingBuffer[T]) Clear() {
	r.Cursor = 0
	r.Len = 0
}
