// Package stream implements the Response Streaming component of §4.7: an
// ordered, append-only list of byte fragments that a transport adaptor
// consumes in order, so large history query responses are never
// buffered whole in one allocation. Grounded on
// ap_common/aputil.circularBuf's io.Writer shape, generalized from a
// fixed-size ring into an unbounded ordered list since history data must
// never be dropped.
package stream

import "io"

// Writer accumulates an ordered sequence of byte fragments.
type Writer struct {
	fragments [][]byte
	size      int64
}

// New returns an empty Writer.
func New() *Writer { return &Writer{} }

// Append adds data as the next fragment. The slice is retained, not
// copied; callers must not mutate it afterward.
func (w *Writer) Append(data []byte) {
	w.fragments = append(w.fragments, data)
	w.size += int64(len(data))
}

// Len returns the total byte length across all fragments.
func (w *Writer) Len() int64 { return w.size }

// WriteTo implements io.WriterTo, writing every fragment in order.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	var total int64
	for _, f := range w.fragments {
		n, err := dst.Write(f)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Fragments returns the accumulated fragments in order. The returned
// slice must not be mutated.
func (w *Writer) Fragments() [][]byte { return w.fragments }
