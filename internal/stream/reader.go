package stream

import (
	"bytes"
	"io"
)

// Releaser is implemented by producer states holding resources, such as a
// pull iterator, that must be freed when the stream ends or is abandoned.
type Releaser interface {
	Release()
}

// Reader turns a producer that writes into an io.Writer into an io.Reader.
//
// The producer is a state machine: init writes any header and returns the
// first state, then each step writes the next chunk and reports whether more
// follows. Read drains the buffered output before stepping again, so memory
// is bounded by the largest single step and the output does not depend on
// the size of the caller's buffer.
//
// A step error ends the stream after its text has been appended to the
// output. Once ended, Read returns 0, io.EOF forever.
//
// A Reader is not safe for concurrent use.
type Reader[S any] struct {
	buf     bytes.Buffer
	state   S
	step    func(S) (S, bool, error)
	done    bool
	onError func(error)
}

// New runs init and returns the Reader driving step. An init error is
// returned as is and nothing has been read yet, so the caller can still
// answer with an error status.
func New[S any](init func(w io.Writer) (S, error), step func(S) (S, bool, error)) (*Reader[S], error) {
	r := &Reader[S]{step: step}
	state, err := init(&r.buf)
	if err != nil {
		return nil, err
	}
	r.state = state
	return r, nil
}

// SetOnError sets a callback invoked with the error that ended the stream.
func (r *Reader[S]) SetOnError(callback func(err error)) {
	r.onError = callback
}

// Read implements io.Reader.
func (r *Reader[S]) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.buf.Len() == 0 {
		if r.done {
			return 0, io.EOF
		}
		next, more, err := r.step(r.state)
		if err != nil {
			r.buf.WriteString(err.Error())
			r.finish()
			if r.onError != nil {
				r.onError(err)
			}
			continue
		}
		r.state = next
		if !more {
			r.finish()
		}
	}
	return r.buf.Read(p)
}

// Close abandons the stream and releases the producer. Buffered output is
// discarded.
func (r *Reader[S]) Close() error {
	if !r.done {
		r.finish()
	}
	r.buf.Reset()
	return nil
}

func (r *Reader[S]) finish() {
	r.done = true
	if rel, ok := any(r.state).(Releaser); ok {
		rel.Release()
	}
}
