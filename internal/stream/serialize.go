package stream

import (
	"io"
	"iter"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// seqState pulls items from a sequence and writes one item per step. Writers
// flush after every item so that an error trailer lands after all output.
type seqState[T any] struct {
	next   func() (T, error, bool)
	stop   func()
	write  func(T) error
	finish func() error
}

func (s *seqState[T]) Release() {
	if s != nil && s.stop != nil {
		s.stop()
	}
}

// opener returns the item writer and the function ending the document.
type opener[T any] func(w io.Writer) (write func(T) error, finish func() error, err error)

func fromSeq[T any](seq iter.Seq2[T, error], open opener[T], onError func(error)) (io.ReadCloser, error) {
	r, err := New(
		func(w io.Writer) (*seqState[T], error) {
			write, finish, err := open(w)
			if err != nil {
				return nil, err
			}
			next, stop := iter.Pull2(seq)
			return &seqState[T]{next: next, stop: stop, write: write, finish: finish}, nil
		},
		func(s *seqState[T]) (*seqState[T], bool, error) {
			item, err, ok := s.next()
			if !ok {
				return s, false, s.finish()
			}
			if err != nil {
				return s, false, err
			}
			if err := s.write(item); err != nil {
				return s, false, err
			}
			return s, true, nil
		},
	)
	if err != nil {
		return nil, err
	}
	r.SetOnError(onError)
	return r, nil
}

// Graph serializes triples in format.
func Graph(triples iter.Seq2[rdf.Triple, error], format rdfformat.Graph, onError func(error)) (io.ReadCloser, error) {
	return fromSeq(triples, func(w io.Writer) (func(rdf.Triple) error, func() error, error) {
		writer, err := format.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		write := func(t rdf.Triple) error {
			if err := writer.Write(t.ToStatement()); err != nil {
				return err
			}
			return writer.Flush()
		}
		return write, writer.Close, nil
	}, onError)
}

// Dataset serializes quads in format.
func Dataset(quads iter.Seq2[rdf.Quad, error], format rdfformat.Dataset, onError func(error)) (io.ReadCloser, error) {
	return fromSeq(quads, func(w io.Writer) (func(rdf.Quad) error, func() error, error) {
		writer, err := format.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		write := func(q rdf.Quad) error {
			if err := writer.Write(q.ToStatement()); err != nil {
				return err
			}
			return writer.Flush()
		}
		return write, writer.Close, nil
	}, onError)
}

// Solutions serializes query solutions in format. Each row holds the values
// of variables in order, nil for unbound.
func Solutions(variables []string, rows iter.Seq2[[]rdf.Term, error], format rdfformat.Results, onError func(error)) (io.ReadCloser, error) {
	return fromSeq(rows, func(w io.Writer) (func([]rdf.Term) error, func() error, error) {
		writer, err := rdfformat.NewSolutionsWriter(w, format, variables)
		if err != nil {
			return nil, nil, err
		}
		write := func(row []rdf.Term) error {
			if err := writer.WriteSolution(row); err != nil {
				return err
			}
			return writer.Flush()
		}
		return write, writer.Close, nil
	}, onError)
}
