package graphstore

import (
	"context"
	"iter"

	"github.com/geoknoesis/rdf-go/rdf"
)

// pageSize is the number of rows fetched per query by the iterators.
const pageSize = 1000

// Quads iterates over every quad of the dataset in storage order.
func (s *Store) Quads(ctx context.Context) iter.Seq2[rdf.Quad, error] {
	const query = `SELECT g, s, p, o FROM quads
		WHERE (g, s, p, o) > (?, ?, ?, ?)
		ORDER BY g, s, p, o LIMIT ?`

	return func(yield func(rdf.Quad, error) bool) {
		var last rawQuad
		for {
			page, err := s.src.rawQuads(ctx, query, last[0], last[1], last[2], last[3], pageSize)
			if err != nil {
				yield(rdf.Quad{}, err)
				return
			}
			for _, r := range page {
				q, err := r.decode()
				if !yield(q, err) || err != nil {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last = page[len(page)-1]
		}
	}
}

// QuadsInGraph iterates over the triples of graph; nil is the default graph.
func (s *Store) QuadsInGraph(ctx context.Context, graph rdf.Term) iter.Seq2[rdf.Triple, error] {
	const query = `SELECT g, s, p, o FROM quads
		WHERE g = ? AND (s, p, o) > (?, ?, ?)
		ORDER BY s, p, o LIMIT ?`

	g := graphKey(graph)
	return func(yield func(rdf.Triple, error) bool) {
		var last rawQuad
		for {
			page, err := s.src.rawQuads(ctx, query, g, last[1], last[2], last[3], pageSize)
			if err != nil {
				yield(rdf.Triple{}, err)
				return
			}
			for _, r := range page {
				q, err := r.decode()
				if !yield(q.ToTriple(), err) || err != nil {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last = page[len(page)-1]
		}
	}
}
