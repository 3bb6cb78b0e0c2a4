package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/infrastructure/config"
	"github.com/kos-kit/kos-server/internal/rdfformat"
	"github.com/kos-kit/kos-server/internal/sparql"
	"github.com/kos-kit/kos-server/internal/textindex"
)

// ErrNotGraphQuery is returned when the retrieval query does not produce a graph.
var ErrNotGraphQuery = errors.New("the search result query must be a CONSTRUCT or DESCRIBE query")

// Index is the text index used by the Federator.
type Index interface {
	ParseQuery(text string) (textindex.Query, error)
	Count(ctx context.Context, q textindex.Query) (uint64, error)
	Search(ctx context.Context, q textindex.Query, limit, offset int) ([]textindex.Hit, error)
}

// Store evaluates the per-hit retrieval query.
type Store interface {
	Query(ctx context.Context, q *sparql.Query, opts sparql.Options) (*sparql.Results, error)
}

// Result is the outcome of one search.
type Result struct {
	// Total is the number of index matches, regardless of limit and offset.
	Total uint64

	// Triples is the merged response graph. Duplicates are removed and the
	// order is unspecified.
	Triples []rdf.Triple
}

// Federator answers /search requests.
type Federator struct {
	index       Index
	store       Store
	resultQuery *sparql.Query
	bindVar     string
}

// New creates a Federator from the search configuration. The result query is
// parsed once here.
func New(index Index, store Store, cfg config.SearchConfig) (*Federator, error) {
	q, err := sparql.ParseQuery(cfg.ResultQuery, "")
	if err != nil {
		return nil, fmt.Errorf("parsing search result query: %w", err)
	}
	return &Federator{
		index:       index,
		store:       store,
		resultQuery: q,
		bindVar:     cfg.BindVariable,
	}, nil
}

// Search runs text against the index and retrieves the graph of each hit in
// [offset, offset+limit). With limit 0 only the count is computed.
//
// Hits with equal scores come back in no particular order.
func (f *Federator) Search(ctx context.Context, text string, limit, offset int) (*Result, error) {
	q, err := f.index.ParseQuery(text)
	if err != nil {
		return nil, err
	}
	total, err := f.index.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	res := &Result{Total: total}
	if limit == 0 {
		return res, nil
	}

	hits, err := f.index.Search(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, hit := range hits {
		triples, err := f.retrieve(ctx, hit.IRI)
		if err != nil {
			return nil, fmt.Errorf("retrieving %s: %w", hit.IRI, err)
		}
		for _, t := range triples {
			key := tripleKey(t)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Triples = append(res.Triples, t)
		}
	}
	return res, nil
}

func (f *Federator) retrieve(ctx context.Context, iri string) ([]rdf.Triple, error) {
	results, err := f.store.Query(ctx, f.resultQuery, sparql.Options{
		Bindings: sparql.Solution{f.bindVar: rdf.IRI{Value: iri}},
	})
	if err != nil {
		return nil, err
	}
	if results.Kind != sparql.GraphResult {
		return nil, ErrNotGraphQuery
	}
	var triples []rdf.Triple
	for t, err := range results.Triples {
		if err != nil {
			return nil, err
		}
		triples = append(triples, t)
	}
	return triples, nil
}

func tripleKey(t rdf.Triple) string {
	return rdfformat.EncodeTerm(t.S) + " " + rdfformat.EncodeTerm(t.P) + " " + rdfformat.EncodeTerm(t.O)
}
