package search

import (
	"context"
	"fmt"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/sparql"
)

// Indexer receives the documents built by BuildIndex.
type Indexer interface {
	Add(iri, text string)
	Commit() error
}

// BuildIndex runs the SELECT query queryText against store and indexes every
// row where ?iri is an IRI and ?text is a literal. Other rows are skipped.
// It returns the number of rows indexed.
func BuildIndex(ctx context.Context, store Store, index Indexer, queryText string) (int, error) {
	q, err := sparql.ParseQuery(queryText, "")
	if err != nil {
		return 0, fmt.Errorf("parsing index query: %w", err)
	}
	results, err := store.Query(ctx, q, sparql.Options{})
	if err != nil {
		return 0, fmt.Errorf("running index query: %w", err)
	}
	if results.Kind != sparql.SolutionsResult {
		return 0, fmt.Errorf("the index query must be a SELECT query")
	}

	n := 0
	for sol, err := range results.Solutions {
		if err != nil {
			return n, fmt.Errorf("running index query: %w", err)
		}
		iri, ok := sol["iri"].(rdf.IRI)
		if !ok {
			continue
		}
		text, ok := sol["text"].(rdf.Literal)
		if !ok {
			continue
		}
		index.Add(iri.Value, text.Lexical)
		n++
	}
	if err := index.Commit(); err != nil {
		return n, fmt.Errorf("committing index: %w", err)
	}
	return n, nil
}
