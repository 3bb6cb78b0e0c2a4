package sparql

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	quads []rdf.Quad
	named []rdf.Term
}

func (m *memStore) Match(_ context.Context, p QuadPattern) ([]rdf.Quad, error) {
	var out []rdf.Quad
	for _, q := range m.quads {
		if p.Subject != nil && q.S != p.Subject {
			continue
		}
		if p.Predicate != nil && q.P != p.Predicate {
			continue
		}
		if p.Object != nil && q.O != p.Object {
			continue
		}
		switch p.Scope {
		case InGraph:
			if q.G != p.Graph {
				continue
			}
		case InNamedGraphs:
			if q.G == nil {
				continue
			}
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *memStore) NamedGraphs(context.Context) ([]rdf.Term, error) {
	return slices.Clone(m.named), nil
}

func (m *memStore) Insert(_ context.Context, quads ...rdf.Quad) error {
	for _, q := range quads {
		if q.G != nil && !slices.Contains(m.named, q.G) {
			m.named = append(m.named, q.G)
		}
		if !slices.Contains(m.quads, q) {
			m.quads = append(m.quads, q)
		}
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, quads ...rdf.Quad) error {
	m.quads = slices.DeleteFunc(m.quads, func(q rdf.Quad) bool { return slices.Contains(quads, q) })
	return nil
}

func (m *memStore) ContainsGraph(_ context.Context, g rdf.Term) (bool, error) {
	return slices.Contains(m.named, g), nil
}

func (m *memStore) CreateGraph(_ context.Context, g rdf.Term) error {
	m.named = append(m.named, g)
	return nil
}

func (m *memStore) ClearGraph(_ context.Context, g rdf.Term) error {
	m.quads = slices.DeleteFunc(m.quads, func(q rdf.Quad) bool { return q.G == g })
	return nil
}

func (m *memStore) DropGraph(ctx context.Context, g rdf.Term) error {
	m.named = slices.DeleteFunc(m.named, func(n rdf.Term) bool { return n == g })
	return m.ClearGraph(ctx, g)
}

// newMemStore loads N-Quads text.
func newMemStore(t *testing.T, nquads string) *memStore {
	t.Helper()
	m := &memStore{}
	reader, err := rdfformat.NQuads.NewReader(strings.NewReader(nquads))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer reader.Close() //nolint:errcheck // Test cleanup
	for {
		stmt, err := reader.Next()
		if err != nil {
			break
		}
		q := stmt.AsQuad()
		q.O = rdfformat.Normalize(q.O)
		if err := m.Insert(context.Background(), q); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	return m
}

func iri(v string) rdf.IRI { return rdf.IRI{Value: v} }

// selectRows runs a SELECT query and renders every row as "var=term" pairs
// in projection order.
func selectRows(t *testing.T, src Source, query string, opts Options) []string {
	t.Helper()
	q, err := ParseQuery(query, "")
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	res, err := Evaluate(context.Background(), src, q, opts)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Kind != SolutionsResult {
		t.Fatalf("result kind = %d, want solutions", res.Kind)
	}
	var rows []string
	for sol, err := range res.Solutions {
		if err != nil {
			t.Fatalf("solution error = %v", err)
		}
		parts := make([]string, 0, len(res.Variables))
		for _, v := range res.Variables {
			parts = append(parts, v+"="+rdfformat.EncodeTerm(sol[v]))
		}
		rows = append(rows, strings.Join(parts, " "))
	}
	return rows
}

func graphTriples(t *testing.T, src Source, query string) []rdf.Triple {
	t.Helper()
	q, err := ParseQuery(query, "")
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	res, err := Evaluate(context.Background(), src, q, Options{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Kind != GraphResult {
		t.Fatalf("result kind = %d, want graph", res.Kind)
	}
	var triples []rdf.Triple
	for tr, err := range res.Triples {
		if err != nil {
			t.Fatalf("triple error = %v", err)
		}
		triples = append(triples, tr)
	}
	return triples
}
