package sparql

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func runUpdate(t *testing.T, store Store, text string, opts Options) error {
	t.Helper()
	u, err := ParseUpdate(prologue+text, "")
	if err != nil {
		t.Fatalf("ParseUpdate() error = %v", err)
	}
	return ExecuteUpdate(context.Background(), store, u, opts)
}

func TestExecuteUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update string
		query  string
		want   []string
	}{
		{
			name:   "insert data into the default graph",
			update: `INSERT DATA { ex:dave a ex:Person }`,
			query:  `SELECT ?s WHERE { ?s a ex:Person } ORDER BY ?s`,
			want:   []string{"s=<http://ex/alice>", "s=<http://ex/bob>", "s=<http://ex/dave>"},
		},
		{
			name:   "insert data into a new named graph",
			update: `INSERT DATA { GRAPH ex:g3 { ex:x ex:p "new" } }`,
			query:  `SELECT ?o WHERE { GRAPH ex:g3 { ?s ?p ?o } }`,
			want:   []string{`o="new"`},
		},
		{
			name:   "delete data",
			update: `DELETE DATA { ex:alice ex:knows ex:bob }`,
			query:  `SELECT ?o WHERE { ex:alice ex:knows ?o }`,
			want:   nil,
		},
		{
			name:   "delete where",
			update: `DELETE WHERE { ?s ex:age ?a }`,
			query:  `SELECT ?a WHERE { ?s ex:age ?a }`,
			want:   nil,
		},
		{
			name:   "delete insert where",
			update: `DELETE { ?s ex:age ?a } INSERT { ?s ex:years ?a } WHERE { ?s ex:age ?a FILTER(?a < 30) }`,
			query:  `SELECT ?s ?a WHERE { ?s ex:years ?a }`,
			want:   []string{`s=<http://ex/bob> a="27"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		},
		{
			name:   "with sets the default graph for pattern and templates",
			update: `WITH ex:g1 INSERT { ?s ex:seen true } WHERE { ?s ex:p "in g1" }`,
			query:  `SELECT ?s WHERE { GRAPH ex:g1 { ?s ex:seen ?v } }`,
			want:   []string{"s=<http://ex/g1s>"},
		},
		{
			name:   "using replaces the default graph",
			update: `INSERT { ?s ex:copied ?o } USING ex:g2 WHERE { ?s ex:p ?o }`,
			query:  `SELECT ?s ?o WHERE { ?s ex:copied ?o } ORDER BY ?s`,
			want:   []string{`s=<http://ex/g2s> o="in g2"`, `s=<http://ex/shared> o="both"`},
		},
		{
			name:   "clear default keeps named graphs",
			update: `CLEAR DEFAULT`,
			query:  `SELECT (COUNT(*) AS ?n) WHERE { { ?s ?p ?o } UNION { GRAPH ?g { ?s ?p ?o } } }`,
			want:   []string{`n="4"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		},
		{
			name:   "drop named",
			update: `DROP NAMED`,
			query:  `SELECT ?g WHERE { GRAPH ?g { ?s ?p ?o } }`,
			want:   nil,
		},
		{
			name:   "copy replaces the target",
			update: `COPY ex:g1 TO ex:g2`,
			query:  `SELECT ?s WHERE { GRAPH ex:g2 { ?s ?p ?o } } ORDER BY ?s`,
			want:   []string{"s=<http://ex/g1s>", "s=<http://ex/shared>"},
		},
		{
			name:   "add merges into the target",
			update: `ADD ex:g1 TO DEFAULT`,
			query:  `SELECT ?o WHERE { ?s ex:p ?o } ORDER BY ?o`,
			want:   []string{`o="both"`, `o="in g1"`},
		},
		{
			name:   "move drops the source",
			update: `MOVE ex:g1 TO ex:g4`,
			query:  `SELECT DISTINCT ?g WHERE { GRAPH ?g { ?s ?p ?o } } ORDER BY ?g`,
			want:   []string{"g=<http://ex/g2>", "g=<http://ex/g4>"},
		},
		{
			name:   "silent operations on missing graphs",
			update: `CLEAR SILENT GRAPH ex:missing ; DROP SILENT GRAPH ex:missing ; CREATE SILENT GRAPH ex:g1`,
			query:  `SELECT (COUNT(*) AS ?n) WHERE { GRAPH ex:g1 { ?s ?p ?o } }`,
			want:   []string{`n="2"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(t, testData)
			if err := runUpdate(t, store, tt.update, Options{}); err != nil {
				t.Fatalf("ExecuteUpdate() error = %v", err)
			}
			got := selectRows(t, store, prologue+tt.query, Options{})
			if !slices.Equal(got, tt.want) {
				t.Errorf("rows = %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestExecuteUpdate_GraphErrors(t *testing.T) {
	tests := []struct {
		update string
		want   error
	}{
		{`CLEAR GRAPH ex:missing`, ErrGraphNotFound},
		{`DROP GRAPH ex:missing`, ErrGraphNotFound},
		{`COPY ex:missing TO ex:g1`, ErrGraphNotFound},
		{`CREATE GRAPH ex:g1`, ErrGraphExists},
	}

	for _, tt := range tests {
		t.Run(tt.update, func(t *testing.T) {
			store := newMemStore(t, testData)
			if err := runUpdate(t, store, tt.update, Options{}); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExecuteUpdate_DatasetOverride(t *testing.T) {
	store := newMemStore(t, testData)
	err := runUpdate(t, store, `WITH ex:g1 DELETE { ?s ex:p ?o } WHERE { ?s ex:p ?o }`,
		Options{Dataset: &Dataset{DefaultGraphs: []string{"http://ex/g2"}}})
	if err != nil {
		t.Fatalf("ExecuteUpdate() error = %v", err)
	}

	// The pattern matched g2 but the templates still target the WITH graph,
	// so only the quad shared by both graphs disappears.
	got := selectRows(t, store, prologue+`SELECT ?s WHERE { GRAPH ex:g1 { ?s ?p ?o } }`, Options{})
	want := []string{"s=<http://ex/g1s>"}
	if !slices.Equal(got, want) {
		t.Errorf("rows = %q, want %q", got, want)
	}
}

func TestExecuteUpdate_CreateThenInsert(t *testing.T) {
	store := newMemStore(t, testData)
	if err := runUpdate(t, store, `CREATE GRAPH ex:empty`, Options{}); err != nil {
		t.Fatalf("CREATE error = %v", err)
	}
	ok, err := store.ContainsGraph(context.Background(), iri("http://ex/empty"))
	if err != nil || !ok {
		t.Fatalf("ContainsGraph() = %v, %v, want true", ok, err)
	}
	if err := runUpdate(t, store, `CLEAR GRAPH ex:empty`, Options{}); err != nil {
		t.Errorf("CLEAR of an empty existing graph error = %v", err)
	}
}
