package search

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/kos-kit/kos-server/internal/graphstore"
	"github.com/kos-kit/kos-server/internal/infrastructure/config"
	"github.com/kos-kit/kos-server/internal/infrastructure/database"
	"github.com/kos-kit/kos-server/internal/rdfformat"
	"github.com/kos-kit/kos-server/internal/textindex"
	_ "github.com/kos-kit/kos-server/migrations"
)

const testData = `<http://ex/alice> <http://www.w3.org/2000/01/rdf-schema#label> "Alice Liddell" .
<http://ex/alice> <http://ex/knows> <http://ex/bob> .
<http://ex/bob> <http://www.w3.org/2000/01/rdf-schema#label> "Bob Builder" .
<http://ex/carol> <http://www.w3.org/2000/01/rdf-schema#label> "Carol and Alice" .
<http://ex/carol> <http://ex/knows> <http://ex/alice> .
_:b1 <http://www.w3.org/2000/01/rdf-schema#label> "Alice blank" .
`

type fixture struct {
	store *graphstore.Store
	index *textindex.Index
}

func newFixture(t *testing.T, data string) fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store := graphstore.New(db)
	if err := store.LoadGraph(ctx, strings.NewReader(data), rdfformat.NTriples, nil); err != nil {
		t.Fatalf("LoadGraph() error = %v", err)
	}

	index, err := textindex.Open("")
	if err != nil {
		t.Fatalf("textindex.Open() error = %v", err)
	}
	t.Cleanup(func() { index.Close() }) //nolint:errcheck // Test cleanup
	return fixture{store: store, index: index}
}

func (f fixture) build(t *testing.T) {
	t.Helper()
	n, err := BuildIndex(context.Background(), f.store, f.index, config.Default().Search.IndexQuery)
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("BuildIndex() indexed %d rows, want 3 (blank subjects skipped)", n)
	}
}

func (f fixture) federator(t *testing.T, resultQuery string) *Federator {
	t.Helper()
	cfg := config.Default().Search
	if resultQuery != "" {
		cfg.ResultQuery = resultQuery
	}
	fed, err := New(f.index, f.store, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fed
}

func subjects(res *Result) []string {
	var out []string
	for _, tr := range res.Triples {
		s := rdfformat.EncodeTerm(tr.S)
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

func TestFederator_Search(t *testing.T) {
	f := newFixture(t, testData)
	f.build(t)
	fed := f.federator(t, "")

	res, err := fed.Search(context.Background(), "alice", 10, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Total = %d, want 2", res.Total)
	}
	want := []string{"<http://ex/alice>", "<http://ex/carol>"}
	if got := subjects(res); !slices.Equal(got, want) {
		t.Errorf("subjects = %v, want %v", got, want)
	}
	if len(res.Triples) != 4 {
		t.Errorf("len(Triples) = %d, want 4", len(res.Triples))
	}
}

func TestFederator_CountOnly(t *testing.T) {
	f := newFixture(t, testData)
	f.build(t)
	fed := f.federator(t, "")

	res, err := fed.Search(context.Background(), "alice", 0, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 2 || len(res.Triples) != 0 {
		t.Errorf("Search(limit 0) = total %d, %d triples, want 2, 0", res.Total, len(res.Triples))
	}
}

func TestFederator_Paging(t *testing.T) {
	f := newFixture(t, testData)
	f.build(t)
	fed := f.federator(t, "")
	ctx := context.Background()

	first, err := fed.Search(ctx, "alice", 1, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	second, err := fed.Search(ctx, "alice", 1, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if first.Total != 2 || second.Total != 2 {
		t.Errorf("totals = %d, %d, want 2, 2", first.Total, second.Total)
	}
	a, b := subjects(first), subjects(second)
	if len(a) != 1 || len(b) != 1 || a[0] == b[0] {
		t.Errorf("pages = %v, %v, want one distinct subject each", a, b)
	}

	past, err := fed.Search(ctx, "alice", 10, 5)
	if err != nil || len(past.Triples) != 0 {
		t.Errorf("Search(offset past end) = %v, %v", past, err)
	}
}

func TestFederator_MergesDuplicates(t *testing.T) {
	f := newFixture(t, testData)
	f.build(t)
	fed := f.federator(t, `CONSTRUCT { <http://ex/x> <http://ex/found> "yes" } WHERE { ?iri ?p ?o }`)

	res, err := fed.Search(context.Background(), "alice", 10, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Triples) != 1 {
		t.Errorf("len(Triples) = %d, want 1", len(res.Triples))
	}
}

func TestFederator_Errors(t *testing.T) {
	f := newFixture(t, testData)
	ctx := context.Background()

	fed := f.federator(t, "")
	if _, err := fed.Search(ctx, "alice", 10, 0); !errors.Is(err, textindex.ErrEmptyIndex) {
		t.Errorf("Search() on empty index error = %v, want ErrEmptyIndex", err)
	}

	f.build(t)
	if _, err := fed.Search(ctx, `"unterminated`, 10, 0); !errors.Is(err, textindex.ErrInvalidQuery) {
		t.Errorf("Search() with bad query error = %v, want ErrInvalidQuery", err)
	}

	selectFed := f.federator(t, "SELECT * WHERE { ?iri ?p ?o }")
	if _, err := selectFed.Search(ctx, "alice", 10, 0); !errors.Is(err, ErrNotGraphQuery) {
		t.Errorf("Search() with SELECT result query error = %v, want ErrNotGraphQuery", err)
	}

	if _, err := New(f.index, f.store, config.SearchConfig{ResultQuery: "CONSTRUCT {", BindVariable: "iri"}); err == nil {
		t.Error("New() with malformed result query returned nil error")
	}
}
