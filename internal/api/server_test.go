package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kos-kit/kos-server/internal/graphstore"
	"github.com/kos-kit/kos-server/internal/infrastructure/config"
	"github.com/kos-kit/kos-server/internal/infrastructure/database"
	"github.com/kos-kit/kos-server/internal/infrastructure/logging"
	"github.com/kos-kit/kos-server/internal/search"
	"github.com/kos-kit/kos-server/internal/textindex"
	_ "github.com/kos-kit/kos-server/migrations"
)

type testEnv struct {
	srv   *Server
	store *graphstore.Store
	index *textindex.Index
}

// newTestEnv creates a Server over an in-memory store and text index.
func newTestEnv(t *testing.T, configure func(*config.APIConfig)) *testEnv {
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

	index, err := textindex.Open("")
	if err != nil {
		t.Fatalf("textindex.Open() error = %v", err)
	}
	t.Cleanup(func() { index.Close() }) //nolint:errcheck // Test cleanup

	cfg := config.Default()
	if configure != nil {
		configure(&cfg.API)
	}
	fed, err := search.New(index, store, cfg.Search)
	if err != nil {
		t.Fatalf("search.New() error = %v", err)
	}

	srv, err := New(Deps{
		Config:   cfg.API,
		Search:   cfg.Search,
		Logger:   logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Store:    store,
		Searcher: fed,
		Metrics:  NewMetrics("test"),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, store: store, index: index}
}

func (e *testEnv) do(t *testing.T, method, target, contentType, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func nonEmptyLines(s string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

const labels = `<http://example/x> <http://www.w3.org/2000/01/rdf-schema#label> "hello world" .
<http://example/x> <http://example/p> <http://example/y> .
<http://example/y> <http://www.w3.org/2000/01/rdf-schema#label> "goodbye" .
`

func TestStore_PutGetRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	var body strings.Builder
	const n = 25
	for i := range n {
		fmt.Fprintf(&body, "<http://ex/s%d> <http://ex/p> \"v%d\" .\n", i, i)
	}
	// Duplicates in the payload collapse.
	body.WriteString("<http://ex/s0> <http://ex/p> \"v0\" .\n")

	rec := env.do(t, http.MethodPut, "/store?graph=http://ex/g", "application/n-triples", body.String())
	expectStatus(t, rec, http.StatusCreated)

	rec = env.do(t, http.MethodPut, "/store?graph=http://ex/g", "application/n-triples", body.String())
	expectStatus(t, rec, http.StatusNoContent)

	rec = env.do(t, http.MethodGet, "/store?graph=http://ex/g", "", "", "Accept", "application/n-triples")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/n-triples" {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := nonEmptyLines(rec.Body.String())
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), n, rec.Body.String())
	}
	slices.Sort(lines)
	if len(slices.Compact(lines)) != n {
		t.Error("response holds duplicate triples")
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "<http://ex/s") || !strings.HasSuffix(l, " .") {
			t.Errorf("unexpected line %q", l)
		}
	}
}

func TestStore_DefaultGraphAndDataset(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/store?default", "application/n-triples", labels)
	expectStatus(t, rec, http.StatusNoContent)

	rec = env.do(t, http.MethodPost, "/store", "application/n-quads", "<http://ex/a> <http://ex/p> <http://ex/b> <http://ex/g> .\n")
	expectStatus(t, rec, http.StatusNoContent)

	rec = env.do(t, http.MethodGet, "/store", "", "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/n-quads" {
		t.Errorf("Content-Type = %q", ct)
	}
	if lines := nonEmptyLines(rec.Body.String()); len(lines) != 4 {
		t.Errorf("dataset holds %d quads, want 4:\n%s", len(lines), rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/store?default", "", "")
	expectStatus(t, rec, http.StatusNoContent)
	rec = env.do(t, http.MethodGet, "/store?default", "", "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.Len() != 0 {
		t.Errorf("default graph not cleared: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/store", "", "")
	expectStatus(t, rec, http.StatusNoContent)
	if empty, err := env.store.IsEmpty(context.Background()); err != nil || !empty {
		t.Errorf("IsEmpty() = %v, %v after DELETE /store", empty, err)
	}
}

func TestStore_NamedGraphLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	const target = "/store?graph=http%3A%2F%2Fex%2Fg"

	expectStatus(t, env.do(t, http.MethodHead, target, "", ""), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, target, "", ""), http.StatusNotFound)
	rec := env.do(t, http.MethodDelete, target, "", "")
	expectStatus(t, rec, http.StatusNotFound)
	if want := "The graph <http://ex/g> does not exist"; rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}

	expectStatus(t, env.do(t, http.MethodPost, target, "text/turtle", "<http://ex/a> <http://ex/p> 1 ."), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, target, "text/turtle", "<http://ex/a> <http://ex/p> 2 ."), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodHead, target, "", ""), http.StatusOK)

	rec = env.do(t, http.MethodGet, target, "", "", "Accept", "text/turtle")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "text/turtle" {
		t.Errorf("Content-Type = %q", ct)
	}

	expectStatus(t, env.do(t, http.MethodDelete, target, "", ""), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodHead, target, "", ""), http.StatusNotFound)
}

func TestStore_OneLineTurtle(t *testing.T) {
	env := newTestEnv(t, nil)
	const target = "/store?graph=http%3A%2F%2Fex%2Fg"
	const body = "@prefix ex: <http://ex/> . ex:a ex:p ex:b ."

	expectStatus(t, env.do(t, http.MethodPut, target, "text/turtle", body), http.StatusCreated)
	rec := env.do(t, http.MethodGet, target, "", "", "Accept", "application/n-triples")
	expectStatus(t, rec, http.StatusOK)
	got := nonEmptyLines(rec.Body.String())
	if len(got) != 1 || !strings.HasPrefix(got[0], "<http://ex/a> <http://ex/p> <http://ex/b>") {
		t.Errorf("graph = %q, want ex:a ex:p ex:b", got)
	}
}

func TestStore_FailedLoadCreatesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	const target = "/store?graph=http%3A%2F%2Fex%2Fg"
	const bad = "<http://ex/a> <http://ex/p> ."

	for _, method := range []string{http.MethodPut, http.MethodPost} {
		expectStatus(t, env.do(t, method, target, "text/turtle", bad), http.StatusBadRequest)
		expectStatus(t, env.do(t, http.MethodHead, target, "", ""), http.StatusNotFound)
	}

	expectStatus(t, env.do(t, http.MethodPut, target, "text/turtle", "<http://ex/a> <http://ex/p> 1 ."), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPut, target, "text/turtle", bad), http.StatusBadRequest)
	rec := env.do(t, http.MethodGet, target, "", "", "Accept", "application/n-triples")
	expectStatus(t, rec, http.StatusOK)
	if got := nonEmptyLines(rec.Body.String()); len(got) != 1 {
		t.Errorf("graph after failed replace = %q, want the original triple", got)
	}
}

func TestStore_PostMintsGraph(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "http://kos.test/store", "application/n-triples", "<http://ex/a> <http://ex/p> <http://ex/b> .\n")
	expectStatus(t, rec, http.StatusCreated)
	loc := rec.Header().Get("Location")
	id, ok := strings.CutPrefix(loc, "http://kos.test/store/")
	if !ok || len(id) != 32 {
		t.Fatalf("Location = %q, want http://kos.test/store/<32 hex>", loc)
	}

	// Direct identification: the minted IRI is the graph name.
	rec = env.do(t, http.MethodGet, loc, "", "")
	expectStatus(t, rec, http.StatusOK)
	if lines := nonEmptyLines(rec.Body.String()); len(lines) != 1 {
		t.Errorf("minted graph holds %d triples, want 1", len(lines))
	}
}

func TestStore_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		want        int
	}{
		{"graph and default", http.MethodGet, "/store?graph=http://ex/g&default", "", "", http.StatusBadRequest},
		{"no content type", http.MethodPut, "/store?default", "", "<a> <b> <c> .", http.StatusBadRequest},
		{"dataset type on graph", http.MethodPut, "/store?default", "application/n-quads", "", http.StatusUnsupportedMediaType},
		{"graph type on dataset put", http.MethodPut, "/store", "text/turtle", "", http.StatusUnsupportedMediaType},
		{"unknown type", http.MethodPost, "/store", "image/png", "", http.StatusUnsupportedMediaType},
		{"parse error", http.MethodPut, "/store?default", "application/n-triples", "<http://ex/a> <http://ex/p> .", http.StatusBadRequest},
		{"not acceptable", http.MethodGet, "/store", "", "", http.StatusNotAcceptable},
		{"unsupported method", http.MethodPatch, "/store", "", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.name == "not acceptable" {
				headers = []string{"Accept", "text/turtle"}
			}
			rec := env.do(t, tt.method, tt.target, tt.contentType, tt.body, headers...)
			expectStatus(t, rec, tt.want)
			if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
				t.Errorf("error Content-Type = %q", ct)
			}
		})
	}
}

func TestStore_BulkLoadLenient(t *testing.T) {
	env := newTestEnv(t, nil)
	body := "<http://ex/a> <http://ex/p> \"1\" .\nthis is not a triple\n<http://ex/b> <http://ex/p> \"2\" .\n"

	rec := env.do(t, http.MethodPut, "/store?default&no_transaction", "application/n-triples", body)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPut, "/store?default&no_transaction&lenient", "application/n-triples", body)
	expectStatus(t, rec, http.StatusNoContent)
	if n, err := env.store.Len(context.Background()); err != nil || n != 2 {
		t.Errorf("Len() = %d, %v, want 2", n, err)
	}
}

func TestQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	expectStatus(t, env.do(t, http.MethodPut, "/store?default", "application/n-triples", labels), http.StatusNoContent)

	t.Run("select json", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/query?query="+urlEncode("SELECT ?l WHERE { <http://example/x> <http://www.w3.org/2000/01/rdf-schema#label> ?l }"), "", "")
		expectStatus(t, rec, http.StatusOK)
		var doc struct {
			Head    struct{ Vars []string }
			Results struct {
				Bindings []map[string]struct{ Type, Value string }
			}
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatalf("decoding %s: %v", rec.Body.String(), err)
		}
		if !slices.Equal(doc.Head.Vars, []string{"l"}) || len(doc.Results.Bindings) != 1 ||
			doc.Results.Bindings[0]["l"].Value != "hello world" {
			t.Errorf("results = %+v", doc)
		}
	})

	t.Run("select csv via form post", func(t *testing.T) {
		form := "query=" + urlEncode("SELECT ?s WHERE { ?s <http://example/p> ?o }")
		rec := env.do(t, http.MethodPost, "/query", "application/x-www-form-urlencoded", form, "Accept", "text/csv")
		expectStatus(t, rec, http.StatusOK)
		if got := rec.Body.String(); got != "s\r\nhttp://example/x\r\n" {
			t.Errorf("body = %q", got)
		}
	})

	t.Run("ask direct post", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/query", "application/sparql-query", "ASK { ?s ?p \"goodbye\" }", "Accept", "text/tab-separated-values")
		expectStatus(t, rec, http.StatusOK)
		if got := rec.Body.String(); got != "true\n" {
			t.Errorf("body = %q", got)
		}
	})

	t.Run("construct", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/query?query="+urlEncode("CONSTRUCT WHERE { ?s <http://example/p> ?o }"), "", "")
		expectStatus(t, rec, http.StatusOK)
		if ct := rec.Header().Get("Content-Type"); ct != "application/n-triples" {
			t.Errorf("Content-Type = %q", ct)
		}
		if lines := nonEmptyLines(rec.Body.String()); len(lines) != 1 {
			t.Errorf("got %d triples, want 1", len(lines))
		}
	})

	errs := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		want        int
	}{
		{"query in url and body", http.MethodPost, "/query?query=ASK%7B%7D", "application/x-www-form-urlencoded", "query=ASK%7B%7D", http.StatusBadRequest},
		{"query in url and direct body", http.MethodPost, "/query?query=ASK%7B%7D", "application/sparql-query", "ASK {}", http.StatusBadRequest},
		{"missing query", http.MethodGet, "/query", "", "", http.StatusBadRequest},
		{"syntax error", http.MethodGet, "/query?query=SELEKT", "", "", http.StatusBadRequest},
		{"union and graphs", http.MethodGet, "/query?query=ASK%7B%7D&union-default-graph&default-graph-uri=http://ex/g", "", "", http.StatusBadRequest},
		{"no content type", http.MethodPost, "/query", "", "ASK {}", http.StatusBadRequest},
		{"wrong content type", http.MethodPost, "/query", "text/plain", "ASK {}", http.StatusUnsupportedMediaType},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, tt.method, tt.target, tt.contentType, tt.body), tt.want)
		})
	}
}

func TestQuery_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.APIConfig) { c.MaxBodyBytes = 16 })
	rec := env.do(t, http.MethodPost, "/query", "application/sparql-query", "SELECT * WHERE { ?s ?p ?o }")
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/update", "application/sparql-update", "INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }")
	expectStatus(t, rec, http.StatusNoContent)

	form := "update=" + urlEncode("INSERT DATA { GRAPH <http://ex/g> { <http://ex/a> <http://ex/p> <http://ex/c> } }")
	rec = env.do(t, http.MethodPost, "/update", "application/x-www-form-urlencoded", form)
	expectStatus(t, rec, http.StatusNoContent)

	if n, err := env.store.Len(context.Background()); err != nil || n != 2 {
		t.Errorf("Len() = %d, %v, want 2", n, err)
	}

	rec = env.do(t, http.MethodPost, "/update?using-graph-uri=http://ex/g", "application/sparql-update",
		"DELETE { ?s ?p ?o } USING <http://ex/g> WHERE { ?s ?p ?o }")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/update", "application/sparql-update", "CREATE GRAPH <http://ex/g>")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/update?update=CLEAR+ALL", "", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestReadOnly(t *testing.T) {
	env := newTestEnv(t, func(c *config.APIConfig) { c.ReadOnly = true })

	tests := []struct {
		method, target, contentType, body string
	}{
		{http.MethodPost, "/update", "application/sparql-update", "INSERT DATA { <http://ex/a> <http://ex/p> 1 }"},
		{http.MethodPost, "/update", "", "not even valid"},
		{http.MethodPut, "/store?default", "application/n-triples", "<http://ex/a> <http://ex/p> 1 ."},
		{http.MethodPut, "/store?graph=http://ex/g&default", "image/png", "garbage"},
		{http.MethodPost, "/store", "application/n-quads", ""},
		{http.MethodDelete, "/store", "", ""},
		{http.MethodDelete, "/store/abc", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.contentType, tt.body)
			expectStatus(t, rec, http.StatusForbidden)
			if rec.Body.String() != "The server is read-only" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}

	// Reads still work.
	expectStatus(t, env.do(t, http.MethodGet, "/store", "", ""), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodHead, "/store", "", ""), http.StatusOK)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/search?query=x", "", "")
	expectStatus(t, rec, http.StatusInternalServerError)
	if !strings.Contains(rec.Body.String(), "index is empty") {
		t.Errorf("body = %q, want index is empty", rec.Body.String())
	}

	expectStatus(t, env.do(t, http.MethodPut, "/store?default", "application/n-triples", labels), http.StatusNoContent)
	if _, err := search.BuildIndex(ctx, env.store, env.index, config.Default().Search.IndexQuery); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}

	rec = env.do(t, http.MethodGet, "/search?query=hello&limit=10", "", "")
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Total-Count"); got != "1" {
		t.Errorf("X-Total-Count = %q, want 1", got)
	}
	lines := nonEmptyLines(rec.Body.String())
	if len(lines) != 2 {
		t.Fatalf("response graph holds %d triples, want 2:\n%s", len(lines), rec.Body.String())
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "<http://example/x> ") {
			t.Errorf("unexpected triple %q", l)
		}
	}

	rec = env.do(t, http.MethodGet, "/search?query=hello&limit=0", "", "")
	expectStatus(t, rec, http.StatusNoContent)
	if got := rec.Header().Get("X-Total-Count"); got != "1" {
		t.Errorf("X-Total-Count = %q, want 1", got)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("count-only body = %q", rec.Body.String())
	}

	expectStatus(t, env.do(t, http.MethodGet, "/search?query=hello&limit=10&offset=9990", "", ""), http.StatusOK)

	rec = env.do(t, http.MethodGet, "/search?query=nomatch", "", "")
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Total-Count"); got != "0" {
		t.Errorf("X-Total-Count = %q, want 0", got)
	}

	for _, target := range []string{
		"/search",
		"/search?query=hello&limit=-1",
		"/search?query=hello&offset=abc",
		"/search?query=%22unterminated",
		"/search?query=hello&offset=9223372036854775807",
		"/search?query=hello&limit=9223372036854775807&offset=1",
		"/search?query=hello&limit=10&offset=9991",
	} {
		expectStatus(t, env.do(t, http.MethodGet, target, "", ""), http.StatusBadRequest)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/search?query=hello", "", ""), http.StatusNotFound)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(c *config.APIConfig) { c.CORS.Enabled = true })

	rec := env.do(t, http.MethodOptions, "/query", "", "",
		"Origin", "http://a",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type",
	)
	expectStatus(t, rec, http.StatusNoContent)
	h := rec.Header()
	if h.Get("Access-Control-Allow-Origin") != "*" ||
		h.Get("Access-Control-Allow-Methods") != "POST" ||
		h.Get("Access-Control-Allow-Headers") != "Content-Type" {
		t.Errorf("preflight headers = %v", h)
	}

	rec = env.do(t, http.MethodOptions, "/query", "", "")
	expectStatus(t, rec, http.StatusNoContent)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Allow-Origin set without Origin")
	}

	rec = env.do(t, http.MethodGet, "/nowhere", "", "", "Origin", "http://a")
	expectStatus(t, rec, http.StatusNotFound)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Allow-Origin missing on error response")
	}

	plain := newTestEnv(t, nil)
	rec = plain.do(t, http.MethodOptions, "/query", "", "", "Origin", "http://a")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestRouting(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/", "", "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("landing Content-Type = %q", ct)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/", "", ""), http.StatusMethodNotAllowed)

	rec = env.do(t, http.MethodGet, "/nowhere", "", "")
	expectStatus(t, rec, http.StatusNotFound)
	if want := "GET /nowhere is not supported by this server"; rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}

	expectStatus(t, env.do(t, http.MethodPut, "/query", "", ""), http.StatusNotFound)

	rec = env.do(t, http.MethodGet, "/health", "", "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}

	rec = env.do(t, http.MethodGet, "/metrics", "", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "kos_http_requests_total") {
		t.Errorf("metrics missing request counter:\n%s", rec.Body.String())
	}
}

func urlEncode(s string) string {
	r := strings.NewReplacer("%", "%25", "&", "%26", "+", "%2B", " ", "+", "#", "%23", "=", "%3D", "?", "%3F")
	return r.Replace(s)
}

type telemetryRecorder struct {
	requests []string
	searches []uint64
}

func (r *telemetryRecorder) WriteRequest(method, route string, status int, _ time.Duration) {
	r.requests = append(r.requests, fmt.Sprintf("%s %s %d", method, route, status))
}

func (r *telemetryRecorder) WriteSearch(matches uint64, _ time.Duration) {
	r.searches = append(r.searches, matches)
}

func TestTelemetry(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := &telemetryRecorder{}
	env.srv.telemetry = rec

	expectStatus(t, env.do(t, http.MethodPut, "/store?default", "application/n-triples", labels), http.StatusNoContent)
	if _, err := search.BuildIndex(context.Background(), env.store, env.index, config.Default().Search.IndexQuery); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	env.do(t, http.MethodGet, "/search?query=hello", "", "")
	env.do(t, http.MethodGet, "/missing", "", "")

	want := []string{"PUT /store 204", "GET /search 200", "GET unmatched 404"}
	if !slices.Equal(rec.requests, want) {
		t.Errorf("requests = %v, want %v", rec.requests, want)
	}
	if !slices.Equal(rec.searches, []uint64{1}) {
		t.Errorf("searches = %v, want [1]", rec.searches)
	}
}
