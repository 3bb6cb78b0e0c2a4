package sparql

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/geoknoesis/rdf-go/rdf"
)

func TestParseQuery_Forms(t *testing.T) {
	tests := []struct {
		query string
		form  QueryForm
	}{
		{"SELECT * WHERE { ?s ?p ?o }", FormSelect},
		{"ask { ?s ?p ?o }", FormAsk},
		{"CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }", FormConstruct},
		{"CONSTRUCT WHERE { ?s ?p ?o }", FormConstruct},
		{"DESCRIBE <http://ex/a>", FormDescribe},
		{"PREFIX ex: <http://ex/> SELECT ?s WHERE { ?s a ex:C } LIMIT 10 OFFSET 5", FormSelect},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := ParseQuery(tt.query, "")
			if err != nil {
				t.Fatalf("ParseQuery() error = %v", err)
			}
			if q.Form != tt.form {
				t.Errorf("Form = %v, want %v", q.Form, tt.form)
			}
		})
	}
}

func TestParseQuery_SelectStarVariables(t *testing.T) {
	q, err := ParseQuery(`SELECT * WHERE { ?s ?p ?o OPTIONAL { ?o ?q ?x } BIND(1 AS ?one) [] ?p ?anon }`, "")
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	got := q.Variables()
	want := []string{"s", "p", "o", "q", "x", "one", "anon"}
	if !slices.Equal(got, want) {
		t.Errorf("Variables() = %v, want %v", got, want)
	}
}

func TestParseQuery_LimitAndOffset(t *testing.T) {
	q, err := ParseQuery(`SELECT ?s WHERE { ?s ?p ?o }`, "")
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	if q.Limit != -1 || q.Offset != 0 {
		t.Errorf("Limit, Offset = %d, %d, want -1, 0", q.Limit, q.Offset)
	}
}

func TestParseQuery_Base(t *testing.T) {
	q, err := ParseQuery(`SELECT ?o WHERE { <a> <p> ?o }`, "http://example.com/base/")
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	bgp, ok := q.Where.Elements[0].(*BGP)
	if !ok {
		t.Fatalf("first element = %T, want *BGP", q.Where.Elements[0])
	}
	if got := bgp.Triples[0].S.Term; got != (rdf.IRI{Value: "http://example.com/base/a"}) {
		t.Errorf("subject = %v, want resolved IRI", got)
	}
}

func TestParseQuery_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		message string
	}{
		{"missing brace", "SELECT * WHERE { ?s ?p ?o", "line 1"},
		{"undefined prefix", "SELECT * WHERE { ?s foaf:name ?o }", "the prefix foaf: is not defined"},
		{"garbage", "SELEKT * WHERE {}", "line 1 column 1"},
		{"position on later line", "SELECT *\nWHERE {\n  ?s ?p }", "line 3"},
		{"variables in insert data", "INSERT DATA { ?s <http://ex/p> 1 }", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if strings.HasPrefix(tt.query, "INSERT") {
				_, err = ParseUpdate(tt.query, "")
			} else {
				_, err = ParseQuery(tt.query, "")
			}
			if !errors.Is(err, ErrSyntax) {
				t.Fatalf("error = %v, want ErrSyntax", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error = %q, want it to contain %q", err, tt.message)
			}
		})
	}
}

func TestParseQuery_Unsupported(t *testing.T) {
	for _, query := range []string{
		"SELECT * WHERE { ?s <http://ex/p>/<http://ex/q> ?o }",
		"SELECT * WHERE { ?s ^<http://ex/p> ?o }",
		"SELECT * WHERE { SERVICE <http://ex/sparql> { ?s ?p ?o } }",
		"SELECT * WHERE { { SELECT ?s WHERE { ?s ?p ?o } } }",
	} {
		if _, err := ParseQuery(query, ""); !errors.Is(err, ErrUnsupported) {
			t.Errorf("ParseQuery(%q) error = %v, want ErrUnsupported", query, err)
		}
	}
	if _, err := ParseUpdate("LOAD <http://ex/data.ttl>", ""); !errors.Is(err, ErrUnsupported) {
		t.Errorf("LOAD error = %v, want ErrUnsupported", err)
	}
}

func TestParseUpdate_Operations(t *testing.T) {
	u, err := ParseUpdate(`
		PREFIX ex: <http://ex/>
		INSERT DATA { ex:a ex:p "x" . GRAPH ex:g { ex:a ex:p 1 } } ;
		DELETE WHERE { ?s ex:p ?o } ;
		WITH ex:g DELETE { ?s ex:p ?o } INSERT { ?s ex:q ?o } WHERE { ?s ex:p ?o } ;
		CLEAR SILENT GRAPH ex:g ;
		DROP ALL ;
		CREATE GRAPH ex:h ;
		MOVE DEFAULT TO ex:h
	`, "")
	if err != nil {
		t.Fatalf("ParseUpdate() error = %v", err)
	}

	var kinds []string
	for _, op := range u.Operations {
		switch op := op.(type) {
		case *InsertData:
			kinds = append(kinds, "insert-data")
			if len(op.Quads) != 2 {
				t.Errorf("INSERT DATA quads = %d, want 2", len(op.Quads))
			}
		case *Modify:
			kinds = append(kinds, "modify")
		case *Clear:
			kinds = append(kinds, "clear")
			if !op.Silent || op.Target.Kind != RefGraph {
				t.Errorf("CLEAR = %+v, want silent graph target", op)
			}
		case *Drop:
			kinds = append(kinds, "drop")
			if op.Target.Kind != RefAll {
				t.Errorf("DROP target = %v, want ALL", op.Target.Kind)
			}
		case *Create:
			kinds = append(kinds, "create")
		case *Transfer:
			kinds = append(kinds, strings.ToLower(op.Op))
			if op.From.Kind != RefDefault {
				t.Errorf("MOVE source = %v, want DEFAULT", op.From.Kind)
			}
		default:
			t.Errorf("unexpected operation %T", op)
		}
	}
	want := []string{"insert-data", "modify", "modify", "clear", "drop", "create", "move"}
	if !slices.Equal(kinds, want) {
		t.Errorf("operations = %v, want %v", kinds, want)
	}
	if !u.HasDatasetClause() {
		t.Error("HasDatasetClause() = false, want true for WITH")
	}
}

func TestParseUpdate_Empty(t *testing.T) {
	u, err := ParseUpdate("PREFIX ex: <http://ex/>", "")
	if err != nil {
		t.Fatalf("ParseUpdate() error = %v", err)
	}
	if len(u.Operations) != 0 {
		t.Errorf("operations = %d, want 0", len(u.Operations))
	}
	if u.HasDatasetClause() {
		t.Error("HasDatasetClause() = true for an empty update")
	}
}
