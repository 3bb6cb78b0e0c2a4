package rdfformat

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/geoknoesis/rdf-go/rdf"
)

var testRows = [][]rdf.Term{
	{rdf.IRI{Value: "http://example.com/a"}, rdf.Literal{Lexical: "Alice", Lang: "en"}},
	{rdf.BlankNode{ID: "b1"}, nil},
	{rdf.IRI{Value: "http://example.com/c"}, rdf.Literal{Lexical: "42", Datatype: rdf.IRI{Value: XSDInteger}}},
}

func writeRows(t *testing.T, format Results) string {
	t.Helper()
	var out strings.Builder
	w, err := NewSolutionsWriter(&out, format, []string{"s", "label"})
	if err != nil {
		t.Fatalf("NewSolutionsWriter() error = %v", err)
	}
	for _, row := range testRows {
		if err := w.WriteSolution(row); err != nil {
			t.Fatalf("WriteSolution() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return out.String()
}

func TestSolutionsWriter_JSON(t *testing.T) {
	var doc struct {
		Head struct {
			Vars []string `json:"vars"`
		} `json:"head"`
		Results struct {
			Bindings []map[string]map[string]string `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(writeRows(t, ResultsJSON)), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if strings.Join(doc.Head.Vars, ",") != "s,label" {
		t.Errorf("vars = %v", doc.Head.Vars)
	}
	if len(doc.Results.Bindings) != 3 {
		t.Fatalf("bindings = %d, want 3", len(doc.Results.Bindings))
	}

	first := doc.Results.Bindings[0]
	if first["s"]["type"] != "uri" || first["label"]["xml:lang"] != "en" {
		t.Errorf("first binding = %v", first)
	}
	if _, ok := doc.Results.Bindings[1]["label"]; ok {
		t.Error("unbound variable must be omitted")
	}
	if doc.Results.Bindings[1]["s"]["type"] != "bnode" {
		t.Errorf("second binding = %v", doc.Results.Bindings[1])
	}
	if doc.Results.Bindings[2]["label"]["datatype"] != XSDInteger {
		t.Errorf("third binding = %v", doc.Results.Bindings[2])
	}
}

func TestSolutionsWriter_XML(t *testing.T) {
	var doc struct {
		Head struct {
			Variables []struct {
				Name string `xml:"name,attr"`
			} `xml:"variable"`
		} `xml:"head"`
		Results struct {
			Result []struct {
				Bindings []struct {
					Name    string `xml:"name,attr"`
					URI     string `xml:"uri"`
					Literal string `xml:"literal"`
				} `xml:"binding"`
			} `xml:"result"`
		} `xml:"results"`
	}
	if err := xml.Unmarshal([]byte(writeRows(t, ResultsXML)), &doc); err != nil {
		t.Fatalf("output is not valid XML: %v", err)
	}
	if len(doc.Head.Variables) != 2 || len(doc.Results.Result) != 3 {
		t.Fatalf("unexpected document shape: %+v", doc)
	}
	if doc.Results.Result[0].Bindings[0].URI != "http://example.com/a" {
		t.Errorf("first uri = %q", doc.Results.Result[0].Bindings[0].URI)
	}
	if doc.Results.Result[0].Bindings[1].Literal != "Alice" {
		t.Errorf("first literal = %q", doc.Results.Result[0].Bindings[1].Literal)
	}
}

func TestSolutionsWriter_CSV(t *testing.T) {
	want := "s,label\r\nhttp://example.com/a,Alice\r\n_:b1,\r\nhttp://example.com/c,42\r\n"
	if got := writeRows(t, ResultsCSV); got != want {
		t.Errorf("CSV = %q, want %q", got, want)
	}
}

func TestSolutionsWriter_TSV(t *testing.T) {
	want := "?s\t?label\n<http://example.com/a>\t\"Alice\"@en\n_:b1\t\n<http://example.com/c>\t42\n"
	if got := writeRows(t, ResultsTSV); got != want {
		t.Errorf("TSV = %q, want %q", got, want)
	}
}

func TestWriteBoolean(t *testing.T) {
	var out strings.Builder
	if err := WriteBoolean(&out, ResultsJSON, true); err != nil {
		t.Fatalf("WriteBoolean() error = %v", err)
	}
	var doc struct {
		Boolean bool `json:"boolean"`
	}
	if err := json.Unmarshal([]byte(out.String()), &doc); err != nil || !doc.Boolean {
		t.Errorf("boolean JSON = %q (%v)", out.String(), err)
	}

	out.Reset()
	if err := WriteBoolean(&out, ResultsXML, false); err != nil {
		t.Fatalf("WriteBoolean() error = %v", err)
	}
	if !strings.Contains(out.String(), "<boolean>false</boolean>") {
		t.Errorf("boolean XML = %q", out.String())
	}
}
