package rdfformat

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/geoknoesis/rdf-go/rdf"
)

// SolutionsWriter serializes a table of solutions. Each row holds one value
// per variable, in the order given at construction; nil means unbound.
type SolutionsWriter interface {
	WriteSolution(row []rdf.Term) error
	// Flush pushes buffered rows to the destination.
	Flush() error
	// Close writes the trailer and flushes. It does not close the destination.
	Close() error
}

type solutionsEncoder interface {
	SolutionsWriter
	header() error
}

// NewSolutionsWriter writes the results header for variables and returns a
// writer for the rows.
func NewSolutionsWriter(w io.Writer, format Results, variables []string) (SolutionsWriter, error) {
	bw := bufio.NewWriter(w)
	var sw solutionsEncoder
	switch format {
	case ResultsJSON:
		sw = &jsonSolutions{w: bw, vars: variables}
	case ResultsXML:
		sw = &xmlSolutions{w: bw, vars: variables}
	case ResultsCSV:
		cw := csv.NewWriter(bw)
		cw.UseCRLF = true
		sw = &csvSolutions{w: bw, csv: cw, vars: variables}
	case ResultsTSV:
		sw = &tsvSolutions{w: bw, vars: variables}
	default:
		return nil, fmt.Errorf("%w: results format %d", ErrUnknownFormat, format)
	}
	if err := sw.header(); err != nil {
		return nil, err
	}
	return sw, nil
}

// WriteBoolean serializes an ASK result.
func WriteBoolean(w io.Writer, format Results, value bool) error {
	var err error
	switch format {
	case ResultsJSON:
		_, err = fmt.Fprintf(w, `{"head":{},"boolean":%t}`, value)
	case ResultsXML:
		_, err = fmt.Fprintf(w, `<?xml version="1.0"?><sparql xmlns="http://www.w3.org/2005/sparql-results#"><head></head><boolean>%t</boolean></sparql>`, value)
	case ResultsCSV:
		_, err = fmt.Fprintf(w, "%t\r\n", value)
	case ResultsTSV:
		_, err = fmt.Fprintf(w, "%t\n", value)
	default:
		return fmt.Errorf("%w: results format %d", ErrUnknownFormat, format)
	}
	return err
}

type jsonSolutions struct {
	w     *bufio.Writer
	vars  []string
	count int
}

func (s *jsonSolutions) header() error {
	s.w.WriteString(`{"head":{"vars":[`)
	for i, v := range s.vars {
		if i > 0 {
			s.w.WriteByte(',')
		}
		writeJSONString(s.w, v)
	}
	_, err := s.w.WriteString(`]},"results":{"bindings":[`)
	return err
}

func (s *jsonSolutions) WriteSolution(row []rdf.Term) error {
	if s.count > 0 {
		s.w.WriteByte(',')
	}
	s.count++
	s.w.WriteByte('{')
	first := true
	for i, v := range s.vars {
		if i >= len(row) || row[i] == nil {
			continue
		}
		if !first {
			s.w.WriteByte(',')
		}
		first = false
		writeJSONString(s.w, v)
		s.w.WriteByte(':')
		writeJSONTerm(s.w, row[i])
	}
	_, err := s.w.WriteString("}")
	return err
}

func (s *jsonSolutions) Flush() error { return s.w.Flush() }

func (s *jsonSolutions) Close() error {
	s.w.WriteString("]}}")
	return s.w.Flush()
}

func writeJSONString(w *bufio.Writer, s string) {
	b, _ := json.Marshal(s) //nolint:errcheck // Marshalling a string cannot fail
	w.Write(b)
}

func writeJSONTerm(w *bufio.Writer, t rdf.Term) {
	switch v := t.(type) {
	case rdf.IRI:
		w.WriteString(`{"type":"uri","value":`)
		writeJSONString(w, v.Value)
	case rdf.BlankNode:
		w.WriteString(`{"type":"bnode","value":`)
		writeJSONString(w, v.ID)
	case rdf.Literal:
		w.WriteString(`{"type":"literal","value":`)
		writeJSONString(w, v.Lexical)
		switch {
		case v.Lang != "":
			w.WriteString(`,"xml:lang":`)
			writeJSONString(w, v.Lang)
		case v.Datatype.Value != "" && v.Datatype.Value != XSDString:
			w.WriteString(`,"datatype":`)
			writeJSONString(w, v.Datatype.Value)
		}
	case rdf.TripleTerm:
		w.WriteString(`{"type":"triple","value":{"subject":`)
		writeJSONTerm(w, v.S)
		w.WriteString(`,"predicate":`)
		writeJSONTerm(w, v.P)
		w.WriteString(`,"object":`)
		writeJSONTerm(w, v.O)
		w.WriteByte('}')
	}
	w.WriteByte('}')
}

type xmlSolutions struct {
	w    *bufio.Writer
	vars []string
}

func (s *xmlSolutions) header() error {
	s.w.WriteString(`<?xml version="1.0"?><sparql xmlns="http://www.w3.org/2005/sparql-results#"><head>`)
	for _, v := range s.vars {
		s.w.WriteString(`<variable name="`)
		xml.EscapeText(s.w, []byte(v)) //nolint:errcheck // bufio errors surface on Flush
		s.w.WriteString(`"/>`)
	}
	_, err := s.w.WriteString(`</head><results>`)
	return err
}

func (s *xmlSolutions) WriteSolution(row []rdf.Term) error {
	s.w.WriteString("<result>")
	for i, v := range s.vars {
		if i >= len(row) || row[i] == nil {
			continue
		}
		s.w.WriteString(`<binding name="`)
		xml.EscapeText(s.w, []byte(v)) //nolint:errcheck // bufio errors surface on Flush
		s.w.WriteString(`">`)
		writeXMLTerm(s.w, row[i])
		s.w.WriteString("</binding>")
	}
	_, err := s.w.WriteString("</result>")
	return err
}

func (s *xmlSolutions) Flush() error { return s.w.Flush() }

func (s *xmlSolutions) Close() error {
	s.w.WriteString("</results></sparql>")
	return s.w.Flush()
}

func writeXMLTerm(w *bufio.Writer, t rdf.Term) {
	switch v := t.(type) {
	case rdf.IRI:
		w.WriteString("<uri>")
		xml.EscapeText(w, []byte(v.Value)) //nolint:errcheck // bufio errors surface on Flush
		w.WriteString("</uri>")
	case rdf.BlankNode:
		w.WriteString("<bnode>")
		xml.EscapeText(w, []byte(v.ID)) //nolint:errcheck // bufio errors surface on Flush
		w.WriteString("</bnode>")
	case rdf.Literal:
		w.WriteString("<literal")
		switch {
		case v.Lang != "":
			w.WriteString(` xml:lang="`)
			xml.EscapeText(w, []byte(v.Lang)) //nolint:errcheck // bufio errors surface on Flush
			w.WriteString(`"`)
		case v.Datatype.Value != "" && v.Datatype.Value != XSDString:
			w.WriteString(` datatype="`)
			xml.EscapeText(w, []byte(v.Datatype.Value)) //nolint:errcheck // bufio errors surface on Flush
			w.WriteString(`"`)
		}
		w.WriteString(">")
		xml.EscapeText(w, []byte(v.Lexical)) //nolint:errcheck // bufio errors surface on Flush
		w.WriteString("</literal>")
	case rdf.TripleTerm:
		w.WriteString("<triple><subject>")
		writeXMLTerm(w, v.S)
		w.WriteString("</subject><predicate>")
		writeXMLTerm(w, v.P)
		w.WriteString("</predicate><object>")
		writeXMLTerm(w, v.O)
		w.WriteString("</object></triple>")
	}
}

type csvSolutions struct {
	w    *bufio.Writer
	csv  *csv.Writer
	vars []string
}

func (s *csvSolutions) header() error {
	return s.csv.Write(s.vars)
}

func (s *csvSolutions) WriteSolution(row []rdf.Term) error {
	record := make([]string, len(s.vars))
	for i := range s.vars {
		if i < len(row) && row[i] != nil {
			record[i] = csvValue(row[i])
		}
	}
	return s.csv.Write(record)
}

func (s *csvSolutions) Flush() error {
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *csvSolutions) Close() error { return s.Flush() }

func csvValue(t rdf.Term) string {
	switch v := t.(type) {
	case rdf.IRI:
		return v.Value
	case rdf.BlankNode:
		return "_:" + v.ID
	case rdf.Literal:
		return v.Lexical
	default:
		return EncodeTerm(t)
	}
}

type tsvSolutions struct {
	w    *bufio.Writer
	vars []string
}

func (s *tsvSolutions) header() error {
	for i, v := range s.vars {
		if i > 0 {
			s.w.WriteByte('\t')
		}
		s.w.WriteByte('?')
		s.w.WriteString(v)
	}
	return s.w.WriteByte('\n')
}

func (s *tsvSolutions) WriteSolution(row []rdf.Term) error {
	for i := range s.vars {
		if i > 0 {
			s.w.WriteByte('\t')
		}
		if i < len(row) && row[i] != nil {
			s.w.WriteString(tsvValue(row[i]))
		}
	}
	return s.w.WriteByte('\n')
}

func (s *tsvSolutions) Flush() error { return s.w.Flush() }

func (s *tsvSolutions) Close() error { return s.Flush() }

func tsvValue(t rdf.Term) string {
	if lit, ok := t.(rdf.Literal); ok && lit.Lang == "" {
		switch lit.Datatype.Value {
		case XSDInteger, XSDDecimal, XSDDouble, XSDBoolean:
			if !strings.ContainsAny(lit.Lexical, "\t\n\r") {
				return lit.Lexical
			}
		}
	}
	return EncodeTerm(t)
}
