package rdfformat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/geoknoesis/rdf-go/rdf"
)

// Well-known datatype IRIs.
const (
	XSD           = "http://www.w3.org/2001/XMLSchema#"
	XSDString     = XSD + "string"
	XSDBoolean    = XSD + "boolean"
	XSDInteger    = XSD + "integer"
	XSDDecimal    = XSD + "decimal"
	XSDDouble     = XSD + "double"
	XSDFloat      = XSD + "float"
	XSDDateTime   = XSD + "dateTime"
	RDFLangString = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
)

// ErrInvalidTerm is returned by DecodeTerm for malformed input.
var ErrInvalidTerm = errors.New("invalid term encoding")

// Normalize drops redundant literal datatypes so that equal literals compare
// equal: simple literals carry no datatype and language-tagged literals carry
// only their lowercased tag.
func Normalize(t rdf.Term) rdf.Term {
	switch v := t.(type) {
	case rdf.Literal:
		if v.Lang != "" {
			return rdf.Literal{Lexical: v.Lexical, Lang: strings.ToLower(v.Lang)}
		}
		if v.Datatype.Value == XSDString {
			return rdf.Literal{Lexical: v.Lexical}
		}
		return v
	case rdf.TripleTerm:
		return rdf.TripleTerm{S: Normalize(v.S), P: v.P, O: Normalize(v.O)}
	default:
		return t
	}
}

// EncodeTerm renders t in N-Triples syntax. A nil term encodes to "".
func EncodeTerm(t rdf.Term) string {
	var b strings.Builder
	writeTerm(&b, t)
	return b.String()
}

func writeTerm(b *strings.Builder, t rdf.Term) {
	switch v := t.(type) {
	case nil:
	case rdf.IRI:
		b.WriteByte('<')
		writeEscapedIRI(b, v.Value)
		b.WriteByte('>')
	case rdf.BlankNode:
		b.WriteString("_:")
		b.WriteString(v.ID)
	case rdf.Literal:
		b.WriteByte('"')
		writeEscapedString(b, v.Lexical)
		b.WriteByte('"')
		switch {
		case v.Lang != "":
			b.WriteByte('@')
			b.WriteString(v.Lang)
		case v.Datatype.Value != "" && v.Datatype.Value != XSDString:
			b.WriteString("^^<")
			writeEscapedIRI(b, v.Datatype.Value)
			b.WriteByte('>')
		}
	case rdf.TripleTerm:
		b.WriteString("<< ")
		writeTerm(b, v.S)
		b.WriteByte(' ')
		writeTerm(b, v.P)
		b.WriteByte(' ')
		writeTerm(b, v.O)
		b.WriteString(" >>")
	default:
		b.WriteString(t.String())
	}
}

func writeEscapedIRI(b *strings.Builder, s string) {
	for _, r := range s {
		switch {
		case r <= 0x20, strings.ContainsRune("<>\"{}|^`\\", r):
			fmt.Fprintf(b, "\\u%04X", r)
		default:
			b.WriteRune(r)
		}
	}
}

func writeEscapedString(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r == 0x7F {
				fmt.Fprintf(b, "\\u%04X", r)
			} else {
				b.WriteRune(r)
			}
		}
	}
}

// DecodeTerm parses a term written by EncodeTerm. The empty string decodes to nil.
func DecodeTerm(s string) (rdf.Term, error) {
	if s == "" {
		return nil, nil
	}
	d := termDecoder{in: s}
	t, err := d.term()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.in) {
		return nil, fmt.Errorf("%w: trailing data in %q", ErrInvalidTerm, s)
	}
	return t, nil
}

type termDecoder struct {
	in  string
	pos int
}

func (d *termDecoder) fail(msg string) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrInvalidTerm, msg, d.pos, d.in)
}

func (d *termDecoder) skipSpaces() {
	for d.pos < len(d.in) && d.in[d.pos] == ' ' {
		d.pos++
	}
}

func (d *termDecoder) term() (rdf.Term, error) {
	if d.pos >= len(d.in) {
		return nil, d.fail("unexpected end")
	}
	switch {
	case strings.HasPrefix(d.in[d.pos:], "<<"):
		return d.tripleTerm()
	case d.in[d.pos] == '<':
		v, err := d.iri()
		if err != nil {
			return nil, err
		}
		return rdf.IRI{Value: v}, nil
	case strings.HasPrefix(d.in[d.pos:], "_:"):
		start := d.pos + 2
		end := start
		for end < len(d.in) && d.in[end] != ' ' {
			end++
		}
		if end == start {
			return nil, d.fail("empty blank node label")
		}
		d.pos = end
		return rdf.BlankNode{ID: d.in[start:end]}, nil
	case d.in[d.pos] == '"':
		return d.literal()
	default:
		return nil, d.fail("unexpected character")
	}
}

func (d *termDecoder) iri() (string, error) {
	d.pos++ // '<'
	var b strings.Builder
	for d.pos < len(d.in) {
		c := d.in[d.pos]
		switch c {
		case '>':
			d.pos++
			return b.String(), nil
		case '\\':
			r, err := d.escape()
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
		default:
			b.WriteByte(c)
			d.pos++
		}
	}
	return "", d.fail("unterminated IRI")
}

func (d *termDecoder) literal() (rdf.Term, error) {
	d.pos++ // '"'
	var b strings.Builder
	closed := false
	for d.pos < len(d.in) && !closed {
		c := d.in[d.pos]
		switch c {
		case '"':
			d.pos++
			closed = true
		case '\\':
			r, err := d.escape()
			if err != nil {
				return nil, err
			}
			b.WriteRune(r)
		default:
			b.WriteByte(c)
			d.pos++
		}
	}
	if !closed {
		return nil, d.fail("unterminated literal")
	}

	lit := rdf.Literal{Lexical: b.String()}
	switch {
	case d.pos < len(d.in) && d.in[d.pos] == '@':
		start := d.pos + 1
		end := start
		for end < len(d.in) && d.in[end] != ' ' {
			end++
		}
		lit.Lang = d.in[start:end]
		d.pos = end
	case strings.HasPrefix(d.in[d.pos:], "^^<"):
		d.pos += 2
		dt, err := d.iri()
		if err != nil {
			return nil, err
		}
		lit.Datatype = rdf.IRI{Value: dt}
	}
	return lit, nil
}

func (d *termDecoder) escape() (rune, error) {
	if d.pos+1 >= len(d.in) {
		return 0, d.fail("dangling escape")
	}
	c := d.in[d.pos+1]
	d.pos += 2
	switch c {
	case 't':
		return '\t', nil
	case 'b':
		return '\b', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 'f':
		return '\f', nil
	case '"', '\'', '\\':
		return rune(c), nil
	case 'u', 'U':
		n := 4
		if c == 'U' {
			n = 8
		}
		if d.pos+n > len(d.in) {
			return 0, d.fail("short unicode escape")
		}
		v, err := strconv.ParseUint(d.in[d.pos:d.pos+n], 16, 32)
		if err != nil || !utf8.ValidRune(rune(v)) {
			return 0, d.fail("invalid unicode escape")
		}
		d.pos += n
		return rune(v), nil
	default:
		return 0, d.fail("unknown escape")
	}
}

func (d *termDecoder) tripleTerm() (rdf.Term, error) {
	d.pos += 2
	d.skipSpaces()
	s, err := d.term()
	if err != nil {
		return nil, err
	}
	d.skipSpaces()
	p, err := d.term()
	if err != nil {
		return nil, err
	}
	pIRI, ok := p.(rdf.IRI)
	if !ok {
		return nil, d.fail("triple term predicate must be an IRI")
	}
	d.skipSpaces()
	o, err := d.term()
	if err != nil {
		return nil, err
	}
	d.skipSpaces()
	if !strings.HasPrefix(d.in[d.pos:], ">>") {
		return nil, d.fail("unterminated triple term")
	}
	d.pos += 2
	return rdf.TripleTerm{S: s, P: pIRI, O: o}, nil
}
