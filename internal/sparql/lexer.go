package sparql

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIRI
	tokPName   // prefix:local, value holds the whole name
	tokBNode   // _:label, value holds the label
	tokVar     // ?x or $x, value holds the name
	tokString  // value holds the unescaped text
	tokLang    // @tag, value holds the tag
	tokInteger // value holds the lexical form
	tokDecimal
	tokDouble
	tokWord  // keywords, 'a', true/false, function names
	tokPunct // operators and delimiters
)

type token struct {
	kind  tokenKind
	value string
	line  int
	col   int
}

// iriRef matches an IRIREF at the start of the input. A '<' that does not
// open one is the less-than operator.
var iriRef = regexp.MustCompile("^<[^<>\"{}|^`\\\\\x00-\x20]*>")

var punctuators = []string{
	"^^", "&&", "||", "!=", "<=", ">=",
	"{", "}", "(", ")", "[", "]", ".", ",", ";", "*", "+", "-", "/", "!", "=", "<", ">", "^", "|",
}

type lexer struct {
	in   string
	pos  int
	line int
	col  int
}

func tokenize(in string) ([]token, error) {
	l := &lexer{in: in, line: 1, col: 1}
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) errorf(format string, args ...any) error {
	return newSyntaxError(l.line, l.col, format, args...)
}

func (l *lexer) advance(n int) {
	for _, r := range l.in[l.pos : l.pos+n] {
		if r == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
	}
	l.pos += n
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.in) {
		c := l.in[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		case c == '#':
			end := strings.IndexByte(l.in[l.pos:], '\n')
			if end < 0 {
				end = len(l.in) - l.pos
			}
			l.advance(end)
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	tok := token{line: l.line, col: l.col}
	if l.pos >= len(l.in) {
		tok.kind = tokEOF
		return tok, nil
	}

	rest := l.in[l.pos:]
	c := rest[0]
	switch {
	case c == '<':
		if m := iriRef.FindString(rest); m != "" {
			value, err := unescapeIRI(m[1 : len(m)-1])
			if err != nil {
				return tok, l.errorf("%v", err)
			}
			l.advance(len(m))
			tok.kind, tok.value = tokIRI, value
			return tok, nil
		}
	case c == '?' || c == '$':
		n := nameLength(rest[1:], false)
		if n == 0 {
			return tok, l.errorf("empty variable name")
		}
		tok.kind, tok.value = tokVar, rest[1:1+n]
		l.advance(1 + n)
		return tok, nil
	case c == '"' || c == '\'':
		value, n, err := lexString(rest)
		if err != nil {
			return tok, l.errorf("%v", err)
		}
		tok.kind, tok.value = tokString, value
		l.advance(n)
		return tok, nil
	case c == '@':
		n := 1
		for n < len(rest) && (isASCIILetter(rest[n]) || rest[n] == '-' || (n > 1 && isDigit(rest[n]))) {
			n++
		}
		if n == 1 {
			return tok, l.errorf("empty language tag")
		}
		tok.kind, tok.value = tokLang, rest[1:n]
		l.advance(n)
		return tok, nil
	case isDigit(c) || (c == '.' && len(rest) > 1 && isDigit(rest[1])):
		kind, n := lexNumber(rest)
		tok.kind, tok.value = kind, rest[:n]
		l.advance(n)
		return tok, nil
	case strings.HasPrefix(rest, "_:"):
		n := nameLength(rest[2:], true)
		if n == 0 {
			return tok, l.errorf("empty blank node label")
		}
		tok.kind, tok.value = tokBNode, rest[2:2+n]
		l.advance(2 + n)
		return tok, nil
	}

	if r, _ := utf8.DecodeRuneInString(rest); isNameStart(r) || r == ':' {
		return l.word(tok, rest)
	}

	for _, p := range punctuators {
		if strings.HasPrefix(rest, p) {
			tok.kind, tok.value = tokPunct, p
			l.advance(len(p))
			return tok, nil
		}
	}
	return tok, l.errorf("unexpected character %q", c)
}

// word lexes a keyword or a prefixed name.
func (l *lexer) word(tok token, rest string) (token, error) {
	n := 0
	for n < len(rest) {
		r, size := utf8.DecodeRuneInString(rest[n:])
		switch {
		case r == '\\' && n+1 < len(rest):
			n += 2
			continue
		case r == '%' && n+2 < len(rest):
			n += 3
			continue
		case isNameChar(r) || r == ':' || r == '.':
			n += size
			continue
		}
		break
	}
	for n > 0 && rest[n-1] == '.' {
		n--
	}
	word := rest[:n]
	l.advance(n)

	if strings.Contains(word, ":") {
		tok.kind, tok.value = tokPName, word
		return tok, nil
	}
	tok.kind, tok.value = tokWord, word
	return tok, nil
}

func lexNumber(s string) (tokenKind, int) {
	n := 0
	for n < len(s) && isDigit(s[n]) {
		n++
	}
	kind := tokInteger
	if n < len(s) && s[n] == '.' && n+1 < len(s) && isDigit(s[n+1]) {
		kind = tokDecimal
		n++
		for n < len(s) && isDigit(s[n]) {
			n++
		}
	}
	if n < len(s) && (s[n] == 'e' || s[n] == 'E') {
		m := n + 1
		if m < len(s) && (s[m] == '+' || s[m] == '-') {
			m++
		}
		if m < len(s) && isDigit(s[m]) {
			for m < len(s) && isDigit(s[m]) {
				m++
			}
			return tokDouble, m
		}
	}
	return kind, n
}

// lexString reads any of the four quoted string forms and returns the
// unescaped value and the number of bytes consumed.
func lexString(s string) (string, int, error) {
	quote := s[:1]
	long := strings.HasPrefix(s, strings.Repeat(quote, 3))
	delim := quote
	start := 1
	if long {
		delim = strings.Repeat(quote, 3)
		start = 3
	}

	var b strings.Builder
	i := start
	for i < len(s) {
		if strings.HasPrefix(s[i:], delim) {
			return b.String(), i + len(delim), nil
		}
		c := s[i]
		switch {
		case c == '\\':
			r, n, err := unescape(s[i:])
			if err != nil {
				return "", 0, err
			}
			b.WriteRune(r)
			i += n
		case !long && (c == '\n' || c == '\r'):
			return "", 0, errString("line break in string")
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, errString("unterminated string")
}

type errString string

func (e errString) Error() string { return string(e) }

func unescape(s string) (rune, int, error) {
	if len(s) < 2 {
		return 0, 0, errString("dangling escape")
	}
	switch s[1] {
	case 't':
		return '\t', 2, nil
	case 'n':
		return '\n', 2, nil
	case 'r':
		return '\r', 2, nil
	case 'b':
		return '\b', 2, nil
	case 'f':
		return '\f', 2, nil
	case '"', '\'', '\\':
		return rune(s[1]), 2, nil
	case 'u', 'U':
		n := 4
		if s[1] == 'U' {
			n = 8
		}
		if len(s) < 2+n {
			return 0, 0, errString("short unicode escape")
		}
		v, err := strconv.ParseUint(s[2:2+n], 16, 32)
		if err != nil || !utf8.ValidRune(rune(v)) {
			return 0, 0, errString("invalid unicode escape")
		}
		return rune(v), 2 + n, nil
	}
	return 0, 0, errString("unknown escape \\" + s[1:2])
}

func unescapeIRI(s string) (string, error) {
	if !strings.Contains(s, "\\") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if i+1 >= len(s) || (s[i+1] != 'u' && s[i+1] != 'U') {
			return "", errString("invalid escape in IRI")
		}
		r, n, err := unescape(s[i:])
		if err != nil {
			return "", err
		}
		b.WriteRune(r)
		i += n
	}
	return b.String(), nil
}

// nameLength returns the byte length of the variable or blank node name at
// the start of s. Only blank node labels may contain '-' or '.'.
func nameLength(s string, allowDots bool) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if !isNameChar(r) && !(allowDots && r == '.' && n > 0) || (!allowDots && r == '-') {
			break
		}
		n += size
	}
	for allowDots && n > 0 && s[n-1] == '.' {
		n--
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isASCIILetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isNameStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isNameChar(r rune) bool {
	return r == '_' || r == '-' || r == 0xB7 || unicode.IsLetter(r) || unicode.IsDigit(r) ||
		unicode.Is(unicode.Mn, r)
}
