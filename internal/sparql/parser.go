package sparql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

const (
	rdfNS    = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	rdfType  = rdfNS + "type"
	rdfFirst = rdfNS + "first"
	rdfRest  = rdfNS + "rest"
	rdfNil   = rdfNS + "nil"

	// Variables standing for blank nodes in patterns carry this prefix,
	// which no user variable name can contain.
	bnodeVarPrefix = "_:"
)

var builtins = map[string]bool{
	"STR": true, "LANG": true, "LANGMATCHES": true, "DATATYPE": true, "BOUND": true,
	"IRI": true, "URI": true, "BNODE": true, "RAND": true, "ABS": true, "CEIL": true,
	"FLOOR": true, "ROUND": true, "CONCAT": true, "STRLEN": true, "UCASE": true,
	"LCASE": true, "ENCODE_FOR_URI": true, "CONTAINS": true, "STRSTARTS": true,
	"STRENDS": true, "STRBEFORE": true, "STRAFTER": true, "YEAR": true, "MONTH": true,
	"DAY": true, "HOURS": true, "MINUTES": true, "SECONDS": true, "TIMEZONE": true,
	"TZ": true, "NOW": true, "UUID": true, "STRUUID": true, "MD5": true, "SHA1": true,
	"SHA256": true, "SHA384": true, "SHA512": true, "COALESCE": true, "IF": true,
	"STRLANG": true, "STRDT": true, "SAMETERM": true, "ISIRI": true, "ISURI": true,
	"ISBLANK": true, "ISLITERAL": true, "ISNUMERIC": true, "REGEX": true,
	"SUBSTR": true, "REPLACE": true,
}

var aggregates = map[string]bool{
	"COUNT": true, "SUM": true, "MIN": true, "MAX": true, "AVG": true,
	"SAMPLE": true, "GROUP_CONCAT": true,
}

type parser struct {
	toks     []token
	pos      int
	base     *url.URL
	prefixes map[string]string
	anon     int
	// template makes blank nodes constant terms instead of variables.
	template   bool
	aggregated bool
}

func newParser(text, baseIRI string) (*parser, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, prefixes: make(map[string]string)}
	if baseIRI != "" {
		base, err := url.Parse(baseIRI)
		if err != nil {
			return nil, fmt.Errorf("invalid base IRI %q: %w", baseIRI, err)
		}
		p.base = base
	}
	return p, nil
}

// ParseQuery parses a SPARQL query. Relative IRIs resolve against baseIRI
// unless the query declares its own BASE.
func ParseQuery(text, baseIRI string) (*Query, error) {
	p, err := newParser(text, baseIRI)
	if err != nil {
		return nil, err
	}
	if err := p.prologue(); err != nil {
		return nil, err
	}
	q, err := p.query()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.unexpected()
	}
	return q, nil
}

// ParseUpdate parses a SPARQL update request.
func ParseUpdate(text, baseIRI string) (*Update, error) {
	p, err := newParser(text, baseIRI)
	if err != nil {
		return nil, err
	}
	u := &Update{}
	for {
		if err := p.prologue(); err != nil {
			return nil, err
		}
		if p.peek().kind == tokEOF {
			return u, nil
		}
		op, err := p.operation()
		if err != nil {
			return nil, err
		}
		u.Operations = append(u.Operations, op)
		if !p.acceptPunct(";") {
			break
		}
	}
	if err := p.prologue(); err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.unexpected()
	}
	return u, nil
}

// Token helpers.

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(format string, args ...any) error {
	tok := p.peek()
	return newSyntaxError(tok.line, tok.col, format, args...)
}

func (p *parser) unexpected() error {
	tok := p.peek()
	if tok.kind == tokEOF {
		return p.errorf("unexpected end of input")
	}
	return p.errorf("unexpected %q", tok.value)
}

func (p *parser) isWord(kw string) bool {
	tok := p.peek()
	return tok.kind == tokWord && strings.EqualFold(tok.value, kw)
}

func (p *parser) acceptWord(kw string) bool {
	if p.isWord(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectWord(kw string) error {
	if !p.acceptWord(kw) {
		return p.errorf("expected %s", kw)
	}
	return nil
}

func (p *parser) isPunct(s string) bool {
	tok := p.peek()
	return tok.kind == tokPunct && tok.value == s
}

func (p *parser) acceptPunct(s string) bool {
	if p.isPunct(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectPunct(s string) error {
	if !p.acceptPunct(s) {
		if p.peek().kind == tokEOF {
			return p.errorf("expected '%s' before end of input", s)
		}
		return p.errorf("expected '%s' but found %q", s, p.peek().value)
	}
	return nil
}

// Prologue and IRIs.

func (p *parser) prologue() error {
	for {
		switch {
		case p.acceptWord("BASE"):
			tok := p.next()
			if tok.kind != tokIRI {
				return p.errorf("expected IRI after BASE")
			}
			base, err := url.Parse(p.resolve(tok.value))
			if err != nil {
				return p.errorf("invalid BASE IRI: %v", err)
			}
			p.base = base
		case p.acceptWord("PREFIX"):
			name := p.next()
			if name.kind != tokPName || !strings.HasSuffix(name.value, ":") ||
				strings.Count(name.value, ":") != 1 {
				return p.errorf("expected prefix name after PREFIX")
			}
			iri := p.next()
			if iri.kind != tokIRI {
				return p.errorf("expected IRI for prefix %s", name.value)
			}
			p.prefixes[strings.TrimSuffix(name.value, ":")] = p.resolve(iri.value)
		default:
			return nil
		}
	}
}

func (p *parser) resolve(ref string) string {
	if p.base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return p.base.ResolveReference(u).String()
}

func (p *parser) expandPName(name string) (string, error) {
	prefix, local, _ := strings.Cut(name, ":")
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", p.errorf("the prefix %s: is not defined", prefix)
	}
	if strings.Contains(local, "\\") {
		var b strings.Builder
		for i := 0; i < len(local); i++ {
			if local[i] == '\\' && i+1 < len(local) {
				i++
			}
			b.WriteByte(local[i])
		}
		local = b.String()
	}
	return ns + local, nil
}

func (p *parser) isIRIStart() bool {
	kind := p.peek().kind
	return kind == tokIRI || kind == tokPName
}

func (p *parser) iri() (string, error) {
	tok := p.peek()
	switch tok.kind {
	case tokIRI:
		p.pos++
		return p.resolve(tok.value), nil
	case tokPName:
		iri, err := p.expandPName(tok.value)
		if err != nil {
			return "", err
		}
		p.pos++
		return iri, nil
	}
	return "", p.errorf("expected IRI")
}

// Queries.

func (p *parser) query() (*Query, error) {
	q := &Query{Limit: -1}
	constructWhere := false

	switch {
	case p.acceptWord("SELECT"):
		q.Form = FormSelect
		if err := p.selectClause(q); err != nil {
			return nil, err
		}
	case p.acceptWord("CONSTRUCT"):
		q.Form = FormConstruct
		if p.isPunct("{") {
			tmpl, err := p.triplesTemplate()
			if err != nil {
				return nil, err
			}
			q.Template = tmpl
		} else {
			constructWhere = true
		}
	case p.acceptWord("DESCRIBE"):
		q.Form = FormDescribe
		if !p.acceptPunct("*") {
			for p.peek().kind == tokVar || p.isIRIStart() {
				n, err := p.varOrIRI()
				if err != nil {
					return nil, err
				}
				q.Describe = append(q.Describe, n)
			}
			if len(q.Describe) == 0 {
				return nil, p.errorf("expected variables or IRIs after DESCRIBE")
			}
		}
	case p.acceptWord("ASK"):
		q.Form = FormAsk
	default:
		return nil, p.errorf("expected SELECT, CONSTRUCT, DESCRIBE or ASK")
	}

	clause, err := p.datasetClauses("FROM")
	if err != nil {
		return nil, err
	}
	q.Dataset = clause

	hasWhere := p.acceptWord("WHERE")
	switch {
	case constructWhere:
		if !hasWhere {
			return nil, p.errorf("expected WHERE")
		}
		where, err := p.groupGraphPattern()
		if err != nil {
			return nil, err
		}
		tmpl, ok := constructWhereTemplate(where)
		if !ok {
			return nil, p.errorf("CONSTRUCT WHERE only allows a basic graph pattern")
		}
		q.Template = tmpl
		q.Where = where
	case hasWhere || p.isPunct("{"):
		where, err := p.groupGraphPattern()
		if err != nil {
			return nil, err
		}
		q.Where = where
	case q.Form == FormDescribe:
		q.Where = &Group{}
	default:
		return nil, p.errorf("expected WHERE clause")
	}

	if err := p.solutionModifiers(q); err != nil {
		return nil, err
	}
	if p.acceptWord("VALUES") {
		values, err := p.dataBlock()
		if err != nil {
			return nil, err
		}
		q.Where.Elements = append(q.Where.Elements, values)
	}

	q.aggregated = p.aggregated || len(q.GroupBy) > 0
	q.whereVars = patternVars(q.Where, nil)
	if q.aggregated {
		for _, proj := range q.Projection {
			if proj.Expr == nil && !groupedVar(q.GroupBy, proj.Var) {
				return nil, p.errorf("variable ?%s is not grouped", proj.Var)
			}
		}
		if len(q.Projection) == 0 && q.Form == FormSelect {
			return nil, p.errorf("SELECT * is not allowed with GROUP BY")
		}
	}
	return q, nil
}

func groupedVar(groupBy []Projection, name string) bool {
	for _, g := range groupBy {
		if g.Var == name {
			return true
		}
	}
	return false
}

func constructWhereTemplate(where *Group) ([]TriplePattern, bool) {
	if len(where.Filters) > 0 {
		return nil, false
	}
	var tmpl []TriplePattern
	for _, el := range where.Elements {
		bgp, ok := el.(*BGP)
		if !ok {
			return nil, false
		}
		tmpl = append(tmpl, bgp.Triples...)
	}
	return tmpl, true
}

func (p *parser) selectClause(q *Query) error {
	switch {
	case p.acceptWord("DISTINCT"):
		q.Distinct = true
	case p.acceptWord("REDUCED"):
		q.Reduced = true
	}
	if p.acceptPunct("*") {
		return nil
	}

	seen := make(map[string]bool)
	for {
		var proj Projection
		switch {
		case p.peek().kind == tokVar:
			proj.Var = p.next().value
		case p.acceptPunct("("):
			expr, err := p.expression()
			if err != nil {
				return err
			}
			if err := p.expectWord("AS"); err != nil {
				return err
			}
			tok := p.next()
			if tok.kind != tokVar {
				return p.errorf("expected variable after AS")
			}
			if err := p.expectPunct(")"); err != nil {
				return err
			}
			proj = Projection{Var: tok.value, Expr: expr}
		default:
			if len(q.Projection) == 0 {
				return p.errorf("expected variables or * after SELECT")
			}
			return nil
		}
		if seen[proj.Var] {
			return p.errorf("variable ?%s is projected twice", proj.Var)
		}
		seen[proj.Var] = true
		q.Projection = append(q.Projection, proj)
	}
}

func (p *parser) datasetClauses(keyword string) (*DatasetClause, error) {
	var clause *DatasetClause
	for p.acceptWord(keyword) {
		if clause == nil {
			clause = &DatasetClause{}
		}
		named := p.acceptWord("NAMED")
		iri, err := p.iri()
		if err != nil {
			return nil, err
		}
		if named {
			clause.Named = append(clause.Named, iri)
		} else {
			clause.Default = append(clause.Default, iri)
		}
	}
	return clause, nil
}

func (p *parser) solutionModifiers(q *Query) error {
	if p.acceptWord("GROUP") {
		if err := p.expectWord("BY"); err != nil {
			return err
		}
		for {
			cond, ok, err := p.groupCondition(len(q.GroupBy))
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			q.GroupBy = append(q.GroupBy, cond)
		}
		if len(q.GroupBy) == 0 {
			return p.errorf("expected GROUP BY condition")
		}
	}

	if p.acceptWord("HAVING") {
		for {
			expr, ok, err := p.constraint()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			q.Having = append(q.Having, expr)
		}
		if len(q.Having) == 0 {
			return p.errorf("expected HAVING condition")
		}
	}

	if p.acceptWord("ORDER") {
		if err := p.expectWord("BY"); err != nil {
			return err
		}
		for {
			cond, ok, err := p.orderCondition()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			q.OrderBy = append(q.OrderBy, cond)
		}
		if len(q.OrderBy) == 0 {
			return p.errorf("expected ORDER BY condition")
		}
	}

	for range 2 {
		switch {
		case p.acceptWord("LIMIT"):
			n, err := p.nonNegativeInteger()
			if err != nil {
				return err
			}
			q.Limit = n
		case p.acceptWord("OFFSET"):
			n, err := p.nonNegativeInteger()
			if err != nil {
				return err
			}
			q.Offset = n
		}
	}
	return nil
}

func (p *parser) nonNegativeInteger() (int, error) {
	tok := p.next()
	if tok.kind != tokInteger {
		return 0, p.errorf("expected integer")
	}
	n, err := strconv.Atoi(tok.value)
	if err != nil {
		return 0, p.errorf("invalid integer %s", tok.value)
	}
	return n, nil
}

func (p *parser) groupCondition(index int) (Projection, bool, error) {
	switch {
	case p.peek().kind == tokVar:
		return Projection{Var: p.next().value}, true, nil
	case p.acceptPunct("("):
		expr, err := p.expression()
		if err != nil {
			return Projection{}, false, err
		}
		name := fmt.Sprintf("%sgroup%d", bnodeVarPrefix, index)
		if p.acceptWord("AS") {
			tok := p.next()
			if tok.kind != tokVar {
				return Projection{}, false, p.errorf("expected variable after AS")
			}
			name = tok.value
		}
		if err := p.expectPunct(")"); err != nil {
			return Projection{}, false, err
		}
		return Projection{Var: name, Expr: expr}, true, nil
	}
	expr, ok, err := p.callExpression()
	if !ok || err != nil {
		return Projection{}, ok, err
	}
	return Projection{Var: fmt.Sprintf("%sgroup%d", bnodeVarPrefix, index), Expr: expr}, true, nil
}

func (p *parser) orderCondition() (OrderCondition, bool, error) {
	desc := p.isWord("DESC")
	if desc || p.isWord("ASC") {
		p.pos++
		expr, err := p.bracketted()
		if err != nil {
			return OrderCondition{}, false, err
		}
		return OrderCondition{Expr: expr, Descending: desc}, true, nil
	}
	if p.peek().kind == tokVar {
		return OrderCondition{Expr: exprVar{name: p.next().value}}, true, nil
	}
	expr, ok, err := p.constraint()
	return OrderCondition{Expr: expr}, ok, err
}

// Group graph patterns.

func (p *parser) groupGraphPattern() (*Group, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	if p.isWord("SELECT") {
		return nil, fmt.Errorf("%w: sub-queries", ErrUnsupported)
	}

	g := &Group{}
	for !p.acceptPunct("}") {
		switch {
		case p.peek().kind == tokEOF:
			return nil, p.errorf("expected '}' before end of input")
		case p.acceptPunct("."):
		case p.acceptWord("FILTER"):
			expr, ok, err := p.constraint()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, p.errorf("expected FILTER condition")
			}
			g.Filters = append(g.Filters, expr)
		case p.acceptWord("OPTIONAL"):
			inner, err := p.groupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.Elements = append(g.Elements, &Optional{Pattern: inner})
		case p.acceptWord("MINUS"):
			inner, err := p.groupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.Elements = append(g.Elements, &Minus{Pattern: inner})
		case p.acceptWord("GRAPH"):
			name, err := p.varOrIRI()
			if err != nil {
				return nil, err
			}
			inner, err := p.groupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.Elements = append(g.Elements, &GraphPattern{Name: name, Pattern: inner})
		case p.acceptWord("BIND"):
			bind, err := p.bind()
			if err != nil {
				return nil, err
			}
			g.Elements = append(g.Elements, bind)
		case p.acceptWord("VALUES"):
			values, err := p.dataBlock()
			if err != nil {
				return nil, err
			}
			g.Elements = append(g.Elements, values)
		case p.isWord("SERVICE"):
			return nil, fmt.Errorf("%w: SERVICE", ErrUnsupported)
		case p.isPunct("{"):
			first, err := p.groupGraphPattern()
			if err != nil {
				return nil, err
			}
			if !p.isWord("UNION") {
				g.Elements = append(g.Elements, first)
				continue
			}
			union := &Union{Alternatives: []*Group{first}}
			for p.acceptWord("UNION") {
				alt, err := p.groupGraphPattern()
				if err != nil {
					return nil, err
				}
				union.Alternatives = append(union.Alternatives, alt)
			}
			g.Elements = append(g.Elements, union)
		default:
			var triples []TriplePattern
			if err := p.triplesSameSubject(&triples); err != nil {
				return nil, err
			}
			if n := len(g.Elements); n > 0 {
				if bgp, ok := g.Elements[n-1].(*BGP); ok {
					bgp.Triples = append(bgp.Triples, triples...)
					continue
				}
			}
			g.Elements = append(g.Elements, &BGP{Triples: triples})
		}
	}
	return g, nil
}

func (p *parser) bind() (*Bind, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	if err := p.expectWord("AS"); err != nil {
		return nil, err
	}
	tok := p.next()
	if tok.kind != tokVar {
		return nil, p.errorf("expected variable after AS")
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &Bind{Expr: expr, Var: tok.value}, nil
}

func (p *parser) dataBlock() (*Values, error) {
	values := &Values{}
	if p.peek().kind == tokVar {
		values.Vars = []string{p.next().value}
		if err := p.expectPunct("{"); err != nil {
			return nil, err
		}
		for !p.acceptPunct("}") {
			t, err := p.dataValue()
			if err != nil {
				return nil, err
			}
			values.Rows = append(values.Rows, []rdf.Term{t})
		}
		return values, nil
	}

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for !p.acceptPunct(")") {
		tok := p.next()
		if tok.kind != tokVar {
			return nil, p.errorf("expected variable in VALUES")
		}
		values.Vars = append(values.Vars, tok.value)
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.acceptPunct("}") {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var row []rdf.Term
		for !p.acceptPunct(")") {
			t, err := p.dataValue()
			if err != nil {
				return nil, err
			}
			row = append(row, t)
		}
		if len(row) != len(values.Vars) {
			return nil, p.errorf("VALUES row has %d values for %d variables", len(row), len(values.Vars))
		}
		values.Rows = append(values.Rows, row)
	}
	return values, nil
}

func (p *parser) dataValue() (rdf.Term, error) {
	if p.acceptWord("UNDEF") {
		return nil, nil
	}
	n, err := p.graphTerm()
	if err != nil {
		return nil, err
	}
	if _, ok := n.Term.(rdf.BlankNode); ok || n.IsVar() {
		return nil, p.errorf("blank nodes are not allowed in VALUES")
	}
	return n.Term, nil
}

// Triples.

func (p *parser) triplesTemplate() ([]TriplePattern, error) {
	prev := p.template
	p.template = true
	defer func() { p.template = prev }()

	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var triples []TriplePattern
	for !p.acceptPunct("}") {
		if p.acceptPunct(".") {
			continue
		}
		if err := p.triplesSameSubject(&triples); err != nil {
			return nil, err
		}
	}
	return triples, nil
}

func (p *parser) triplesSameSubject(out *[]TriplePattern) error {
	startsBlank := p.isPunct("[")
	subject, err := p.graphNode(out)
	if err != nil {
		return err
	}
	if startsBlank && p.isPropertyListEnd() {
		return nil
	}
	return p.propertyList(subject, out)
}

func (p *parser) isPropertyListEnd() bool {
	return p.isPunct(".") || p.isPunct("}") || p.peek().kind == tokEOF ||
		(p.peek().kind == tokWord && !p.isWord("a"))
}

func (p *parser) propertyList(subject Node, out *[]TriplePattern) error {
	for {
		verb, err := p.verb()
		if err != nil {
			return err
		}
		for {
			object, err := p.graphNode(out)
			if err != nil {
				return err
			}
			*out = append(*out, TriplePattern{S: subject, P: verb, O: object})
			if !p.acceptPunct(",") {
				break
			}
		}
		if !p.acceptPunct(";") {
			return nil
		}
		for p.acceptPunct(";") {
		}
		if !p.isVerbStart() {
			return nil
		}
	}
}

func (p *parser) isVerbStart() bool {
	return p.isWord("a") || p.peek().kind == tokVar || p.isIRIStart()
}

func (p *parser) verb() (Node, error) {
	if p.isPunct("^") || p.isPunct("(") || p.isPunct("!") {
		return Node{}, fmt.Errorf("%w: property paths", ErrUnsupported)
	}
	var n Node
	switch {
	case p.acceptWord("a"):
		n = termNode(rdf.IRI{Value: rdfType})
	case p.peek().kind == tokVar:
		n = varNode(p.next().value)
	case p.isIRIStart():
		iri, err := p.iri()
		if err != nil {
			return Node{}, err
		}
		n = termNode(rdf.IRI{Value: iri})
	default:
		return Node{}, p.errorf("expected predicate")
	}
	if p.isPunct("/") || p.isPunct("|") || p.isPunct("*") || p.isPunct("?") {
		return Node{}, fmt.Errorf("%w: property paths", ErrUnsupported)
	}
	return n, nil
}

func (p *parser) newBlank(label string) Node {
	if label == "" {
		p.anon++
		label = fmt.Sprintf("#%d", p.anon)
	}
	if p.template {
		return termNode(rdf.BlankNode{ID: label})
	}
	return varNode(bnodeVarPrefix + label)
}

// graphNode parses a subject or object, emitting the triples of nested blank
// node property lists and collections into out.
func (p *parser) graphNode(out *[]TriplePattern) (Node, error) {
	switch {
	case p.isPunct("["):
		p.pos++
		node := p.newBlank("")
		if p.acceptPunct("]") {
			return node, nil
		}
		if err := p.propertyList(node, out); err != nil {
			return Node{}, err
		}
		return node, p.expectPunct("]")
	case p.isPunct("("):
		p.pos++
		var items []Node
		for !p.acceptPunct(")") {
			item, err := p.graphNode(out)
			if err != nil {
				return Node{}, err
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			return termNode(rdf.IRI{Value: rdfNil}), nil
		}
		head := p.newBlank("")
		cur := head
		for i, item := range items {
			*out = append(*out, TriplePattern{S: cur, P: termNode(rdf.IRI{Value: rdfFirst}), O: item})
			next := termNode(rdf.IRI{Value: rdfNil})
			if i < len(items)-1 {
				next = p.newBlank("")
			}
			*out = append(*out, TriplePattern{S: cur, P: termNode(rdf.IRI{Value: rdfRest}), O: next})
			cur = next
		}
		return head, nil
	case p.peek().kind == tokVar:
		return varNode(p.next().value), nil
	}
	return p.graphTerm()
}

func (p *parser) varOrIRI() (Node, error) {
	if p.peek().kind == tokVar {
		return varNode(p.next().value), nil
	}
	iri, err := p.iri()
	if err != nil {
		return Node{}, err
	}
	return termNode(rdf.IRI{Value: iri}), nil
}

// graphTerm parses a constant term: IRI, literal, number, boolean or blank node.
func (p *parser) graphTerm() (Node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokIRI, tokPName:
		iri, err := p.iri()
		if err != nil {
			return Node{}, err
		}
		return termNode(rdf.IRI{Value: iri}), nil
	case tokBNode:
		p.pos++
		return p.newBlank(tok.value), nil
	case tokString:
		lit, err := p.literal()
		if err != nil {
			return Node{}, err
		}
		return termNode(lit), nil
	case tokInteger, tokDecimal, tokDouble:
		p.pos++
		return termNode(numericLiteral(tok, "")), nil
	case tokPunct:
		if (tok.value == "+" || tok.value == "-") && isNumberToken(p.peekAt(1)) {
			p.pos++
			return termNode(numericLiteral(p.next(), tok.value)), nil
		}
		if tok.value == "(" && p.peekAt(1).kind == tokPunct && p.peekAt(1).value == ")" {
			p.pos += 2
			return termNode(rdf.IRI{Value: rdfNil}), nil
		}
	case tokWord:
		switch strings.ToLower(tok.value) {
		case "true", "false":
			p.pos++
			return termNode(rdf.Literal{
				Lexical:  strings.ToLower(tok.value),
				Datatype: rdf.IRI{Value: rdfformat.XSDBoolean},
			}), nil
		}
	}
	return Node{}, p.unexpected()
}

func isNumberToken(tok token) bool {
	return tok.kind == tokInteger || tok.kind == tokDecimal || tok.kind == tokDouble
}

func numericLiteral(tok token, sign string) rdf.Literal {
	lexical := tok.value
	if sign == "-" {
		lexical = "-" + lexical
	}
	dt := rdfformat.XSDInteger
	switch tok.kind {
	case tokDecimal:
		dt = rdfformat.XSDDecimal
	case tokDouble:
		dt = rdfformat.XSDDouble
	}
	return rdf.Literal{Lexical: lexical, Datatype: rdf.IRI{Value: dt}}
}

func (p *parser) literal() (rdf.Literal, error) {
	lit := rdf.Literal{Lexical: p.next().value}
	switch {
	case p.peek().kind == tokLang:
		lit.Lang = strings.ToLower(p.next().value)
	case p.acceptPunct("^^"):
		dt, err := p.iri()
		if err != nil {
			return rdf.Literal{}, err
		}
		lit.Datatype = rdf.IRI{Value: dt}
	}
	return rdfformat.Normalize(lit).(rdf.Literal), nil
}

// Expressions.

func (p *parser) constraint() (Expr, bool, error) {
	if p.isPunct("(") {
		expr, err := p.bracketted()
		return expr, err == nil, err
	}
	return p.callExpression()
}

func (p *parser) bracketted() (Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	return expr, p.expectPunct(")")
}

// callExpression parses a builtin, aggregate or IRI function call. ok is
// false when the next token does not start one.
func (p *parser) callExpression() (Expr, bool, error) {
	tok := p.peek()
	switch tok.kind {
	case tokWord:
		name := strings.ToUpper(tok.value)
		switch {
		case name == "NOT" && p.peekAt(1).kind == tokWord && strings.EqualFold(p.peekAt(1).value, "EXISTS"):
			p.pos += 2
			g, err := p.groupGraphPattern()
			return exprExists{pattern: g, not: true}, true, err
		case name == "EXISTS":
			p.pos++
			g, err := p.groupGraphPattern()
			return exprExists{pattern: g}, true, err
		case aggregates[name]:
			p.pos++
			expr, err := p.aggregate(name)
			return expr, true, err
		case builtins[name]:
			p.pos++
			args, err := p.argList()
			return exprCall{name: name, args: args}, true, err
		}
	case tokIRI, tokPName:
		if p.peekAt(1).kind == tokPunct && p.peekAt(1).value == "(" {
			iri, err := p.iri()
			if err != nil {
				return nil, true, err
			}
			args, err := p.argList()
			return exprCall{name: iri, args: args}, true, err
		}
	}
	return nil, false, nil
}

func (p *parser) argList() ([]Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []Expr
	if p.acceptPunct(")") {
		return args, nil
	}
	for {
		arg, err := p.expression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.acceptPunct(")") {
			return args, nil
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) aggregate(name string) (Expr, error) {
	p.aggregated = true
	agg := &exprAggregate{name: name, separator: " "}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	agg.distinct = p.acceptWord("DISTINCT")
	if name == "COUNT" && p.acceptPunct("*") {
		return agg, p.expectPunct(")")
	}
	arg, err := p.expression()
	if err != nil {
		return nil, err
	}
	agg.arg = arg
	if name == "GROUP_CONCAT" && p.acceptPunct(";") {
		if err := p.expectWord("SEPARATOR"); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		tok := p.next()
		if tok.kind != tokString {
			return nil, p.errorf("expected separator string")
		}
		agg.separator = tok.value
	}
	return agg, p.expectPunct(")")
}

func (p *parser) expression() (Expr, error) {
	left, err := p.andExpression()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct("||") {
		right, err := p.andExpression()
		if err != nil {
			return nil, err
		}
		left = exprOp{op: "||", args: []Expr{left, right}}
	}
	return left, nil
}

func (p *parser) andExpression() (Expr, error) {
	left, err := p.relational()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct("&&") {
		right, err := p.relational()
		if err != nil {
			return nil, err
		}
		left = exprOp{op: "&&", args: []Expr{left, right}}
	}
	return left, nil
}

func (p *parser) relational() (Expr, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"=", "!=", "<=", ">=", "<", ">"} {
		if p.acceptPunct(op) {
			right, err := p.additive()
			if err != nil {
				return nil, err
			}
			return exprOp{op: op, args: []Expr{left, right}}, nil
		}
	}

	not := false
	if p.isWord("NOT") && p.peekAt(1).kind == tokWord && strings.EqualFold(p.peekAt(1).value, "IN") {
		p.pos++
		not = true
	}
	if p.acceptWord("IN") {
		list, err := p.argList()
		if err != nil {
			return nil, err
		}
		return exprIn{x: left, list: list, not: not}, nil
	}
	return left, nil
}

func (p *parser) additive() (Expr, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.acceptPunct("+"):
			op = "+"
		case p.acceptPunct("-"):
			op = "-"
		default:
			return left, nil
		}
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = exprOp{op: op, args: []Expr{left, right}}
	}
}

func (p *parser) multiplicative() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.acceptPunct("*"):
			op = "*"
		case p.acceptPunct("/"):
			op = "/"
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = exprOp{op: op, args: []Expr{left, right}}
	}
}

func (p *parser) unary() (Expr, error) {
	for _, op := range []string{"!", "-", "+"} {
		if p.acceptPunct(op) {
			x, err := p.primary()
			if err != nil {
				return nil, err
			}
			return exprOp{op: "u" + op, args: []Expr{x}}, nil
		}
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	if p.isPunct("(") {
		return p.bracketted()
	}
	if p.peek().kind == tokVar {
		return exprVar{name: p.next().value}, nil
	}
	expr, ok, err := p.callExpression()
	if err != nil {
		return nil, err
	}
	if ok {
		return expr, nil
	}
	n, err := p.graphTerm()
	if err != nil {
		return nil, err
	}
	if n.IsVar() {
		return nil, p.errorf("blank nodes are not allowed in expressions")
	}
	if _, ok := n.Term.(rdf.BlankNode); ok {
		return nil, p.errorf("blank nodes are not allowed in expressions")
	}
	return exprConst{term: n.Term}, nil
}

// Updates.

func (p *parser) operation() (Operation, error) {
	switch {
	case p.isWord("INSERT") && p.peekAt(1).kind == tokWord && strings.EqualFold(p.peekAt(1).value, "DATA"):
		p.pos += 2
		quads, err := p.quadData()
		if err != nil {
			return nil, err
		}
		return &InsertData{Quads: quads}, nil
	case p.isWord("DELETE") && p.peekAt(1).kind == tokWord && strings.EqualFold(p.peekAt(1).value, "DATA"):
		p.pos += 2
		quads, err := p.quadData()
		if err != nil {
			return nil, err
		}
		for _, q := range quads {
			if hasBlank(q) {
				return nil, p.errorf("blank nodes are not allowed in DELETE DATA")
			}
		}
		return &DeleteData{Quads: quads}, nil
	case p.isWord("DELETE") && p.peekAt(1).kind == tokWord && strings.EqualFold(p.peekAt(1).value, "WHERE"):
		p.pos += 2
		quads, err := p.quadPattern(false)
		if err != nil {
			return nil, err
		}
		return &Modify{Delete: quads, Where: quadsToGroup(quads)}, nil
	case p.isWord("WITH") || p.isWord("DELETE") || p.isWord("INSERT"):
		return p.modify()
	case p.acceptWord("CLEAR"):
		silent := p.acceptWord("SILENT")
		ref, err := p.graphRefAll()
		if err != nil {
			return nil, err
		}
		return &Clear{Target: ref, Silent: silent}, nil
	case p.acceptWord("DROP"):
		silent := p.acceptWord("SILENT")
		ref, err := p.graphRefAll()
		if err != nil {
			return nil, err
		}
		return &Drop{Target: ref, Silent: silent}, nil
	case p.acceptWord("CREATE"):
		silent := p.acceptWord("SILENT")
		if err := p.expectWord("GRAPH"); err != nil {
			return nil, err
		}
		iri, err := p.iri()
		if err != nil {
			return nil, err
		}
		return &Create{Graph: rdf.IRI{Value: iri}, Silent: silent}, nil
	case p.isWord("ADD") || p.isWord("MOVE") || p.isWord("COPY"):
		op := strings.ToUpper(p.next().value)
		silent := p.acceptWord("SILENT")
		from, err := p.graphOrDefault()
		if err != nil {
			return nil, err
		}
		if err := p.expectWord("TO"); err != nil {
			return nil, err
		}
		to, err := p.graphOrDefault()
		if err != nil {
			return nil, err
		}
		return &Transfer{Op: op, From: from, To: to, Silent: silent}, nil
	case p.isWord("LOAD"):
		return nil, fmt.Errorf("%w: LOAD", ErrUnsupported)
	}
	return nil, p.errorf("expected an update operation")
}

func (p *parser) modify() (Operation, error) {
	m := &Modify{}
	if p.acceptWord("WITH") {
		iri, err := p.iri()
		if err != nil {
			return nil, err
		}
		m.With = rdf.IRI{Value: iri}
	}
	if p.acceptWord("DELETE") {
		quads, err := p.quadPattern(true)
		if err != nil {
			return nil, err
		}
		for _, q := range quads {
			if hasBlank(q) {
				return nil, p.errorf("blank nodes are not allowed in DELETE templates")
			}
		}
		m.Delete = quads
	}
	if p.acceptWord("INSERT") {
		quads, err := p.quadPattern(true)
		if err != nil {
			return nil, err
		}
		m.Insert = quads
	}
	if m.Delete == nil && m.Insert == nil {
		return nil, p.errorf("expected DELETE or INSERT")
	}

	using, err := p.datasetClauses("USING")
	if err != nil {
		return nil, err
	}
	m.Using = using
	if err := p.expectWord("WHERE"); err != nil {
		return nil, err
	}
	where, err := p.groupGraphPattern()
	if err != nil {
		return nil, err
	}
	m.Where = where
	return m, nil
}

func hasBlank(q QuadTemplate) bool {
	for _, n := range []Node{q.S, q.P, q.O, q.Graph} {
		if _, ok := n.Term.(rdf.BlankNode); ok {
			return true
		}
		if strings.HasPrefix(n.Var, bnodeVarPrefix) {
			return true
		}
	}
	return false
}

func (p *parser) quadData() ([]QuadTemplate, error) {
	quads, err := p.quadPattern(true)
	if err != nil {
		return nil, err
	}
	for _, q := range quads {
		if q.S.IsVar() || q.P.IsVar() || q.O.IsVar() || q.Graph.IsVar() {
			return nil, p.errorf("variables are not allowed in data blocks")
		}
	}
	return quads, nil
}

// quadPattern parses { triples GRAPH g { triples } ... }.
func (p *parser) quadPattern(template bool) ([]QuadTemplate, error) {
	prev := p.template
	p.template = template
	defer func() { p.template = prev }()

	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var quads []QuadTemplate
	appendTriples := func(triples []TriplePattern, graph Node) {
		for _, t := range triples {
			quads = append(quads, QuadTemplate{TriplePattern: t, Graph: graph})
		}
	}
	for !p.acceptPunct("}") {
		switch {
		case p.peek().kind == tokEOF:
			return nil, p.errorf("expected '}' before end of input")
		case p.acceptPunct("."):
		case p.acceptWord("GRAPH"):
			graph, err := p.varOrIRI()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("{"); err != nil {
				return nil, err
			}
			var triples []TriplePattern
			for !p.acceptPunct("}") {
				if p.acceptPunct(".") {
					continue
				}
				if err := p.triplesSameSubject(&triples); err != nil {
					return nil, err
				}
			}
			appendTriples(triples, graph)
		default:
			var triples []TriplePattern
			if err := p.triplesSameSubject(&triples); err != nil {
				return nil, err
			}
			appendTriples(triples, Node{})
		}
	}
	return quads, nil
}

func quadsToGroup(quads []QuadTemplate) *Group {
	g := &Group{}
	var defaultBGP *BGP
	graphs := make(map[Node]*BGP)
	for _, q := range quads {
		if q.Graph.isZero() {
			if defaultBGP == nil {
				defaultBGP = &BGP{}
				g.Elements = append(g.Elements, defaultBGP)
			}
			defaultBGP.Triples = append(defaultBGP.Triples, q.TriplePattern)
			continue
		}
		bgp, ok := graphs[q.Graph]
		if !ok {
			bgp = &BGP{}
			graphs[q.Graph] = bgp
			g.Elements = append(g.Elements, &GraphPattern{Name: q.Graph, Pattern: &Group{Elements: []Pattern{bgp}}})
		}
		bgp.Triples = append(bgp.Triples, q.TriplePattern)
	}
	return g
}

func (p *parser) graphRefAll() (GraphRef, error) {
	switch {
	case p.acceptWord("DEFAULT"):
		return GraphRef{Kind: RefDefault}, nil
	case p.acceptWord("NAMED"):
		return GraphRef{Kind: RefNamed}, nil
	case p.acceptWord("ALL"):
		return GraphRef{Kind: RefAll}, nil
	case p.acceptWord("GRAPH"):
		iri, err := p.iri()
		if err != nil {
			return GraphRef{}, err
		}
		return GraphRef{Kind: RefGraph, Graph: rdf.IRI{Value: iri}}, nil
	}
	return GraphRef{}, p.errorf("expected GRAPH, DEFAULT, NAMED or ALL")
}

func (p *parser) graphOrDefault() (GraphRef, error) {
	if p.acceptWord("DEFAULT") {
		return GraphRef{Kind: RefDefault}, nil
	}
	p.acceptWord("GRAPH")
	iri, err := p.iri()
	if err != nil {
		return GraphRef{}, err
	}
	return GraphRef{Kind: RefGraph, Graph: rdf.IRI{Value: iri}}, nil
}

// patternVars lists the variables a pattern can bind, in order of first
// appearance, skipping blank node variables.
func patternVars(g *Group, vars []string) []string {
	add := func(name string) {
		if name == "" || strings.HasPrefix(name, bnodeVarPrefix) {
			return
		}
		for _, v := range vars {
			if v == name {
				return
			}
		}
		vars = append(vars, name)
	}
	for _, el := range g.Elements {
		switch el := el.(type) {
		case *BGP:
			for _, t := range el.Triples {
				add(t.S.Var)
				add(t.P.Var)
				add(t.O.Var)
			}
		case *Group:
			vars = patternVars(el, vars)
		case *Optional:
			vars = patternVars(el.Pattern, vars)
		case *Union:
			for _, alt := range el.Alternatives {
				vars = patternVars(alt, vars)
			}
		case *GraphPattern:
			add(el.Name.Var)
			vars = patternVars(el.Pattern, vars)
		case *Bind:
			add(el.Var)
		case *Values:
			for _, v := range el.Vars {
				add(v)
			}
		}
	}
	return vars
}
