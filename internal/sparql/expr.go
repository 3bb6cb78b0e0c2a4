package sparql

import (
	"crypto/md5"  //nolint:gosec // MD5() is part of the query language
	"crypto/sha1" //nolint:gosec // SHA1() is part of the query language
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/geoknoesis/rdf-go/rdf"
	"github.com/google/uuid"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// exprError is an expression type error. It makes a FILTER reject the
// solution and leaves a BIND or projected variable unbound.
type exprError struct{ msg string }

func (e *exprError) Error() string { return e.msg }

func typeErrorf(format string, args ...any) error {
	return &exprError{msg: fmt.Sprintf(format, args...)}
}

func isTypeError(err error) bool {
	var e *exprError
	return errors.As(err, &e)
}

var (
	trueLiteral  = rdf.Literal{Lexical: "true", Datatype: rdf.IRI{Value: rdfformat.XSDBoolean}}
	falseLiteral = rdf.Literal{Lexical: "false", Datatype: rdf.IRI{Value: rdfformat.XSDBoolean}}
)

func boolTerm(v bool) rdf.Term {
	if v {
		return trueLiteral
	}
	return falseLiteral
}

func stringTerm(s string) rdf.Term { return rdf.Literal{Lexical: s} }

func integerTerm(n int64) rdf.Term {
	return rdf.Literal{Lexical: strconv.FormatInt(n, 10), Datatype: rdf.IRI{Value: rdfformat.XSDInteger}}
}

// evalExpr evaluates expr against sol. group holds the solutions of the
// current group when aggregates are in scope.
func (e *evaluator) evalExpr(expr Expr, sol Solution, group []Solution) (rdf.Term, error) {
	switch x := expr.(type) {
	case exprConst:
		return x.term, nil
	case exprVar:
		if t := sol[x.name]; t != nil {
			return t, nil
		}
		return nil, typeErrorf("unbound variable ?%s", x.name)
	case exprOp:
		return e.evalOp(x, sol, group)
	case exprIn:
		return e.evalIn(x, sol, group)
	case exprExists:
		found, err := e.exists(x.pattern, sol)
		if err != nil {
			return nil, err
		}
		return boolTerm(found != x.not), nil
	case exprCall:
		return e.evalCall(x, sol, group)
	case *exprAggregate:
		if group == nil {
			return nil, typeErrorf("aggregate %s outside of a group", x.name)
		}
		return e.evalAggregate(x, group)
	}
	return nil, fmt.Errorf("unknown expression %T", expr)
}

// effectiveBoolean computes the effective boolean value of a term.
func effectiveBoolean(t rdf.Term) (bool, error) {
	lit, ok := t.(rdf.Literal)
	if !ok {
		return false, typeErrorf("no boolean value for %s", rdfformat.EncodeTerm(t))
	}
	switch {
	case lit.Datatype.Value == rdfformat.XSDBoolean:
		return lit.Lexical == "true" || lit.Lexical == "1", nil
	case isNumericLiteral(lit):
		n, err := toNumber(lit)
		if err != nil {
			return false, nil
		}
		return n.float() != 0 && !math.IsNaN(n.float()), nil
	case lit.Lang == "" && (lit.Datatype.Value == "" || lit.Datatype.Value == rdfformat.XSDString):
		return lit.Lexical != "", nil
	}
	return false, typeErrorf("no boolean value for %s", rdfformat.EncodeTerm(t))
}

func (e *evaluator) evalBool(expr Expr, sol Solution, group []Solution) (bool, error) {
	t, err := e.evalExpr(expr, sol, group)
	if err != nil {
		return false, err
	}
	return effectiveBoolean(t)
}

func (e *evaluator) evalOp(x exprOp, sol Solution, group []Solution) (rdf.Term, error) {
	switch x.op {
	case "||", "&&":
		// Errors combine with the other operand as in SPARQL's three-valued logic.
		left, lerr := e.evalBool(x.args[0], sol, group)
		if lerr != nil && !isTypeError(lerr) {
			return nil, lerr
		}
		right, rerr := e.evalBool(x.args[1], sol, group)
		if rerr != nil && !isTypeError(rerr) {
			return nil, rerr
		}
		if x.op == "||" {
			switch {
			case lerr == nil && left, rerr == nil && right:
				return trueLiteral, nil
			case lerr != nil:
				return nil, lerr
			case rerr != nil:
				return nil, rerr
			}
			return falseLiteral, nil
		}
		switch {
		case lerr == nil && !left, rerr == nil && !right:
			return falseLiteral, nil
		case lerr != nil:
			return nil, lerr
		case rerr != nil:
			return nil, rerr
		}
		return trueLiteral, nil
	case "u!":
		v, err := e.evalBool(x.args[0], sol, group)
		if err != nil {
			return nil, err
		}
		return boolTerm(!v), nil
	case "u-", "u+":
		t, err := e.evalExpr(x.args[0], sol, group)
		if err != nil {
			return nil, err
		}
		n, err := toNumber(t)
		if err != nil {
			return nil, err
		}
		if x.op == "u-" {
			n = n.negate()
		}
		return n.term(), nil
	}

	left, err := e.evalExpr(x.args[0], sol, group)
	if err != nil {
		return nil, err
	}
	right, err := e.evalExpr(x.args[1], sol, group)
	if err != nil {
		return nil, err
	}
	switch x.op {
	case "=", "!=":
		eq, err := termsEqual(left, right)
		if err != nil {
			return nil, err
		}
		return boolTerm(eq == (x.op == "=")), nil
	case "<", ">", "<=", ">=":
		c, err := compareValues(left, right)
		if err != nil {
			return nil, err
		}
		switch x.op {
		case "<":
			return boolTerm(c < 0), nil
		case ">":
			return boolTerm(c > 0), nil
		case "<=":
			return boolTerm(c <= 0), nil
		default:
			return boolTerm(c >= 0), nil
		}
	}
	a, err := toNumber(left)
	if err != nil {
		return nil, err
	}
	b, err := toNumber(right)
	if err != nil {
		return nil, err
	}
	n, err := arithmetic(x.op, a, b)
	if err != nil {
		return nil, err
	}
	return n.term(), nil
}

func (e *evaluator) evalIn(x exprIn, sol Solution, group []Solution) (rdf.Term, error) {
	v, err := e.evalExpr(x.x, sol, group)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, item := range x.list {
		t, err := e.evalExpr(item, sol, group)
		if err == nil {
			var eq bool
			eq, err = termsEqual(v, t)
			if err == nil && eq {
				return boolTerm(!x.not), nil
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return boolTerm(x.not), nil
}

// Value comparison.

func isNumericLiteral(lit rdf.Literal) bool {
	switch lit.Datatype.Value {
	case rdfformat.XSDInteger, rdfformat.XSDDecimal, rdfformat.XSDDouble, rdfformat.XSDFloat,
		rdfformat.XSD + "int", rdfformat.XSD + "long", rdfformat.XSD + "short", rdfformat.XSD + "byte",
		rdfformat.XSD + "nonNegativeInteger", rdfformat.XSD + "positiveInteger",
		rdfformat.XSD + "negativeInteger", rdfformat.XSD + "nonPositiveInteger",
		rdfformat.XSD + "unsignedInt", rdfformat.XSD + "unsignedLong",
		rdfformat.XSD + "unsignedShort", rdfformat.XSD + "unsignedByte":
		return true
	}
	return false
}

func isStringLiteral(t rdf.Term) (rdf.Literal, bool) {
	lit, ok := t.(rdf.Literal)
	if !ok {
		return rdf.Literal{}, false
	}
	return lit, lit.Lang != "" || lit.Datatype.Value == "" || lit.Datatype.Value == rdfformat.XSDString
}

func isPlainString(lit rdf.Literal) bool {
	return lit.Lang == "" && (lit.Datatype.Value == "" || lit.Datatype.Value == rdfformat.XSDString)
}

func parseDateTime(lit rdf.Literal) (time.Time, bool) {
	if lit.Datatype.Value != rdfformat.XSDDateTime {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, lit.Lexical); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func termsEqual(a, b rdf.Term) (bool, error) {
	la, aLit := a.(rdf.Literal)
	lb, bLit := b.(rdf.Literal)
	if !aLit || !bLit {
		return a == b, nil
	}
	if c, err := compareValues(la, lb); err == nil {
		return c == 0, nil
	}
	return la == lb, nil
}

// compareValues orders two literals by value. It fails for values that are
// not comparable.
func compareValues(a, b rdf.Term) (int, error) {
	la, aok := a.(rdf.Literal)
	lb, bok := b.(rdf.Literal)
	if !aok || !bok {
		return 0, typeErrorf("cannot compare %s and %s", rdfformat.EncodeTerm(a), rdfformat.EncodeTerm(b))
	}
	switch {
	case isNumericLiteral(la) && isNumericLiteral(lb):
		na, err := toNumber(la)
		if err != nil {
			return 0, err
		}
		nb, err := toNumber(lb)
		if err != nil {
			return 0, err
		}
		return na.compare(nb), nil
	case isPlainString(la) && isPlainString(lb):
		return strings.Compare(la.Lexical, lb.Lexical), nil
	case la.Lang != "" && la.Lang == lb.Lang:
		return strings.Compare(la.Lexical, lb.Lexical), nil
	case la.Datatype.Value == rdfformat.XSDBoolean && lb.Datatype.Value == rdfformat.XSDBoolean:
		va, _ := effectiveBoolean(la) //nolint:errcheck // booleans always have a value
		vb, _ := effectiveBoolean(lb) //nolint:errcheck // booleans always have a value
		switch {
		case va == vb:
			return 0, nil
		case !va:
			return -1, nil
		}
		return 1, nil
	}
	if ta, ok := parseDateTime(la); ok {
		if tb, ok := parseDateTime(lb); ok {
			return ta.Compare(tb), nil
		}
	}
	return 0, typeErrorf("cannot compare %s and %s", rdfformat.EncodeTerm(a), rdfformat.EncodeTerm(b))
}

// orderCompare is the total order used by ORDER BY: unbound, blank nodes,
// IRIs, then literals.
func orderCompare(a, b rdf.Term) int {
	rank := func(t rdf.Term) int {
		switch t.(type) {
		case nil:
			return 0
		case rdf.BlankNode:
			return 1
		case rdf.IRI:
			return 2
		case rdf.Literal:
			return 3
		}
		return 4
	}
	if ra, rb := rank(a), rank(b); ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case nil:
		return 0
	case rdf.BlankNode:
		return strings.Compare(x.ID, b.(rdf.BlankNode).ID)
	case rdf.IRI:
		return strings.Compare(x.Value, b.(rdf.IRI).Value)
	case rdf.Literal:
		if c, err := compareValues(a, b); err == nil {
			return c
		}
		y := b.(rdf.Literal)
		if c := strings.Compare(x.Lexical, y.Lexical); c != 0 {
			return c
		}
		if c := strings.Compare(x.Datatype.Value, y.Datatype.Value); c != 0 {
			return c
		}
		return strings.Compare(x.Lang, y.Lang)
	}
	return strings.Compare(rdfformat.EncodeTerm(a), rdfformat.EncodeTerm(b))
}

// Numbers.

type numberKind uint8

const (
	kindInteger numberKind = iota
	kindDecimal
	kindFloat
	kindDouble
)

type number struct {
	kind numberKind
	i    int64
	f    float64
}

func toNumber(t rdf.Term) (number, error) {
	lit, ok := t.(rdf.Literal)
	if !ok || !isNumericLiteral(lit) {
		return number{}, typeErrorf("not a number: %s", rdfformat.EncodeTerm(t))
	}
	lexical := strings.TrimSpace(lit.Lexical)
	switch lit.Datatype.Value {
	case rdfformat.XSDDecimal:
		f, err := strconv.ParseFloat(lexical, 64)
		if err != nil {
			return number{}, typeErrorf("invalid decimal %q", lexical)
		}
		return number{kind: kindDecimal, f: f}, nil
	case rdfformat.XSDDouble, rdfformat.XSDFloat:
		f, err := strconv.ParseFloat(strings.Replace(lexical, "INF", "Inf", 1), 64)
		if err != nil {
			return number{}, typeErrorf("invalid double %q", lexical)
		}
		kind := kindDouble
		if lit.Datatype.Value == rdfformat.XSDFloat {
			kind = kindFloat
		}
		return number{kind: kind, f: f}, nil
	}
	i, err := strconv.ParseInt(strings.TrimPrefix(lexical, "+"), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(lexical, 64)
		if ferr != nil {
			return number{}, typeErrorf("invalid integer %q", lexical)
		}
		return number{kind: kindDecimal, f: f}, nil
	}
	return number{kind: kindInteger, i: i}, nil
}

func (n number) float() float64 {
	if n.kind == kindInteger {
		return float64(n.i)
	}
	return n.f
}

func (n number) negate() number {
	if n.kind == kindInteger {
		n.i = -n.i
	} else {
		n.f = -n.f
	}
	return n
}

func (n number) compare(m number) int {
	if n.kind == kindInteger && m.kind == kindInteger {
		switch {
		case n.i < m.i:
			return -1
		case n.i > m.i:
			return 1
		}
		return 0
	}
	a, b := n.float(), m.float()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (n number) term() rdf.Term {
	switch n.kind {
	case kindInteger:
		return integerTerm(n.i)
	case kindDecimal:
		s := strconv.FormatFloat(n.f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return rdf.Literal{Lexical: s, Datatype: rdf.IRI{Value: rdfformat.XSDDecimal}}
	case kindFloat:
		return rdf.Literal{Lexical: formatDouble(n.f), Datatype: rdf.IRI{Value: rdfformat.XSDFloat}}
	}
	return rdf.Literal{Lexical: formatDouble(n.f), Datatype: rdf.IRI{Value: rdfformat.XSDDouble}}
}

func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	s := strconv.FormatFloat(f, 'E', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	e, _ := strconv.Atoi(exp) //nolint:errcheck // FormatFloat always writes an integer exponent
	return mantissa + "E" + strconv.Itoa(e)
}

func arithmetic(op string, a, b number) (number, error) {
	kind := max(a.kind, b.kind)
	if op == "/" && kind == kindInteger {
		kind = kindDecimal
	}
	if kind == kindInteger {
		switch op {
		case "+":
			return number{kind: kindInteger, i: a.i + b.i}, nil
		case "-":
			return number{kind: kindInteger, i: a.i - b.i}, nil
		case "*":
			return number{kind: kindInteger, i: a.i * b.i}, nil
		}
	}
	x, y := a.float(), b.float()
	var r float64
	switch op {
	case "+":
		r = x + y
	case "-":
		r = x - y
	case "*":
		r = x * y
	case "/":
		if y == 0 && kind == kindDecimal {
			return number{}, typeErrorf("division by zero")
		}
		r = x / y
	default:
		return number{}, fmt.Errorf("unknown operator %s", op)
	}
	return number{kind: kind, f: r}, nil
}

// Function calls.

func (e *evaluator) evalCall(x exprCall, sol Solution, group []Solution) (rdf.Term, error) {
	switch x.name {
	case "BOUND":
		if len(x.args) != 1 {
			return nil, typeErrorf("BOUND takes one variable")
		}
		v, ok := x.args[0].(exprVar)
		if !ok {
			return nil, typeErrorf("BOUND takes one variable")
		}
		return boolTerm(sol[v.name] != nil), nil
	case "IF":
		if len(x.args) != 3 {
			return nil, typeErrorf("IF takes three arguments")
		}
		cond, err := e.evalBool(x.args[0], sol, group)
		if err != nil {
			return nil, err
		}
		if cond {
			return e.evalExpr(x.args[1], sol, group)
		}
		return e.evalExpr(x.args[2], sol, group)
	case "COALESCE":
		for _, arg := range x.args {
			t, err := e.evalExpr(arg, sol, group)
			if err == nil {
				return t, nil
			}
			if !isTypeError(err) {
				return nil, err
			}
		}
		return nil, typeErrorf("COALESCE has no bound argument")
	}

	args := make([]rdf.Term, len(x.args))
	for i, arg := range x.args {
		t, err := e.evalExpr(arg, sol, group)
		if err != nil {
			return nil, err
		}
		args[i] = t
	}
	return e.callFunction(x.name, args)
}

func arity(name string, args []rdf.Term, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		return typeErrorf("%s takes %d to %d arguments, got %d", name, lo, hi, len(args))
	}
	return nil
}

func (e *evaluator) callFunction(name string, args []rdf.Term) (rdf.Term, error) {
	switch name {
	case "STR", "LANG", "DATATYPE", "IRI", "URI", "ABS", "CEIL", "FLOOR", "ROUND", "STRLEN",
		"UCASE", "LCASE", "ENCODE_FOR_URI", "YEAR", "MONTH", "DAY", "HOURS", "MINUTES",
		"SECONDS", "TIMEZONE", "TZ", "MD5", "SHA1", "SHA256", "SHA384", "SHA512", "ISIRI",
		"ISURI", "ISBLANK", "ISLITERAL", "ISNUMERIC":
		if err := arity(name, args, 1, 1); err != nil {
			return nil, err
		}
	case "LANGMATCHES", "CONTAINS", "STRSTARTS", "STRENDS", "STRBEFORE", "STRAFTER",
		"STRLANG", "STRDT", "SAMETERM":
		if err := arity(name, args, 2, 2); err != nil {
			return nil, err
		}
	}

	switch name {
	case "STR":
		switch t := args[0].(type) {
		case rdf.IRI:
			return stringTerm(t.Value), nil
		case rdf.Literal:
			return stringTerm(t.Lexical), nil
		}
		return nil, typeErrorf("STR of a blank node")
	case "LANG":
		lit, ok := args[0].(rdf.Literal)
		if !ok {
			return nil, typeErrorf("LANG of a non-literal")
		}
		return stringTerm(lit.Lang), nil
	case "DATATYPE":
		lit, ok := args[0].(rdf.Literal)
		if !ok {
			return nil, typeErrorf("DATATYPE of a non-literal")
		}
		switch {
		case lit.Lang != "":
			return rdf.IRI{Value: rdfformat.RDFLangString}, nil
		case lit.Datatype.Value == "":
			return rdf.IRI{Value: rdfformat.XSDString}, nil
		}
		return lit.Datatype, nil
	case "IRI", "URI":
		switch t := args[0].(type) {
		case rdf.IRI:
			return t, nil
		case rdf.Literal:
			if isPlainString(t) {
				return rdf.IRI{Value: t.Lexical}, nil
			}
		}
		return nil, typeErrorf("%s needs a string", name)
	case "BNODE":
		return rdf.BlankNode{ID: "f" + strings.ReplaceAll(uuid.NewString(), "-", "")}, nil
	case "RAND":
		return rdf.Literal{Lexical: formatDouble(rand.Float64()), Datatype: rdf.IRI{Value: rdfformat.XSDDouble}}, nil //nolint:gosec // RAND() is not security sensitive
	case "ABS", "CEIL", "FLOOR", "ROUND":
		n, err := toNumber(args[0])
		if err != nil {
			return nil, err
		}
		if n.kind == kindInteger {
			if name == "ABS" && n.i < 0 {
				n.i = -n.i
			}
			return n.term(), nil
		}
		switch name {
		case "ABS":
			n.f = math.Abs(n.f)
		case "CEIL":
			n.f = math.Ceil(n.f)
		case "FLOOR":
			n.f = math.Floor(n.f)
		case "ROUND":
			n.f = math.Floor(n.f + 0.5)
		}
		return n.term(), nil
	case "CONCAT":
		var b strings.Builder
		lang := ""
		for i, arg := range args {
			lit, ok := isStringLiteral(arg)
			if !ok {
				return nil, typeErrorf("CONCAT needs strings")
			}
			if i == 0 {
				lang = lit.Lang
			} else if lit.Lang != lang {
				lang = ""
			}
			b.WriteString(lit.Lexical)
		}
		return rdf.Literal{Lexical: b.String(), Lang: lang}, nil
	case "STRLEN":
		lit, ok := isStringLiteral(args[0])
		if !ok {
			return nil, typeErrorf("STRLEN needs a string")
		}
		return integerTerm(int64(utf8.RuneCountInString(lit.Lexical))), nil
	case "UCASE", "LCASE":
		lit, ok := isStringLiteral(args[0])
		if !ok {
			return nil, typeErrorf("%s needs a string", name)
		}
		if name == "UCASE" {
			lit.Lexical = strings.ToUpper(lit.Lexical)
		} else {
			lit.Lexical = strings.ToLower(lit.Lexical)
		}
		return lit, nil
	case "ENCODE_FOR_URI":
		lit, ok := isStringLiteral(args[0])
		if !ok {
			return nil, typeErrorf("ENCODE_FOR_URI needs a string")
		}
		return stringTerm(encodeForURI(lit.Lexical)), nil
	case "LANGMATCHES":
		tag, ok1 := isStringLiteral(args[0])
		rng, ok2 := isStringLiteral(args[1])
		if !ok1 || !ok2 {
			return nil, typeErrorf("LANGMATCHES needs strings")
		}
		return boolTerm(langMatches(tag.Lexical, rng.Lexical)), nil
	case "CONTAINS", "STRSTARTS", "STRENDS", "STRBEFORE", "STRAFTER":
		return stringPair(name, args[0], args[1])
	case "YEAR", "MONTH", "DAY", "HOURS", "MINUTES", "SECONDS", "TIMEZONE", "TZ":
		lit, _ := args[0].(rdf.Literal)
		t, ok := parseDateTime(lit)
		if !ok {
			return nil, typeErrorf("%s needs a dateTime", name)
		}
		return dateTimePart(name, t, lit.Lexical), nil
	case "NOW":
		return rdf.Literal{Lexical: e.now.Format(time.RFC3339Nano), Datatype: rdf.IRI{Value: rdfformat.XSDDateTime}}, nil
	case "UUID":
		return rdf.IRI{Value: "urn:uuid:" + uuid.NewString()}, nil
	case "STRUUID":
		return stringTerm(uuid.NewString()), nil
	case "MD5", "SHA1", "SHA256", "SHA384", "SHA512":
		lit, ok := args[0].(rdf.Literal)
		if !ok || !isPlainString(lit) {
			return nil, typeErrorf("%s needs a simple string", name)
		}
		var h hash.Hash
		switch name {
		case "MD5":
			h = md5.New() //nolint:gosec // MD5() is part of the query language
		case "SHA1":
			h = sha1.New() //nolint:gosec // SHA1() is part of the query language
		case "SHA256":
			h = sha256.New()
		case "SHA384":
			h = sha512.New384()
		default:
			h = sha512.New()
		}
		h.Write([]byte(lit.Lexical))
		return stringTerm(hex.EncodeToString(h.Sum(nil))), nil
	case "STRLANG":
		lit, ok := args[0].(rdf.Literal)
		tag, ok2 := args[1].(rdf.Literal)
		if !ok || !ok2 || !isPlainString(lit) || tag.Lexical == "" {
			return nil, typeErrorf("STRLANG needs a simple string and a tag")
		}
		return rdf.Literal{Lexical: lit.Lexical, Lang: strings.ToLower(tag.Lexical)}, nil
	case "STRDT":
		lit, ok := args[0].(rdf.Literal)
		dt, ok2 := args[1].(rdf.IRI)
		if !ok || !ok2 || !isPlainString(lit) {
			return nil, typeErrorf("STRDT needs a simple string and an IRI")
		}
		return rdfformat.Normalize(rdf.Literal{Lexical: lit.Lexical, Datatype: dt}), nil
	case "SAMETERM":
		return boolTerm(args[0] == args[1]), nil
	case "ISIRI", "ISURI":
		_, ok := args[0].(rdf.IRI)
		return boolTerm(ok), nil
	case "ISBLANK":
		_, ok := args[0].(rdf.BlankNode)
		return boolTerm(ok), nil
	case "ISLITERAL":
		_, ok := args[0].(rdf.Literal)
		return boolTerm(ok), nil
	case "ISNUMERIC":
		lit, ok := args[0].(rdf.Literal)
		if !ok || !isNumericLiteral(lit) {
			return falseLiteral, nil
		}
		_, err := toNumber(lit)
		return boolTerm(err == nil), nil
	case "REGEX":
		if err := arity(name, args, 2, 3); err != nil {
			return nil, err
		}
		lit, ok := isStringLiteral(args[0])
		if !ok {
			return nil, typeErrorf("REGEX needs a string")
		}
		re, err := e.compileRegex(args[1:])
		if err != nil {
			return nil, err
		}
		return boolTerm(re.MatchString(lit.Lexical)), nil
	case "REPLACE":
		if err := arity(name, args, 3, 4); err != nil {
			return nil, err
		}
		lit, ok := isStringLiteral(args[0])
		repl, ok2 := isStringLiteral(args[2])
		if !ok || !ok2 {
			return nil, typeErrorf("REPLACE needs strings")
		}
		patternArgs := []rdf.Term{args[1]}
		if len(args) == 4 {
			patternArgs = append(patternArgs, args[3])
		}
		re, err := e.compileRegex(patternArgs)
		if err != nil {
			return nil, err
		}
		lit.Lexical = re.ReplaceAllString(lit.Lexical, repl.Lexical)
		return lit, nil
	case "SUBSTR":
		if err := arity(name, args, 2, 3); err != nil {
			return nil, err
		}
		return substr(args)
	}
	return castFunction(name, args)
}

func (e *evaluator) compileRegex(args []rdf.Term) (*regexp.Regexp, error) {
	pattern, ok := args[0].(rdf.Literal)
	if !ok || !isPlainString(pattern) {
		return nil, typeErrorf("regex pattern must be a simple string")
	}
	flags := ""
	if len(args) > 1 {
		f, ok := args[1].(rdf.Literal)
		if !ok || !isPlainString(f) {
			return nil, typeErrorf("regex flags must be a simple string")
		}
		for _, c := range f.Lexical {
			switch c {
			case 'i', 's', 'm':
				flags += string(c)
			case 'x', 'q':
			default:
				return nil, typeErrorf("unknown regex flag %q", c)
			}
		}
	}
	source := pattern.Lexical
	if flags != "" {
		source = "(?" + flags + ")" + source
	}
	if re, ok := e.regexps[source]; ok {
		return re, nil
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, typeErrorf("invalid regex %q: %v", pattern.Lexical, err)
	}
	e.regexps[source] = re
	return re, nil
}

func stringPair(name string, a, b rdf.Term) (rdf.Term, error) {
	la, ok1 := isStringLiteral(a)
	lb, ok2 := isStringLiteral(b)
	if !ok1 || !ok2 || (lb.Lang != "" && lb.Lang != la.Lang) {
		return nil, typeErrorf("%s needs compatible strings", name)
	}
	switch name {
	case "CONTAINS":
		return boolTerm(strings.Contains(la.Lexical, lb.Lexical)), nil
	case "STRSTARTS":
		return boolTerm(strings.HasPrefix(la.Lexical, lb.Lexical)), nil
	case "STRENDS":
		return boolTerm(strings.HasSuffix(la.Lexical, lb.Lexical)), nil
	}
	i := strings.Index(la.Lexical, lb.Lexical)
	if i < 0 {
		return stringTerm(""), nil
	}
	if name == "STRBEFORE" {
		la.Lexical = la.Lexical[:i]
	} else {
		la.Lexical = la.Lexical[i+len(lb.Lexical):]
	}
	if la.Lexical == "" && lb.Lexical != "" {
		la.Lang = ""
	}
	return la, nil
}

func substr(args []rdf.Term) (rdf.Term, error) {
	lit, ok := isStringLiteral(args[0])
	if !ok {
		return nil, typeErrorf("SUBSTR needs a string")
	}
	start, err := toNumber(args[1])
	if err != nil {
		return nil, err
	}
	runes := []rune(lit.Lexical)
	from := int(math.Round(start.float())) - 1
	to := len(runes)
	if len(args) == 3 {
		length, err := toNumber(args[2])
		if err != nil {
			return nil, err
		}
		to = from + int(math.Round(length.float()))
	}
	from = max(from, 0)
	to = min(to, len(runes))
	if from >= to {
		lit.Lexical = ""
	} else {
		lit.Lexical = string(runes[from:to])
	}
	return lit, nil
}

func encodeForURI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isASCIILetter(c) || isDigit(c) || c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func langMatches(tag, rng string) bool {
	tag, rng = strings.ToLower(tag), strings.ToLower(rng)
	if rng == "*" {
		return tag != ""
	}
	return tag == rng || strings.HasPrefix(tag, rng+"-")
}

func dateTimePart(name string, t time.Time, lexical string) rdf.Term {
	switch name {
	case "YEAR":
		return integerTerm(int64(t.Year()))
	case "MONTH":
		return integerTerm(int64(t.Month()))
	case "DAY":
		return integerTerm(int64(t.Day()))
	case "HOURS":
		return integerTerm(int64(t.Hour()))
	case "MINUTES":
		return integerTerm(int64(t.Minute()))
	case "SECONDS":
		secs := float64(t.Second()) + float64(t.Nanosecond())/1e9
		return number{kind: kindDecimal, f: secs}.term()
	}
	hasZone := strings.HasSuffix(lexical, "Z") || strings.LastIndexAny(lexical, "+-") > len("2006-01-02")
	if name == "TZ" {
		if !hasZone {
			return stringTerm("")
		}
		if strings.HasSuffix(lexical, "Z") {
			return stringTerm("Z")
		}
		return stringTerm(t.Format("-07:00"))
	}
	_, offset := t.Zone()
	d := time.Duration(offset) * time.Second
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	s := sign + "PT"
	if h := int(d.Hours()); h > 0 {
		s += strconv.Itoa(h) + "H"
	}
	if m := int(d.Minutes()) % 60; m > 0 {
		s += strconv.Itoa(m) + "M"
	}
	if d == 0 {
		s += "0S"
	}
	return rdf.Literal{Lexical: s, Datatype: rdf.IRI{Value: rdfformat.XSD + "dayTimeDuration"}}
}

// castFunction implements the XSD constructor functions.
func castFunction(name string, args []rdf.Term) (rdf.Term, error) {
	if !strings.HasPrefix(name, rdfformat.XSD) {
		return nil, typeErrorf("unknown function <%s>", name)
	}
	if err := arity(name, args, 1, 1); err != nil {
		return nil, err
	}
	var lexical string
	switch t := args[0].(type) {
	case rdf.IRI:
		if name != rdfformat.XSDString {
			return nil, typeErrorf("cannot cast an IRI to <%s>", name)
		}
		return stringTerm(t.Value), nil
	case rdf.Literal:
		lexical = strings.TrimSpace(t.Lexical)
	default:
		return nil, typeErrorf("cannot cast a blank node")
	}

	switch name {
	case rdfformat.XSDString:
		return stringTerm(args[0].(rdf.Literal).Lexical), nil
	case rdfformat.XSDBoolean:
		switch lexical {
		case "true", "1":
			return trueLiteral, nil
		case "false", "0":
			return falseLiteral, nil
		}
		if n, err := toNumber(args[0]); err == nil {
			return boolTerm(n.float() != 0 && !math.IsNaN(n.float())), nil
		}
		return nil, typeErrorf("cannot cast %q to boolean", lexical)
	case rdfformat.XSDInteger:
		if n, err := toNumber(args[0]); err == nil {
			if n.kind != kindInteger {
				if math.IsNaN(n.f) || math.IsInf(n.f, 0) {
					return nil, typeErrorf("cannot cast %q to integer", lexical)
				}
				n = number{kind: kindInteger, i: int64(n.f)}
			}
			return n.term(), nil
		}
		i, err := strconv.ParseInt(lexical, 10, 64)
		if err != nil {
			return nil, typeErrorf("cannot cast %q to integer", lexical)
		}
		return integerTerm(i), nil
	case rdfformat.XSDDecimal, rdfformat.XSDDouble, rdfformat.XSDFloat:
		kind := map[string]numberKind{
			rdfformat.XSDDecimal: kindDecimal, rdfformat.XSDDouble: kindDouble, rdfformat.XSDFloat: kindFloat,
		}[name]
		if lit := args[0].(rdf.Literal); lit.Datatype.Value == rdfformat.XSDBoolean {
			v, _ := effectiveBoolean(lit) //nolint:errcheck // booleans always have a value
			f := 0.0
			if v {
				f = 1
			}
			return number{kind: kind, f: f}.term(), nil
		}
		if n, err := toNumber(args[0]); err == nil {
			return number{kind: kind, f: n.float()}.term(), nil
		}
		f, err := strconv.ParseFloat(lexical, 64)
		if err != nil {
			return nil, typeErrorf("cannot cast %q to <%s>", lexical, name)
		}
		return number{kind: kind, f: f}.term(), nil
	case rdfformat.XSDDateTime:
		lit := rdf.Literal{Lexical: lexical, Datatype: rdf.IRI{Value: rdfformat.XSDDateTime}}
		if _, ok := parseDateTime(lit); !ok {
			return nil, typeErrorf("cannot cast %q to dateTime", lexical)
		}
		return lit, nil
	}
	return nil, typeErrorf("unknown function <%s>", name)
}

// Aggregates.

func (e *evaluator) evalAggregate(agg *exprAggregate, group []Solution) (rdf.Term, error) {
	if agg.name == "COUNT" && agg.arg == nil {
		if !agg.distinct {
			return integerTerm(int64(len(group))), nil
		}
		seen := make(map[string]bool)
		for _, sol := range group {
			seen[sol.key(nil)] = true
		}
		return integerTerm(int64(len(seen))), nil
	}

	var values []rdf.Term
	seen := make(map[rdf.Term]bool)
	for _, sol := range group {
		t, err := e.evalExpr(agg.arg, sol, nil)
		if err != nil {
			if isTypeError(err) {
				continue
			}
			return nil, err
		}
		if agg.distinct {
			if seen[t] {
				continue
			}
			seen[t] = true
		}
		values = append(values, t)
	}

	switch agg.name {
	case "COUNT":
		return integerTerm(int64(len(values))), nil
	case "SAMPLE":
		if len(values) == 0 {
			return nil, typeErrorf("SAMPLE of an empty group")
		}
		return values[0], nil
	case "MIN", "MAX":
		if len(values) == 0 {
			return nil, typeErrorf("%s of an empty group", agg.name)
		}
		best := values[0]
		for _, v := range values[1:] {
			c := orderCompare(v, best)
			if (agg.name == "MIN" && c < 0) || (agg.name == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "SUM", "AVG":
		sum := number{kind: kindInteger}
		for _, v := range values {
			n, err := toNumber(v)
			if err != nil {
				return nil, err
			}
			if sum, err = arithmetic("+", sum, n); err != nil {
				return nil, err
			}
		}
		if agg.name == "SUM" {
			return sum.term(), nil
		}
		if len(values) == 0 {
			return integerTerm(0), nil
		}
		avg, err := arithmetic("/", sum, number{kind: kindInteger, i: int64(len(values))})
		if err != nil {
			return nil, err
		}
		return avg.term(), nil
	case "GROUP_CONCAT":
		parts := make([]string, 0, len(values))
		for _, v := range values {
			lit, ok := isStringLiteral(v)
			if !ok {
				if l, isLit := v.(rdf.Literal); isLit {
					lit = l
				} else {
					return nil, typeErrorf("GROUP_CONCAT needs literals")
				}
			}
			parts = append(parts, lit.Lexical)
		}
		return stringTerm(strings.Join(parts, agg.separator)), nil
	}
	return nil, fmt.Errorf("unknown aggregate %s", agg.name)
}
