package sparql

import (
	"context"
	"errors"
	"iter"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/geoknoesis/rdf-go/rdf"
	"github.com/google/uuid"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// GraphMatch selects the graphs a QuadPattern is matched against.
type GraphMatch uint8

// Graph selections.
const (
	// InGraph matches QuadPattern.Graph only; a nil Graph is the default graph.
	InGraph GraphMatch = iota
	// InNamedGraphs matches every named graph.
	InNamedGraphs
	// InAllGraphs matches the default graph and every named graph.
	InAllGraphs
)

// QuadPattern is a lookup against a Source. Nil positions match anything.
type QuadPattern struct {
	Subject, Predicate, Object rdf.Term
	Graph                      rdf.Term
	Scope                      GraphMatch
}

// Source is the read side of a quad store.
type Source interface {
	// Match returns every quad matching pattern. The result is fully
	// materialized so callers may issue further lookups while iterating.
	Match(ctx context.Context, pattern QuadPattern) ([]rdf.Quad, error)
	// NamedGraphs returns the names of all named graphs.
	NamedGraphs(ctx context.Context) ([]rdf.Term, error)
}

// Dataset is a protocol-level dataset override. When any field is set it
// replaces the FROM / FROM NAMED (or USING) clauses of the request.
type Dataset struct {
	DefaultGraphs     []string
	NamedGraphs       []string
	UnionDefaultGraph bool
}

func (d *Dataset) isSet() bool {
	return d != nil && (d.UnionDefaultGraph || len(d.DefaultGraphs) > 0 || len(d.NamedGraphs) > 0)
}

// Options tune a single evaluation.
type Options struct {
	Dataset *Dataset
	// Bindings are pre-bound variables, applied before the WHERE clause runs.
	Bindings Solution
}

// ResultKind tells which field of Results is populated.
type ResultKind uint8

// Result kinds.
const (
	SolutionsResult ResultKind = iota + 1
	BooleanResult
	GraphResult
)

// Results of a query. Solutions and Triples are lazy: each pull runs the
// evaluation a step further, and stopping the iteration stops evaluation.
type Results struct {
	Kind      ResultKind
	Variables []string
	Solutions iter.Seq2[Solution, error]
	Boolean   bool
	Triples   iter.Seq2[rdf.Triple, error]
}

// Solution maps variable names to bound terms. Solutions are never mutated
// once yielded.
type Solution map[string]rdf.Term

func (s Solution) extend(name string, t rdf.Term) Solution {
	out := make(Solution, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[name] = t
	return out
}

// key identifies the solution restricted to vars; nil vars means all.
func (s Solution) key(vars []string) string {
	if vars == nil {
		vars = make([]string, 0, len(s))
		for k := range s {
			vars = append(vars, k)
		}
		sort.Strings(vars)
	}
	var b strings.Builder
	for _, v := range vars {
		b.WriteString(v)
		b.WriteByte('=')
		b.WriteString(rdfformat.EncodeTerm(s[v]))
		b.WriteByte(0)
	}
	return b.String()
}

type scope struct {
	unionDefault bool
	defaults     []rdf.Term // a nil entry is the store's default graph
	named        []rdf.Term
	allNamed     bool
}

func newScope(clause *DatasetClause, override *Dataset) scope {
	switch {
	case override.isSet():
		if override.UnionDefaultGraph {
			return scope{unionDefault: true, allNamed: true}
		}
		return scope{defaults: iris(override.DefaultGraphs), named: iris(override.NamedGraphs)}
	case clause != nil:
		return scope{defaults: iris(clause.Default), named: iris(clause.Named)}
	}
	return scope{defaults: []rdf.Term{nil}, allNamed: true}
}

func iris(values []string) []rdf.Term {
	out := make([]rdf.Term, len(values))
	for i, v := range values {
		out[i] = rdf.IRI{Value: v}
	}
	return out
}

type evaluator struct {
	ctx     context.Context
	src     Source
	scope   scope
	now     time.Time
	regexps map[string]*regexp.Regexp

	named       map[rdf.Term]bool
	namedList   []rdf.Term
	namedLoaded bool

	// filterGraph is the active graph while filters and EXISTS run.
	filterGraph Node

	bnodePrefix string
	bnodeCount  int
}

func newEvaluator(ctx context.Context, src Source, sc scope) *evaluator {
	return &evaluator{
		ctx:         ctx,
		src:         src,
		scope:       sc,
		now:         time.Now(),
		regexps:     make(map[string]*regexp.Regexp),
		bnodePrefix: "b" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}
}

func (e *evaluator) freshBlank() rdf.BlankNode {
	e.bnodeCount++
	return rdf.BlankNode{ID: e.bnodePrefix + strconv.Itoa(e.bnodeCount)}
}

// Evaluate runs a parsed query against src.
func Evaluate(ctx context.Context, src Source, q *Query, opts Options) (*Results, error) {
	e := newEvaluator(ctx, src, newScope(q.Dataset, opts.Dataset))
	initial := Solution{}
	for k, v := range opts.Bindings {
		initial[k] = v
	}

	switch q.Form {
	case FormAsk:
		found := false
		err := e.evalGroup(q.Where, initial, Node{}, func(Solution) error {
			found = true
			return errStop
		})
		if err != nil && !errors.Is(err, errStop) {
			return nil, err
		}
		return &Results{Kind: BooleanResult, Boolean: found}, nil
	case FormSelect:
		return &Results{
			Kind:      SolutionsResult,
			Variables: q.Variables(),
			Solutions: solutionSeq(e.modifiedSolutions(q, initial)),
		}, nil
	case FormConstruct:
		return &Results{Kind: GraphResult, Triples: e.constructSeq(q, initial)}, nil
	case FormDescribe:
		return &Results{Kind: GraphResult, Triples: e.describeSeq(q, initial)}, nil
	}
	return nil, errors.New("unknown query form")
}

func solutionSeq(run func(yield func(Solution) error) error) iter.Seq2[Solution, error] {
	return func(yield func(Solution, error) bool) {
		err := run(func(s Solution) error {
			if !yield(s, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(nil, err)
		}
	}
}

// Group evaluation. Each function calls yield once per solution; yield may
// return errStop to end evaluation early.

func (e *evaluator) evalGroup(g *Group, sol Solution, active Node, yield func(Solution) error) error {
	return e.evalElements(g, 0, sol, active, yield)
}

func (e *evaluator) evalElements(g *Group, i int, sol Solution, active Node, yield func(Solution) error) error {
	if i == len(g.Elements) {
		for _, f := range g.Filters {
			ok, err := e.filter(f, sol, active)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		return yield(sol)
	}

	next := func(s Solution) error { return e.evalElements(g, i+1, s, active, yield) }
	switch el := g.Elements[i].(type) {
	case *BGP:
		return e.evalBGP(el.Triples, sol, active, next)
	case *Group:
		return e.evalGroup(el, sol, active, next)
	case *Optional:
		matched := false
		err := e.evalGroup(el.Pattern, sol, active, func(s Solution) error {
			matched = true
			return next(s)
		})
		if err != nil || matched {
			return err
		}
		return next(sol)
	case *Union:
		for _, alt := range el.Alternatives {
			if err := e.evalGroup(alt, sol, active, next); err != nil {
				return err
			}
		}
		return nil
	case *Minus:
		excluded, err := e.minus(el, sol, active)
		if err != nil || excluded {
			return err
		}
		return next(sol)
	case *GraphPattern:
		return e.evalGraph(el, sol, next)
	case *Bind:
		prev := e.filterGraph
		e.filterGraph = active
		v, err := e.evalExpr(el.Expr, sol, nil)
		e.filterGraph = prev
		if err != nil {
			if isTypeError(err) {
				return next(sol)
			}
			return err
		}
		if cur := sol[el.Var]; cur != nil {
			if cur != v {
				return nil
			}
			return next(sol)
		}
		return next(sol.extend(el.Var, v))
	case *Values:
		for _, row := range el.Rows {
			merged, ok := mergeRow(sol, el.Vars, row)
			if !ok {
				continue
			}
			if err := next(merged); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.New("unknown pattern")
}

func (e *evaluator) filter(f Expr, sol Solution, active Node) (bool, error) {
	prev := e.filterGraph
	e.filterGraph = active
	defer func() { e.filterGraph = prev }()

	ok, err := e.evalBool(f, sol, nil)
	if err != nil {
		if isTypeError(err) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func (e *evaluator) exists(pattern *Group, sol Solution) (bool, error) {
	found := false
	err := e.evalGroup(pattern, sol, e.filterGraph, func(Solution) error {
		found = true
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, err
	}
	return found, nil
}

func mergeRow(sol Solution, vars []string, row []rdf.Term) (Solution, bool) {
	out := sol
	for i, name := range vars {
		v := row[i]
		if v == nil {
			continue
		}
		if cur := out[name]; cur != nil {
			if cur != v {
				return nil, false
			}
			continue
		}
		out = out.extend(name, v)
	}
	return out, true
}

// minus reports whether sol is removed by a MINUS pattern: some solution of
// the pattern is compatible with sol and shares at least one variable.
func (e *evaluator) minus(m *Minus, sol Solution, active Node) (bool, error) {
	excluded := false
	err := e.evalGroup(m.Pattern, Solution{}, active, func(r Solution) error {
		shared := false
		for k, v := range r {
			if cur, ok := sol[k]; ok {
				if cur != v {
					return nil
				}
				shared = true
			}
		}
		if shared {
			excluded = true
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, err
	}
	return excluded, nil
}

func (e *evaluator) evalGraph(gp *GraphPattern, sol Solution, yield func(Solution) error) error {
	name := gp.Name
	if name.IsVar() {
		if bound := sol[name.Var]; bound != nil {
			name = termNode(bound)
		}
	}
	if !name.IsVar() {
		ok, err := e.isNamed(name.Term)
		if err != nil || !ok {
			return err
		}
		return e.evalGroup(gp.Pattern, sol, name, yield)
	}

	if len(gp.Pattern.Elements) > 0 {
		if _, ok := gp.Pattern.Elements[0].(*BGP); ok {
			// The first triple lookup binds the graph variable.
			return e.evalGroup(gp.Pattern, sol, name, yield)
		}
	}
	graphs, err := e.namedGraphs()
	if err != nil {
		return err
	}
	for _, g := range graphs {
		if err := e.evalGroup(gp.Pattern, sol.extend(name.Var, g), termNode(g), yield); err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) namedGraphs() ([]rdf.Term, error) {
	if !e.scope.allNamed {
		return e.scope.named, nil
	}
	if !e.namedLoaded {
		list, err := e.src.NamedGraphs(e.ctx)
		if err != nil {
			return nil, err
		}
		e.namedList = list
		e.namedLoaded = true
	}
	return e.namedList, nil
}

func (e *evaluator) isNamed(g rdf.Term) (bool, error) {
	if e.named == nil {
		graphs, err := e.namedGraphs()
		if err != nil {
			return false, err
		}
		e.named = make(map[rdf.Term]bool, len(graphs))
		for _, name := range graphs {
			e.named[name] = true
		}
	}
	return e.named[g], nil
}

// Basic graph patterns.

func (e *evaluator) evalBGP(triples []TriplePattern, sol Solution, active Node, yield func(Solution) error) error {
	if len(triples) == 0 {
		return yield(sol)
	}
	best, bestScore := 0, -1
	for i, tp := range triples {
		if score := boundScore(tp, sol); score > bestScore {
			best, bestScore = i, score
		}
	}
	rest := make([]TriplePattern, 0, len(triples)-1)
	rest = append(rest, triples[:best]...)
	rest = append(rest, triples[best+1:]...)

	return e.matchTriple(triples[best], sol, active, func(s Solution) error {
		return e.evalBGP(rest, s, active, yield)
	})
}

func boundScore(tp TriplePattern, sol Solution) int {
	score := 0
	for i, n := range []Node{tp.S, tp.P, tp.O} {
		if substitute(n, sol) != nil {
			score += 3 - i%2 // subjects and objects select better than predicates
		}
	}
	return score
}

func substitute(n Node, sol Solution) rdf.Term {
	if n.IsVar() {
		return sol[n.Var]
	}
	return n.Term
}

func (e *evaluator) matchTriple(tp TriplePattern, sol Solution, active Node, yield func(Solution) error) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	s, p, o := substitute(tp.S, sol), substitute(tp.P, sol), substitute(tp.O, sol)
	if p != nil {
		if _, ok := p.(rdf.IRI); !ok {
			return nil
		}
	}
	if _, ok := s.(rdf.Literal); ok {
		return nil
	}

	pattern := QuadPattern{Subject: s, Predicate: p, Object: o}
	var quads []rdf.Quad
	var err error
	graphVar := ""
	switch {
	case active.isZero():
		quads, err = e.matchDefault(pattern)
	case active.IsVar() && sol[active.Var] == nil:
		graphVar = active.Var
		pattern.Scope = InNamedGraphs
		quads, err = e.src.Match(e.ctx, pattern)
		if err == nil && !e.scope.allNamed {
			quads = slices.DeleteFunc(quads, func(q rdf.Quad) bool { return !slices.Contains(e.scope.named, q.G) })
		}
	default:
		pattern.Graph = substitute(active, sol)
		quads, err = e.src.Match(e.ctx, pattern)
	}
	if err != nil {
		return err
	}

	for _, q := range quads {
		out, ok := bindNode(sol, tp.S, q.S)
		if ok {
			out, ok = bindNode(out, tp.P, q.P)
		}
		if ok {
			out, ok = bindNode(out, tp.O, q.O)
		}
		if ok && graphVar != "" {
			out, ok = bindNode(out, varNode(graphVar), q.G)
		}
		if !ok {
			continue
		}
		if err := yield(out); err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) matchDefault(pattern QuadPattern) ([]rdf.Quad, error) {
	if e.scope.unionDefault {
		pattern.Scope = InAllGraphs
		quads, err := e.src.Match(e.ctx, pattern)
		if err != nil {
			return nil, err
		}
		return dedupeTriples(quads), nil
	}

	var quads []rdf.Quad
	for _, g := range e.scope.defaults {
		pattern.Graph = g
		found, err := e.src.Match(e.ctx, pattern)
		if err != nil {
			return nil, err
		}
		quads = append(quads, found...)
	}
	if len(e.scope.defaults) > 1 {
		quads = dedupeTriples(quads)
	}
	return quads, nil
}

func dedupeTriples(quads []rdf.Quad) []rdf.Quad {
	seen := make(map[rdf.Triple]bool, len(quads))
	out := quads[:0]
	for _, q := range quads {
		t := q.ToTriple()
		if seen[t] {
			continue
		}
		seen[t] = true
		q.G = nil
		out = append(out, q)
	}
	return out
}

// bindNode unifies a pattern position with a matched term.
func bindNode(sol Solution, n Node, t rdf.Term) (Solution, bool) {
	if !n.IsVar() {
		return sol, true
	}
	if cur := sol[n.Var]; cur != nil {
		return sol, cur == t
	}
	return sol.extend(n.Var, t), true
}

// Solution modifiers.

type row struct {
	sol   Solution
	group []Solution
}

func (e *evaluator) modifiedSolutions(q *Query, initial Solution) func(yield func(Solution) error) error {
	return func(yield func(Solution) error) error {
		emit := yield
		if q.Limit >= 0 || q.Offset > 0 {
			emit = sliceSolutions(q.Offset, q.Limit, emit)
		}
		if q.Distinct || q.Reduced {
			emit = distinctSolutions(q.Variables(), emit)
		}
		if len(q.Projection) > 0 {
			emit = projectSolutions(q.Variables(), emit)
		}
		if q.Limit == 0 {
			return nil
		}

		if len(q.OrderBy) == 0 && !q.aggregated {
			return e.evalGroup(q.Where, initial, Node{}, func(s Solution) error {
				return emit(e.extendProjection(q, s, nil))
			})
		}

		rows, err := e.rows(q, initial)
		if err != nil {
			return err
		}
		if len(q.OrderBy) > 0 {
			e.sortRows(q, rows)
		}
		for _, r := range rows {
			if err := emit(r.sol); err != nil {
				return err
			}
		}
		return nil
	}
}

// extendProjection binds the computed SELECT expressions.
func (e *evaluator) extendProjection(q *Query, sol Solution, group []Solution) Solution {
	for _, p := range q.Projection {
		if p.Expr == nil {
			continue
		}
		v, err := e.evalExpr(p.Expr, sol, group)
		if err == nil && sol[p.Var] == nil {
			sol = sol.extend(p.Var, v)
		}
	}
	return sol
}

// rows materializes the WHERE solutions, grouped and aggregated if the
// query needs it.
func (e *evaluator) rows(q *Query, initial Solution) ([]row, error) {
	var solutions []Solution
	err := e.evalGroup(q.Where, initial, Node{}, func(s Solution) error {
		solutions = append(solutions, s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !q.aggregated {
		rows := make([]row, len(solutions))
		for i, s := range solutions {
			rows[i] = row{sol: e.extendProjection(q, s, nil)}
		}
		return rows, nil
	}

	type bucket struct {
		base    Solution
		members []Solution
	}
	var order []string
	buckets := make(map[string]*bucket)
	if len(q.GroupBy) == 0 {
		order = append(order, "")
		buckets[""] = &bucket{base: Solution{}, members: []Solution{}}
	}
	for _, s := range solutions {
		base := Solution{}
		for _, g := range q.GroupBy {
			var v rdf.Term
			if g.Expr == nil {
				v = s[g.Var]
			} else if t, err := e.evalExpr(g.Expr, s, nil); err == nil {
				v = t
			} else if !isTypeError(err) {
				return nil, err
			}
			if v != nil {
				base[g.Var] = v
			}
		}
		key := base.key(groupVars(q.GroupBy))
		b, ok := buckets[key]
		if !ok {
			b = &bucket{base: base}
			buckets[key] = b
			order = append(order, key)
		}
		b.members = append(b.members, s)
	}

	rows := make([]row, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		keep := true
		for _, h := range q.Having {
			ok, err := e.evalBool(h, b.base, b.members)
			if err != nil && !isTypeError(err) {
				return nil, err
			}
			if err != nil || !ok {
				keep = false
				break
			}
		}
		if keep {
			rows = append(rows, row{sol: e.extendProjection(q, b.base, b.members), group: b.members})
		}
	}
	return rows, nil
}

func groupVars(groupBy []Projection) []string {
	vars := make([]string, len(groupBy))
	for i, g := range groupBy {
		vars[i] = g.Var
	}
	return vars
}

func (e *evaluator) sortRows(q *Query, rows []row) {
	keys := make([][]rdf.Term, len(rows))
	for i, r := range rows {
		keys[i] = make([]rdf.Term, len(q.OrderBy))
		for j, cond := range q.OrderBy {
			if v, err := e.evalExpr(cond.Expr, r.sol, r.group); err == nil {
				keys[i][j] = v
			}
		}
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, cond := range q.OrderBy {
			c := orderCompare(keys[idx[a]][j], keys[idx[b]][j])
			if c == 0 {
				continue
			}
			if cond.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	sorted := make([]row, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func sliceSolutions(offset, limit int, yield func(Solution) error) func(Solution) error {
	skipped, emitted := 0, 0
	return func(s Solution) error {
		if skipped < offset {
			skipped++
			return nil
		}
		if limit >= 0 && emitted >= limit {
			return errStop
		}
		emitted++
		if err := yield(s); err != nil {
			return err
		}
		if limit >= 0 && emitted >= limit {
			return errStop
		}
		return nil
	}
}

func distinctSolutions(vars []string, yield func(Solution) error) func(Solution) error {
	seen := make(map[string]bool)
	return func(s Solution) error {
		k := s.key(vars)
		if seen[k] {
			return nil
		}
		seen[k] = true
		return yield(s)
	}
}

func projectSolutions(vars []string, yield func(Solution) error) func(Solution) error {
	return func(s Solution) error {
		out := make(Solution, len(vars))
		for _, v := range vars {
			if t := s[v]; t != nil {
				out[v] = t
			}
		}
		return yield(out)
	}
}

// Graph results.

func (e *evaluator) constructSeq(q *Query, initial Solution) iter.Seq2[rdf.Triple, error] {
	solutions := e.modifiedSolutions(q, initial)
	return func(yield func(rdf.Triple, error) bool) {
		err := solutions(func(s Solution) error {
			for _, t := range e.instantiate(q.Template, s) {
				if !yield(t, nil) {
					return errStop
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(rdf.Triple{}, err)
		}
	}
}

// instantiate fills a template with sol. Blank nodes are fresh per call and
// triples with unbound or ill-typed positions are dropped.
func (e *evaluator) instantiate(template []TriplePattern, sol Solution) []rdf.Triple {
	fresh := make(map[string]rdf.BlankNode)
	resolve := func(n Node) rdf.Term {
		if n.IsVar() {
			return sol[n.Var]
		}
		if b, ok := n.Term.(rdf.BlankNode); ok {
			nb, seen := fresh[b.ID]
			if !seen {
				nb = e.freshBlank()
				fresh[b.ID] = nb
			}
			return nb
		}
		return n.Term
	}

	out := make([]rdf.Triple, 0, len(template))
	for _, tp := range template {
		s, p, o := resolve(tp.S), resolve(tp.P), resolve(tp.O)
		pIRI, ok := p.(rdf.IRI)
		if s == nil || o == nil || !ok {
			continue
		}
		if _, isLit := s.(rdf.Literal); isLit {
			continue
		}
		out = append(out, rdf.Triple{S: s, P: pIRI, O: o})
	}
	return out
}

func (e *evaluator) describeSeq(q *Query, initial Solution) iter.Seq2[rdf.Triple, error] {
	return func(yield func(rdf.Triple, error) bool) {
		var resources []rdf.Term
		seen := make(map[rdf.Term]bool)
		add := func(t rdf.Term) {
			if t == nil || seen[t] {
				return
			}
			if _, isLit := t.(rdf.Literal); isLit {
				return
			}
			seen[t] = true
			resources = append(resources, t)
		}

		targets := q.Describe
		if len(targets) == 0 {
			for _, v := range q.whereVars {
				targets = append(targets, varNode(v))
			}
		}
		var constants, vars []Node
		for _, n := range targets {
			if n.IsVar() {
				vars = append(vars, n)
			} else {
				constants = append(constants, n)
			}
		}
		for _, n := range constants {
			add(n.Term)
		}
		if len(vars) > 0 {
			err := e.modifiedSolutions(q, initial)(func(s Solution) error {
				for _, n := range vars {
					add(s[n.Var])
				}
				return nil
			})
			if err != nil && !errors.Is(err, errStop) {
				yield(rdf.Triple{}, err)
				return
			}
		}

		for _, r := range resources {
			quads, err := e.matchDefault(QuadPattern{Subject: r})
			if err != nil {
				yield(rdf.Triple{}, err)
				return
			}
			for _, q := range quads {
				if !yield(q.ToTriple(), nil) {
					return
				}
			}
		}
	}
}
