package sparql

import (
	"context"
	"errors"
	"fmt"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// Store is a mutable quad store. ExecuteUpdate expects every call to run in
// the same transaction.
type Store interface {
	Source
	Insert(ctx context.Context, quads ...rdf.Quad) error
	Delete(ctx context.Context, quads ...rdf.Quad) error
	// ContainsGraph reports whether a named graph exists.
	ContainsGraph(ctx context.Context, graph rdf.Term) (bool, error)
	CreateGraph(ctx context.Context, graph rdf.Term) error
	// ClearGraph removes every quad of graph; nil is the default graph.
	// A cleared named graph keeps existing.
	ClearGraph(ctx context.Context, graph rdf.Term) error
	// DropGraph removes a named graph and its quads.
	DropGraph(ctx context.Context, graph rdf.Term) error
}

// ExecuteUpdate applies every operation of u in order. opts.Dataset, when
// set, replaces the USING and WITH clauses of every operation.
func ExecuteUpdate(ctx context.Context, store Store, u *Update, opts Options) error {
	for _, op := range u.Operations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := executeOperation(ctx, store, op, opts); err != nil {
			return err
		}
	}
	return nil
}

func executeOperation(ctx context.Context, store Store, op Operation, opts Options) error {
	switch op := op.(type) {
	case *InsertData:
		e := newEvaluator(ctx, store, scope{})
		return store.Insert(ctx, e.quads(op.Quads, Solution{}, nil)...)
	case *DeleteData:
		e := newEvaluator(ctx, store, scope{})
		return store.Delete(ctx, e.quads(op.Quads, Solution{}, nil)...)
	case *Modify:
		return executeModify(ctx, store, op, opts)
	case *Clear:
		return clearGraphs(ctx, store, op.Target, op.Silent, false)
	case *Drop:
		return clearGraphs(ctx, store, op.Target, op.Silent, true)
	case *Create:
		exists, err := store.ContainsGraph(ctx, op.Graph)
		if err != nil {
			return err
		}
		if exists {
			if op.Silent {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrGraphExists, rdfformat.EncodeTerm(op.Graph))
		}
		return store.CreateGraph(ctx, op.Graph)
	case *Transfer:
		return transfer(ctx, store, op)
	}
	return fmt.Errorf("unknown update operation %T", op)
}

func executeModify(ctx context.Context, store Store, m *Modify, opts Options) error {
	sc := newScope(m.Using, opts.Dataset)
	if m.Using == nil && !opts.Dataset.isSet() && m.With != nil {
		sc = scope{defaults: []rdf.Term{m.With}, allNamed: true}
	}
	e := newEvaluator(ctx, store, sc)

	var solutions []Solution
	err := e.evalGroup(m.Where, Solution{}, Node{}, func(s Solution) error {
		solutions = append(solutions, s)
		return nil
	})
	if err != nil {
		return err
	}

	var deletes, inserts []rdf.Quad
	for _, s := range solutions {
		deletes = append(deletes, e.quads(m.Delete, s, m.With)...)
		inserts = append(inserts, e.quads(m.Insert, s, m.With)...)
	}
	if err := store.Delete(ctx, deletes...); err != nil {
		return err
	}
	return store.Insert(ctx, inserts...)
}

// quads instantiates quad templates with sol. Templates without a GRAPH go
// to defaultGraph (nil for the store default graph).
func (e *evaluator) quads(templates []QuadTemplate, sol Solution, defaultGraph rdf.Term) []rdf.Quad {
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

	out := make([]rdf.Quad, 0, len(templates))
	for _, t := range templates {
		s, p, o := resolve(t.S), resolve(t.P), resolve(t.O)
		pIRI, ok := p.(rdf.IRI)
		if s == nil || o == nil || !ok {
			continue
		}
		if _, isLit := s.(rdf.Literal); isLit {
			continue
		}
		g := defaultGraph
		if !t.Graph.isZero() {
			g = resolve(t.Graph)
			if _, isIRI := g.(rdf.IRI); !isIRI {
				continue
			}
		}
		out = append(out, rdf.Quad{S: s, P: pIRI, O: rdfformat.Normalize(o), G: g})
	}
	return out
}

func clearGraphs(ctx context.Context, store Store, target GraphRef, silent, drop bool) error {
	switch target.Kind {
	case RefGraph:
		exists, err := store.ContainsGraph(ctx, target.Graph)
		if err != nil {
			return err
		}
		if !exists {
			if silent {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrGraphNotFound, rdfformat.EncodeTerm(target.Graph))
		}
		if drop {
			return store.DropGraph(ctx, target.Graph)
		}
		return store.ClearGraph(ctx, target.Graph)
	case RefDefault:
		return store.ClearGraph(ctx, nil)
	case RefNamed, RefAll:
		if target.Kind == RefAll {
			if err := store.ClearGraph(ctx, nil); err != nil {
				return err
			}
		}
		graphs, err := store.NamedGraphs(ctx)
		if err != nil {
			return err
		}
		for _, g := range graphs {
			if drop {
				err = store.DropGraph(ctx, g)
			} else {
				err = store.ClearGraph(ctx, g)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
	return errors.New("unknown graph reference")
}

func transfer(ctx context.Context, store Store, op *Transfer) error {
	if op.From == op.To {
		return nil
	}
	from, to := op.From.Graph, op.To.Graph

	if op.From.Kind == RefGraph {
		exists, err := store.ContainsGraph(ctx, from)
		if err != nil {
			return err
		}
		if !exists {
			if op.Silent {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrGraphNotFound, rdfformat.EncodeTerm(from))
		}
	}

	quads, err := store.Match(ctx, QuadPattern{Graph: from})
	if err != nil {
		return err
	}
	if op.Op != "ADD" {
		if err := store.ClearGraph(ctx, to); err != nil {
			return err
		}
	}
	if op.To.Kind == RefGraph {
		exists, err := store.ContainsGraph(ctx, to)
		if err != nil {
			return err
		}
		if !exists {
			if err := store.CreateGraph(ctx, to); err != nil {
				return err
			}
		}
	}
	for i := range quads {
		quads[i].G = to
	}
	if err := store.Insert(ctx, quads...); err != nil {
		return err
	}
	if op.Op == "MOVE" {
		if op.From.Kind == RefGraph {
			return store.DropGraph(ctx, from)
		}
		return store.ClearGraph(ctx, nil)
	}
	return nil
}
