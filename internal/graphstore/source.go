package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/rdfformat"
	"github.com/kos-kit/kos-server/internal/sparql"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// quadSource implements sparql.Store on top of a connection or a transaction.
// Inside an update it must be bound to the transaction: the pool has a single
// connection and a statement on the bare DB would wait forever.
type quadSource struct {
	q querier
}

var _ sparql.Store = quadSource{}

// graphKey is the value of the g column; the default graph is ''.
func graphKey(g rdf.Term) string {
	if g == nil {
		return ""
	}
	return rdfformat.EncodeTerm(g)
}

func (s quadSource) Match(ctx context.Context, p sparql.QuadPattern) ([]rdf.Quad, error) {
	var (
		where []string
		args  []any
	)
	if p.Subject != nil {
		where = append(where, "s = ?")
		args = append(args, rdfformat.EncodeTerm(p.Subject))
	}
	if p.Predicate != nil {
		where = append(where, "p = ?")
		args = append(args, rdfformat.EncodeTerm(p.Predicate))
	}
	if p.Object != nil {
		where = append(where, "o = ?")
		args = append(args, rdfformat.EncodeTerm(rdfformat.Normalize(p.Object)))
	}
	switch p.Scope {
	case sparql.InGraph:
		where = append(where, "g = ?")
		args = append(args, graphKey(p.Graph))
	case sparql.InNamedGraphs:
		where = append(where, "g <> ''")
	case sparql.InAllGraphs:
	}

	query := "SELECT g, s, p, o FROM quads"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	raw, err := s.rawQuads(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return decodeQuads(raw)
}

// rawQuad holds the encoded columns of one row.
type rawQuad [4]string

// rawQuads reads every row before returning so that the connection is free
// for the next statement.
func (s quadSource) rawQuads(ctx context.Context, query string, args ...any) ([]rawQuad, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying quads: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []rawQuad
	for rows.Next() {
		var r rawQuad
		if err := rows.Scan(&r[0], &r[1], &r[2], &r[3]); err != nil {
			return nil, fmt.Errorf("scanning quad: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quads: %w", err)
	}
	return out, nil
}

func decodeQuads(raw []rawQuad) ([]rdf.Quad, error) {
	out := make([]rdf.Quad, 0, len(raw))
	for _, r := range raw {
		q, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (r rawQuad) decode() (rdf.Quad, error) {
	var q rdf.Quad
	if r[0] != "" {
		g, err := rdfformat.DecodeTerm(r[0])
		if err != nil {
			return q, fmt.Errorf("decoding graph: %w", err)
		}
		q.G = g
	}
	s, err := rdfformat.DecodeTerm(r[1])
	if err != nil {
		return q, fmt.Errorf("decoding subject: %w", err)
	}
	p, err := rdfformat.DecodeTerm(r[2])
	if err != nil {
		return q, fmt.Errorf("decoding predicate: %w", err)
	}
	pIRI, ok := p.(rdf.IRI)
	if !ok {
		return q, fmt.Errorf("%w: predicate %s is not an IRI", rdfformat.ErrInvalidTerm, r[2])
	}
	o, err := rdfformat.DecodeTerm(r[3])
	if err != nil {
		return q, fmt.Errorf("decoding object: %w", err)
	}
	q.S, q.P, q.O = s, pIRI, o
	return q, nil
}

func (s quadSource) NamedGraphs(ctx context.Context) ([]rdf.Term, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT name FROM named_graphs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing named graphs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning named graph: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating named graphs: %w", err)
	}

	graphs := make([]rdf.Term, 0, len(names))
	for _, name := range names {
		g, err := rdfformat.DecodeTerm(name)
		if err != nil {
			return nil, fmt.Errorf("decoding graph name: %w", err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

func (s quadSource) Insert(ctx context.Context, quads ...rdf.Quad) error {
	if len(quads) == 0 {
		return nil
	}
	w, err := newQuadWriter(ctx, s.q)
	if err != nil {
		return err
	}
	defer w.close()
	for _, q := range quads {
		if err := w.insert(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s quadSource) Delete(ctx context.Context, quads ...rdf.Quad) error {
	for _, q := range quads {
		_, err := s.q.ExecContext(ctx,
			"DELETE FROM quads WHERE g = ? AND s = ? AND p = ? AND o = ?",
			graphKey(q.G),
			rdfformat.EncodeTerm(q.S),
			rdfformat.EncodeTerm(q.P),
			rdfformat.EncodeTerm(rdfformat.Normalize(q.O)),
		)
		if err != nil {
			return fmt.Errorf("deleting quad: %w", err)
		}
	}
	return nil
}

func (s quadSource) ContainsGraph(ctx context.Context, graph rdf.Term) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM named_graphs WHERE name = ?)", graphKey(graph),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking graph %s: %w", graphKey(graph), err)
	}
	return exists, nil
}

func (s quadSource) CreateGraph(ctx context.Context, graph rdf.Term) error {
	if _, err := s.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO named_graphs (name) VALUES (?)", graphKey(graph),
	); err != nil {
		return fmt.Errorf("creating graph %s: %w", graphKey(graph), err)
	}
	return nil
}

func (s quadSource) ClearGraph(ctx context.Context, graph rdf.Term) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM quads WHERE g = ?", graphKey(graph)); err != nil {
		return fmt.Errorf("clearing graph: %w", err)
	}
	return nil
}

func (s quadSource) DropGraph(ctx context.Context, graph rdf.Term) error {
	if err := s.ClearGraph(ctx, graph); err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, "DELETE FROM named_graphs WHERE name = ?", graphKey(graph)); err != nil {
		return fmt.Errorf("dropping graph %s: %w", graphKey(graph), err)
	}
	return nil
}

// quadWriter inserts quads through prepared statements, registering each
// named graph once.
type quadWriter struct {
	quadStmt  *sql.Stmt
	graphStmt *sql.Stmt
	graphs    map[string]bool
	count     int64
}

func newQuadWriter(ctx context.Context, q querier) (*quadWriter, error) {
	quadStmt, err := q.PrepareContext(ctx, "INSERT OR IGNORE INTO quads (g, s, p, o) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("preparing quad insert: %w", err)
	}
	graphStmt, err := q.PrepareContext(ctx, "INSERT OR IGNORE INTO named_graphs (name) VALUES (?)")
	if err != nil {
		quadStmt.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("preparing graph insert: %w", err)
	}
	return &quadWriter{quadStmt: quadStmt, graphStmt: graphStmt, graphs: make(map[string]bool)}, nil
}

func (w *quadWriter) insert(ctx context.Context, q rdf.Quad) error {
	g := graphKey(q.G)
	if g != "" && !w.graphs[g] {
		if _, err := w.graphStmt.ExecContext(ctx, g); err != nil {
			return fmt.Errorf("registering graph %s: %w", g, err)
		}
		w.graphs[g] = true
	}
	_, err := w.quadStmt.ExecContext(ctx, g,
		rdfformat.EncodeTerm(q.S),
		rdfformat.EncodeTerm(q.P),
		rdfformat.EncodeTerm(rdfformat.Normalize(q.O)),
	)
	if err != nil {
		return fmt.Errorf("inserting quad: %w", err)
	}
	w.count++
	return nil
}

func (w *quadWriter) close() {
	w.quadStmt.Close()  //nolint:errcheck // Statement cleanup
	w.graphStmt.Close() //nolint:errcheck // Statement cleanup
}
