package graphstore

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/geoknoesis/rdf-go/rdf"
	"github.com/google/uuid"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// defaultBatchSize is the number of quads per bulk transaction when
// BulkOptions.BatchSize is not set.
const defaultBatchSize = 10_000

// BulkOptions tunes the non-transactional loaders.
type BulkOptions struct {
	// Lenient skips unparseable records instead of failing. Line-based
	// formats skip the bad line; other formats stop at the first error and
	// keep what was read before it.
	Lenient bool

	// BatchSize is the number of quads committed per transaction.
	BatchSize int

	// OnProgress, when set, is called after every committed batch with the
	// quads written so far and the time since the load started.
	OnProgress func(quads int64, elapsed time.Duration)
}

// readerFormat is implemented by rdfformat.Graph and rdfformat.Dataset.
type readerFormat interface {
	NewReader(r io.Reader, opts ...rdf.Option) (rdf.Reader, error)
	LineBased() bool
}

// LoadGraph parses r and adds its triples to graph (nil for the default
// graph) in a single transaction. Nothing is written when parsing fails.
func (s *Store) LoadGraph(ctx context.Context, r io.Reader, format rdfformat.Graph, graph rdf.Term) error {
	n, err := s.insertStatements(ctx, s.statements(ctx, r, format, false), intoGraph(graph), loadPlan{})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeLoad, Graph: graphKey(graph), Quads: n})
	return nil
}

// LoadDataset parses r and adds its quads in a single transaction.
func (s *Store) LoadDataset(ctx context.Context, r io.Reader, format rdfformat.Dataset) error {
	n, err := s.insertStatements(ctx, s.statements(ctx, r, format, false), statementGraph, loadPlan{})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeLoad, Quads: n})
	return nil
}

// BulkLoadGraph is LoadGraph committing every opts.BatchSize quads. It
// returns the number of quads written, including on failure.
func (s *Store) BulkLoadGraph(ctx context.Context, r io.Reader, format rdfformat.Graph, graph rdf.Term, opts BulkOptions) (int64, error) {
	n, err := s.insertStatements(ctx, s.statements(ctx, r, format, opts.Lenient), intoGraph(graph), bulkPlan(opts))
	if n > 0 {
		s.notify(Change{Kind: ChangeLoad, Graph: graphKey(graph), Quads: n})
	}
	return n, err
}

// BulkLoadDataset is LoadDataset committing every opts.BatchSize quads.
func (s *Store) BulkLoadDataset(ctx context.Context, r io.Reader, format rdfformat.Dataset, opts BulkOptions) (int64, error) {
	n, err := s.insertStatements(ctx, s.statements(ctx, r, format, opts.Lenient), statementGraph, bulkPlan(opts))
	if n > 0 {
		s.notify(Change{Kind: ChangeLoad, Quads: n})
	}
	return n, err
}

// WriteMode selects what WriteGraph does with the content already in the
// target graph.
type WriteMode uint8

const (
	// Merge adds the loaded triples to the graph.
	Merge WriteMode = iota
	// Replace drops the graph's triples before loading.
	Replace
)

// WriteGraph loads r into graph (nil for the default graph). A missing named
// graph is created, and with Replace the old content is dropped, inside the
// first load transaction: a load failing before its first commit leaves the
// store untouched. With bulk nil the whole load is one transaction. It
// reports whether the named graph was created.
func (s *Store) WriteGraph(ctx context.Context, r io.Reader, format rdfformat.Graph, graph rdf.Term, mode WriteMode, bulk *BulkOptions) (bool, error) {
	var created bool
	prepare := func(tx *sql.Tx) error {
		src := quadSource{q: tx}
		if graph != nil {
			exists, err := src.ContainsGraph(ctx, graph)
			if err != nil {
				return err
			}
			if !exists {
				if err := src.CreateGraph(ctx, graph); err != nil {
					return err
				}
				created = true
			}
		}
		if mode == Replace {
			return src.ClearGraph(ctx, graph)
		}
		return nil
	}

	plan, lenient := loadPlan{}, false
	if bulk != nil {
		plan, lenient = bulkPlan(*bulk), bulk.Lenient
	}
	plan.prepare = prepare
	n, err := s.insertStatements(ctx, s.statements(ctx, r, format, lenient), intoGraph(graph), plan)
	if err != nil && n == 0 {
		return false, err
	}
	if created {
		s.notify(Change{Kind: ChangeCreate, Graph: graphKey(graph)})
	}
	if mode == Replace {
		s.notify(Change{Kind: ChangeClear, Graph: graphKey(graph)})
	}
	s.notify(Change{Kind: ChangeLoad, Graph: graphKey(graph), Quads: n})
	return created, err
}

// WriteDataset loads r into the dataset. With Replace every quad and named
// graph is dropped inside the first load transaction, so a load failing
// before its first commit leaves the store untouched.
func (s *Store) WriteDataset(ctx context.Context, r io.Reader, format rdfformat.Dataset, mode WriteMode, bulk *BulkOptions) error {
	plan, lenient := loadPlan{}, false
	if bulk != nil {
		plan, lenient = bulkPlan(*bulk), bulk.Lenient
	}
	if mode == Replace {
		plan.prepare = func(tx *sql.Tx) error { return clearAll(ctx, tx) }
	}
	n, err := s.insertStatements(ctx, s.statements(ctx, r, format, lenient), statementGraph, plan)
	if err != nil && n == 0 {
		return err
	}
	if mode == Replace {
		s.notify(Change{Kind: ChangeClear})
	}
	s.notify(Change{Kind: ChangeLoad, Quads: n})
	return err
}

// loadPlan drives insertStatements. A zero plan is a single transaction.
type loadPlan struct {
	batch      int
	prepare    func(*sql.Tx) error
	onProgress func(quads int64, elapsed time.Duration)
}

func bulkPlan(opts BulkOptions) loadPlan {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return loadPlan{batch: batch, onProgress: opts.OnProgress}
}

func intoGraph(graph rdf.Term) func(rdf.Statement) rdf.Term {
	return func(rdf.Statement) rdf.Term { return graph }
}

func statementGraph(st rdf.Statement) rdf.Term { return st.G }

// insertStatements writes statements into target graphs. With batch 0 all
// writes share one transaction; otherwise a transaction is committed every
// batch quads. A non-nil prepare runs first, inside the first transaction,
// which is then opened even when there is nothing to insert.
func (s *Store) insertStatements(ctx context.Context, stmts iter.Seq2[rdf.Statement, error], graph func(rdf.Statement) rdf.Term, plan loadPlan) (int64, error) {
	start := time.Now()
	prepare := plan.prepare
	var (
		committed int64
		tx        *sql.Tx
		w         *quadWriter
	)
	begin := func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if prepare != nil {
			err = prepare(tx)
			prepare = nil
		}
		if err == nil {
			w, err = newQuadWriter(ctx, tx)
		}
		if err != nil {
			tx.Rollback() //nolint:errcheck // Best effort cleanup on error path
			tx = nil
		}
		return err
	}
	abort := func() {
		if tx != nil {
			w.close()
			tx.Rollback() //nolint:errcheck // Best effort cleanup on error path
		}
	}
	commit := func() error {
		w.close()
		err := tx.Commit()
		if err != nil {
			return fmt.Errorf("committing load: %w", err)
		}
		committed += w.count
		tx, w = nil, nil
		return nil
	}

	if prepare != nil {
		if err := begin(); err != nil {
			return committed, err
		}
	}
	blanks := newBlankScope()
	for st, err := range stmts {
		if err != nil {
			abort()
			return committed, err
		}
		if tx == nil {
			if err := begin(); err != nil {
				return committed, err
			}
		}
		q := blanks.quad(st, graph(st))
		if err := w.insert(ctx, q); err != nil {
			abort()
			return committed, err
		}
		if plan.batch > 0 && w.count >= int64(plan.batch) {
			if err := commit(); err != nil {
				return committed, err
			}
			if plan.onProgress != nil {
				plan.onProgress(committed, time.Since(start))
			} else {
				s.logger.Debug("load batch committed", "quads", committed)
			}
		}
	}
	if tx != nil {
		if err := commit(); err != nil {
			return committed, err
		}
	}
	return committed, nil
}

// statements reads r with format. Parser failures surface as *ParseError
// unless lenient is set.
func (s *Store) statements(ctx context.Context, r io.Reader, format readerFormat, lenient bool) iter.Seq2[rdf.Statement, error] {
	if lenient && format.LineBased() {
		return s.lenientLines(ctx, r, format)
	}
	return func(yield func(rdf.Statement, error) bool) {
		reader, err := format.NewReader(r, rdf.OptContext(ctx))
		if err != nil {
			yield(rdf.Statement{}, &ParseError{Err: err})
			return
		}
		defer reader.Close() //nolint:errcheck // Reader cleanup

		for {
			st, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(rdf.Statement{}, ctxErr)
					return
				}
				if lenient {
					s.logger.Warn("stopping at unparseable input", "error", err)
					return
				}
				yield(rdf.Statement{}, &ParseError{Err: err})
				return
			}
			if !yield(st, nil) {
				return
			}
		}
	}
}

// lenientLines parses a line-based format one line at a time, skipping lines
// that fail to parse.
func (s *Store) lenientLines(ctx context.Context, r io.Reader, format readerFormat) iter.Seq2[rdf.Statement, error] {
	return func(yield func(rdf.Statement, error) bool) {
		br := bufio.NewReader(r)
		for lineNo := 1; ; lineNo++ {
			if err := ctx.Err(); err != nil {
				yield(rdf.Statement{}, err)
				return
			}
			line, readErr := br.ReadString('\n')
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				yield(rdf.Statement{}, fmt.Errorf("reading line %d: %w", lineNo, readErr))
				return
			}
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				for st, err := range s.statements(ctx, strings.NewReader(line), format, false) {
					if err != nil {
						s.logger.Warn("skipping unparseable line", "line", lineNo, "error", err)
						break
					}
					if !yield(st, nil) {
						return
					}
				}
			}
			if readErr != nil {
				return
			}
		}
	}
}

// blankScope renames the blank nodes of one load so that labels never
// collide with those already in the store.
type blankScope struct {
	prefix string
}

func newBlankScope() blankScope {
	return blankScope{prefix: "b" + strings.ReplaceAll(uuid.NewString(), "-", "") + "_"}
}

func (b blankScope) term(t rdf.Term) rdf.Term {
	switch v := t.(type) {
	case rdf.BlankNode:
		return rdf.BlankNode{ID: b.prefix + v.ID}
	case rdf.TripleTerm:
		return rdf.TripleTerm{S: b.term(v.S), P: v.P, O: b.term(v.O)}
	default:
		return t
	}
}

func (b blankScope) quad(st rdf.Statement, graph rdf.Term) rdf.Quad {
	q := st.AsQuad()
	return rdf.Quad{S: b.term(q.S), P: q.P, O: b.term(q.O), G: b.term(graph)}
}
