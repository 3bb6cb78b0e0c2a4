package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/infrastructure/database"
	"github.com/kos-kit/kos-server/internal/sparql"
)

// Logger defines the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeKind names the mutation reported by a Change.
type ChangeKind string

// Mutation kinds.
const (
	ChangeUpdate ChangeKind = "update"
	ChangeLoad   ChangeKind = "load"
	ChangeCreate ChangeKind = "create"
	ChangeClear  ChangeKind = "clear"
	ChangeRemove ChangeKind = "remove"
)

// Change describes a committed mutation of the dataset.
type Change struct {
	Kind ChangeKind

	// Graph is the N-Triples form of the affected graph. It is empty for the
	// default graph and for changes spanning the whole dataset.
	Graph string

	// Quads is the number of quads written by a load.
	Quads int64
}

// Store is the SQLite-backed RDF dataset.
type Store struct {
	db       *database.DB
	src      quadSource
	logger   Logger
	mu       sync.RWMutex // Protects onChange
	onChange func(Change)
}

// New creates a Store over a migrated database.
func New(db *database.DB) *Store {
	return &Store{
		db:     db,
		src:    quadSource{q: db.DB},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnChange sets a callback invoked after every committed mutation.
// The callback runs on the mutating goroutine and must not block.
func (s *Store) SetOnChange(callback func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = callback
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	callback := s.onChange
	s.mu.RUnlock()
	if callback != nil {
		callback(c)
	}
}

// Query evaluates a parsed SPARQL query. Results are produced lazily while
// the caller iterates them.
func (s *Store) Query(ctx context.Context, q *sparql.Query, opts sparql.Options) (*sparql.Results, error) {
	return sparql.Evaluate(ctx, s.src, q, opts)
}

// Update applies a parsed SPARQL update atomically.
func (s *Store) Update(ctx context.Context, u *sparql.Update, opts sparql.Options) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return sparql.ExecuteUpdate(ctx, quadSource{q: tx}, u, opts)
	})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeUpdate})
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ContainsNamedGraph reports whether the named graph exists, even if empty.
func (s *Store) ContainsNamedGraph(ctx context.Context, graph rdf.Term) (bool, error) {
	return s.src.ContainsGraph(ctx, graph)
}

// CreateNamedGraph creates an empty named graph. It is a no-op when the
// graph exists.
func (s *Store) CreateNamedGraph(ctx context.Context, graph rdf.Term) error {
	if err := s.src.CreateGraph(ctx, graph); err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeCreate, Graph: graphKey(graph)})
	return nil
}

// RemoveNamedGraph deletes a named graph and its quads. It reports false
// when the graph did not exist.
func (s *Store) RemoveNamedGraph(ctx context.Context, graph rdf.Term) (bool, error) {
	var existed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		src := quadSource{q: tx}
		var err error
		existed, err = src.ContainsGraph(ctx, graph)
		if err != nil || !existed {
			return err
		}
		return src.DropGraph(ctx, graph)
	})
	if err != nil {
		return false, err
	}
	if existed {
		s.notify(Change{Kind: ChangeRemove, Graph: graphKey(graph)})
	}
	return existed, nil
}

// ClearGraph removes every quad of graph; nil is the default graph. A named
// graph keeps existing.
func (s *Store) ClearGraph(ctx context.Context, graph rdf.Term) error {
	if err := s.src.ClearGraph(ctx, graph); err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeClear, Graph: graphKey(graph)})
	return nil
}

// Clear removes every quad and every named graph.
func (s *Store) Clear(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error { return clearAll(ctx, tx) })
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeClear})
	return nil
}

func clearAll(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM quads"); err != nil {
		return fmt.Errorf("clearing quads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM named_graphs"); err != nil {
		return fmt.Errorf("clearing named graphs: %w", err)
	}
	return nil
}

// IsEmpty reports whether the dataset holds no quads.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM quads)").Scan(&exists); err != nil {
		return false, fmt.Errorf("checking for quads: %w", err)
	}
	return !exists, nil
}

// Len returns the number of quads in the dataset.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM quads").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting quads: %w", err)
	}
	return n, nil
}

// Flush makes every committed write durable in the main database file.
func (s *Store) Flush(ctx context.Context) error {
	return s.db.Checkpoint(ctx)
}
