package bulkload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/geoknoesis/rdf-go/rdf"
	"golang.org/x/sync/errgroup"

	"github.com/kos-kit/kos-server/internal/graphstore"
	"github.com/kos-kit/kos-server/internal/infrastructure/config"
	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// Logger defines the logging interface used by the loader.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store is the write side of the graph store used for bulk loading.
type Store interface {
	BulkLoadGraph(ctx context.Context, r io.Reader, format rdfformat.Graph, graph rdf.Term, opts graphstore.BulkOptions) (int64, error)
	BulkLoadDataset(ctx context.Context, r io.Reader, format rdfformat.Dataset, opts graphstore.BulkOptions) (int64, error)
	Flush(ctx context.Context) error
}

// Result reports the outcome of one file.
type Result struct {
	Path     string
	Quads    int64
	Duration time.Duration
	Err      error
}

// Rate returns the quads loaded per second.
func (r Result) Rate() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Quads) / r.Duration.Seconds()
}

// Progress reports a file still being loaded, after each committed batch.
type Progress struct {
	Path    string
	Quads   int64
	Elapsed time.Duration
}

// Rate returns the quads loaded per second so far.
func (p Progress) Rate() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Quads) / p.Elapsed.Seconds()
}

// Summary aggregates the results of a run.
type Summary struct {
	Files    int
	Failed   int
	Quads    int64
	Duration time.Duration
}

// Loader runs bulk loads with a bounded worker pool.
type Loader struct {
	store    Store
	cfg      config.BulkLoadConfig
	logger   Logger
	mu         sync.RWMutex // Protects onResult and onProgress
	onResult   func(Result)
	onProgress func(Progress)
}

// New creates a Loader for store.
func New(store Store, cfg config.BulkLoadConfig) *Loader {
	return &Loader{store: store, cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the loader.
func (l *Loader) SetLogger(logger Logger) {
	l.logger = logger
}

// SetOnResult sets a callback invoked once per finished file, from the
// collecting goroutine.
func (l *Loader) SetOnResult(callback func(Result)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onResult = callback
}

// SetOnProgress sets a callback invoked after every committed batch. It is
// called from the worker loading the file and must be safe for concurrent use.
func (l *Loader) SetOnProgress(callback func(Progress)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onProgress = callback
}

func (l *Loader) progress(p Progress) {
	l.logger.Info("bulk load progress",
		"path", p.Path,
		"quads", p.Quads,
		"elapsed_s", int64(p.Elapsed.Seconds()),
		"quads_per_s", int64(p.Rate()),
	)

	l.mu.RLock()
	callback := l.onProgress
	l.mu.RUnlock()
	if callback != nil {
		callback(p)
	}
}

func (l *Loader) workers() int {
	if l.cfg.Workers > 0 {
		return l.cfg.Workers
	}
	return max(1, runtime.NumCPU()/2)
}

// Run loads every file under path, then flushes the store.
//
// With the "continue" policy a failing file is logged and the others carry
// on. With "fail" the first failure cancels the remaining files and Run
// returns it. The store is flushed in both cases before returning.
func (l *Loader) Run(ctx context.Context, path string) (Summary, error) {
	start := time.Now()
	files, err := listFiles(path)
	if err != nil {
		return Summary{}, err
	}
	l.logger.Info("bulk load starting", "path", path, "files", len(files), "workers", l.workers())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers())
	results := make(chan Result)

	var (
		summary   Summary
		collected = make(chan struct{})
	)
	go func() {
		defer close(collected)
		for r := range results {
			summary.Files++
			summary.Quads += r.Quads
			if r.Err != nil {
				summary.Failed++
			}
			l.report(r)
		}
	}()

	failFast := l.cfg.OnError == config.OnErrorFail
	for _, file := range files {
		g.Go(func() error {
			r := l.loadFile(gctx, file)
			results <- r
			if r.Err != nil && failFast {
				return fmt.Errorf("loading %s: %w", r.Path, r.Err)
			}
			return nil
		})
	}
	runErr := g.Wait()
	close(results)
	<-collected

	if err := l.store.Flush(ctx); err != nil {
		return summary, errors.Join(runErr, fmt.Errorf("flushing store: %w", err))
	}
	summary.Duration = time.Since(start)
	l.logger.Info("bulk load finished",
		"files", summary.Files,
		"failed", summary.Failed,
		"quads", summary.Quads,
		"elapsed_s", summary.Duration.Seconds(),
	)
	return summary, runErr
}

func (l *Loader) report(r Result) {
	if r.Err != nil {
		l.logger.Warn("bulk load file failed", "path", r.Path, "quads", r.Quads, "error", r.Err)
	} else {
		l.logger.Info("bulk load file done",
			"path", r.Path,
			"quads", r.Quads,
			"elapsed_s", r.Duration.Seconds(),
			"quads_per_s", int64(r.Rate()),
		)
	}

	l.mu.RLock()
	callback := l.onResult
	l.mu.RUnlock()
	if callback != nil {
		callback(r)
	}
}

func (l *Loader) loadFile(ctx context.Context, path string) Result {
	start := time.Now()
	r := Result{Path: path}

	format, comp, err := detect(path)
	if err != nil {
		r.Err = err
		r.Duration = time.Since(start)
		return r
	}
	rc, err := open(path, comp)
	if err != nil {
		r.Err = err
		r.Duration = time.Since(start)
		return r
	}
	defer rc.Close() //nolint:errcheck // Read-only file

	opts := graphstore.BulkOptions{
		BatchSize: l.cfg.BatchSize,
		OnProgress: func(quads int64, elapsed time.Duration) {
			l.progress(Progress{Path: path, Quads: quads, Elapsed: elapsed})
		},
	}
	switch f := format.(type) {
	case rdfformat.Graph:
		r.Quads, r.Err = l.store.BulkLoadGraph(ctx, rc, f, nil, opts)
	case rdfformat.Dataset:
		r.Quads, r.Err = l.store.BulkLoadDataset(ctx, rc, f, opts)
	}
	r.Duration = time.Since(start)
	return r
}
