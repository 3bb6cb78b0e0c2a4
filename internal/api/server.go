package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/graphstore"
	"github.com/kos-kit/kos-server/internal/infrastructure/config"
	"github.com/kos-kit/kos-server/internal/infrastructure/logging"
	"github.com/kos-kit/kos-server/internal/rdfformat"
	"github.com/kos-kit/kos-server/internal/search"
	"github.com/kos-kit/kos-server/internal/sparql"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// GraphStore is the dataset served by the query, update and store routes.
// Implementations must be safe for concurrent use.
type GraphStore interface {
	Query(ctx context.Context, q *sparql.Query, opts sparql.Options) (*sparql.Results, error)
	Update(ctx context.Context, u *sparql.Update, opts sparql.Options) error
	WriteGraph(ctx context.Context, r io.Reader, format rdfformat.Graph, graph rdf.Term, mode graphstore.WriteMode, bulk *graphstore.BulkOptions) (bool, error)
	WriteDataset(ctx context.Context, r io.Reader, format rdfformat.Dataset, mode graphstore.WriteMode, bulk *graphstore.BulkOptions) error
	ContainsNamedGraph(ctx context.Context, graph rdf.Term) (bool, error)
	RemoveNamedGraph(ctx context.Context, graph rdf.Term) (bool, error)
	ClearGraph(ctx context.Context, graph rdf.Term) error
	Clear(ctx context.Context) error
	QuadsInGraph(ctx context.Context, graph rdf.Term) iter.Seq2[rdf.Triple, error]
	Quads(ctx context.Context) iter.Seq2[rdf.Quad, error]
}

// Searcher answers /search requests.
type Searcher interface {
	Search(ctx context.Context, text string, limit, offset int) (*search.Result, error)
}

// Telemetry receives one point per served request and per search. It is
// implemented by the InfluxDB client.
type Telemetry interface {
	WriteRequest(method, route string, status int, elapsed time.Duration)
	WriteSearch(matches uint64, elapsed time.Duration)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Search    config.SearchConfig
	Logger    *logging.Logger
	Store     GraphStore
	Searcher  Searcher // If nil, /search answers 404
	Metrics   *Metrics  // If nil, /metrics answers 404 and requests are not counted
	Telemetry Telemetry // Optional
	Version   string
}

// Server is the HTTP front end of kos-server.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	searchCfg config.SearchConfig
	logger    *logging.Logger
	store     GraphStore
	searcher  Searcher
	metrics   *Metrics
	telemetry Telemetry
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("graph store is required")
	}

	return &Server{
		cfg:       deps.Config,
		searchCfg: deps.Search,
		logger:    deps.Logger,
		store:     deps.Store,
		searcher:  deps.Searcher,
		metrics:   deps.Metrics,
		telemetry: deps.Telemetry,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
