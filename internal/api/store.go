package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/geoknoesis/rdf-go/rdf"
	"github.com/google/uuid"

	"github.com/kos-kit/kos-server/internal/graphstore"
	"github.com/kos-kit/kos-server/internal/rdfformat"
	"github.com/kos-kit/kos-server/internal/stream"
)

// graphTarget is the graph addressed by a /store request: the default graph
// or a named graph.
type graphTarget struct {
	named bool
	iri   rdf.IRI
}

// term returns the graph name, nil for the default graph.
func (t graphTarget) term() rdf.Term {
	if !t.named {
		return nil
	}
	return t.iri
}

func (t graphTarget) String() string {
	if !t.named {
		return "DEFAULT"
	}
	return rdfformat.EncodeTerm(t.iri)
}

// storeTarget resolves the graph addressed by r. It is nil when the request
// addresses the whole dataset. Under /store/ the request URL itself names
// the graph.
func storeTarget(r *http.Request) (*graphTarget, error) {
	base := baseURL(r)
	if r.URL.Path != "/store" {
		return &graphTarget{named: true, iri: rdf.IRI{Value: base}}, nil
	}

	graph, hasGraph := queryParam(r, "graph")
	hasDefault := hasQueryParam(r, "default")
	switch {
	case hasGraph && hasDefault:
		return nil, badRequest("Both graph and default parameters should not be set at the same time")
	case hasGraph:
		iri, err := resolveReference(base, graph)
		if err != nil {
			return nil, err
		}
		return &graphTarget{named: true, iri: rdf.IRI{Value: iri}}, nil
	case hasDefault:
		return &graphTarget{}, nil
	default:
		return nil, nil
	}
}

// resolveReference resolves ref against base.
func resolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", badRequest("%s", err.Error())
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", badRequest("%s", err.Error())
	}
	return b.ResolveReference(u).String(), nil
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) error {
	switch r.Method {
	case http.MethodGet:
		return s.storeGet(w, r)
	case http.MethodHead:
		return s.storeHead(w, r)
	case http.MethodPut, http.MethodPost, http.MethodDelete:
		if s.cfg.ReadOnly {
			return errReadOnly
		}
	default:
		return notSupported(w, r)
	}

	switch r.Method {
	case http.MethodPut:
		return s.storePut(w, r)
	case http.MethodPost:
		return s.storePost(w, r)
	default:
		return s.storeDelete(w, r)
	}
}

// graphExists reports whether t exists; the default graph always does.
func (s *Server) graphExists(ctx context.Context, t *graphTarget) (bool, error) {
	if !t.named {
		return true, nil
	}
	return s.store.ContainsNamedGraph(ctx, t.iri)
}

func graphNotFound(t *graphTarget) error {
	return notFound("The graph %s does not exist", t)
}

func (s *Server) storeGet(w http.ResponseWriter, r *http.Request) error {
	target, err := storeTarget(r)
	if err != nil {
		return err
	}
	ctx := r.Context()

	if target == nil {
		format, err := negotiateDataset(r)
		if err != nil {
			return err
		}
		body, err := stream.Dataset(s.store.Quads(ctx), format, s.streamErrorHook(r))
		if err != nil {
			return err
		}
		return s.streamBody(w, r, http.StatusOK, format.MediaType(), body)
	}

	exists, err := s.graphExists(ctx, target)
	if err != nil {
		return err
	}
	if !exists {
		return graphNotFound(target)
	}
	format, err := negotiateGraph(r)
	if err != nil {
		return err
	}
	body, err := stream.Graph(s.store.QuadsInGraph(ctx, target.term()), format, s.streamErrorHook(r))
	if err != nil {
		return err
	}
	return s.streamBody(w, r, http.StatusOK, format.MediaType(), body)
}

func (s *Server) storeHead(w http.ResponseWriter, r *http.Request) error {
	target, err := storeTarget(r)
	if err != nil {
		return err
	}
	if target != nil {
		exists, err := s.graphExists(r.Context(), target)
		if err != nil {
			return err
		}
		if !exists {
			return graphNotFound(target)
		}
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) storePut(w http.ResponseWriter, r *http.Request) error {
	ct, err := requireContentType(r)
	if err != nil {
		return err
	}
	target, err := storeTarget(r)
	if err != nil {
		return err
	}

	if target == nil {
		format, ok := rdfformat.DatasetFromMediaType(ct)
		if !ok {
			return unsupportedMediaType(ct)
		}
		if err := s.writeDataset(r, format, graphstore.Replace); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	format, ok := rdfformat.GraphFromMediaType(ct)
	if !ok {
		return unsupportedMediaType(ct)
	}
	created, err := s.writeGraph(r, format, target.term(), graphstore.Replace)
	if err != nil {
		return err
	}
	writeGraphStatus(w, created)
	return nil
}

func (s *Server) storePost(w http.ResponseWriter, r *http.Request) error {
	ct, err := requireContentType(r)
	if err != nil {
		return err
	}
	target, err := storeTarget(r)
	if err != nil {
		return err
	}

	if target == nil {
		if format, ok := rdfformat.GraphFromMediaType(ct); ok {
			return s.postNewGraph(w, r, format)
		}
		format, ok := rdfformat.DatasetFromMediaType(ct)
		if !ok {
			return unsupportedMediaType(ct)
		}
		if err := s.writeDataset(r, format, graphstore.Merge); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	format, ok := rdfformat.GraphFromMediaType(ct)
	if !ok {
		return unsupportedMediaType(ct)
	}
	created, err := s.writeGraph(r, format, target.term(), graphstore.Merge)
	if err != nil {
		return err
	}
	writeGraphStatus(w, created)
	return nil
}

func writeGraphStatus(w http.ResponseWriter, created bool) {
	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}

// postNewGraph loads the body into a freshly minted graph under /store/.
func (s *Server) postNewGraph(w http.ResponseWriter, r *http.Request, format rdfformat.Graph) error {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	iri, err := resolveReference(baseURL(r), "/store/"+id)
	if err != nil {
		return err
	}
	if _, err := s.writeGraph(r, format, rdf.IRI{Value: iri}, graphstore.Merge); err != nil {
		return err
	}
	w.Header().Set("Location", iri)
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (s *Server) storeDelete(w http.ResponseWriter, r *http.Request) error {
	target, err := storeTarget(r)
	if err != nil {
		return err
	}
	ctx := r.Context()

	switch {
	case target == nil:
		err = s.store.Clear(ctx)
	case !target.named:
		err = s.store.ClearGraph(ctx, nil)
	default:
		var existed bool
		existed, err = s.store.RemoveNamedGraph(ctx, target.iri)
		if err == nil && !existed {
			return graphNotFound(target)
		}
	}
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// bulkOptions reports whether the request asked for the non-transactional
// loader, and with which options.
func bulkOptions(r *http.Request) (graphstore.BulkOptions, bool) {
	if !hasQueryParam(r, "no_transaction") {
		return graphstore.BulkOptions{}, false
	}
	return graphstore.BulkOptions{Lenient: hasQueryParam(r, "lenient")}, true
}

// writeGraph loads the body into graph, creating a missing named graph in
// the same transaction.
func (s *Server) writeGraph(r *http.Request, format rdfformat.Graph, graph rdf.Term, mode graphstore.WriteMode) (bool, error) {
	var bulk *graphstore.BulkOptions
	if opts, ok := bulkOptions(r); ok {
		bulk = &opts
	}
	created, err := s.store.WriteGraph(r.Context(), r.Body, format, graph, mode, bulk)
	return created, loaderError(err)
}

func (s *Server) writeDataset(r *http.Request, format rdfformat.Dataset, mode graphstore.WriteMode) error {
	var bulk *graphstore.BulkOptions
	if opts, ok := bulkOptions(r); ok {
		bulk = &opts
	}
	return loaderError(s.store.WriteDataset(r.Context(), r.Body, format, mode, bulk))
}

// loaderError maps parse failures to 400; storage failures stay internal.
func loaderError(err error) error {
	if err != nil && errors.Is(err, graphstore.ErrParse) {
		return badRequest("%s", err.Error())
	}
	return err
}
