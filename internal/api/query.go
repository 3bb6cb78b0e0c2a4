package api

import (
	"bytes"
	"errors"
	"iter"
	"net/http"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/rdfformat"
	"github.com/kos-kit/kos-server/internal/sparql"
	"github.com/kos-kit/kos-server/internal/stream"
)

const (
	mediaTypeSPARQLQuery  = "application/sparql-query"
	mediaTypeSPARQLUpdate = "application/sparql-update"
	mediaTypeForm         = "application/x-www-form-urlencoded"
)

func (s *Server) handleQueryGet(w http.ResponseWriter, r *http.Request) error {
	p, err := resolveParams(queryParams, []string{r.URL.RawQuery}, nil)
	if err != nil {
		return err
	}
	return s.evaluateQuery(w, r, p)
}

func (s *Server) handleQueryPost(w http.ResponseWriter, r *http.Request) error {
	p, err := s.resolveBodyParams(w, r, queryParams, mediaTypeSPARQLQuery)
	if err != nil {
		return err
	}
	return s.evaluateQuery(w, r, p)
}

// resolveBodyParams reads the protocol parameters of a POST request whose
// body is either the operation itself (direct) or form data.
func (s *Server) resolveBodyParams(w http.ResponseWriter, r *http.Request, names paramSpec, direct string) (*protocolParams, error) {
	ct, err := requireContentType(r)
	if err != nil {
		return nil, err
	}
	switch ct {
	case direct:
		body, err := s.readBody(w, r)
		if err != nil {
			return nil, err
		}
		return resolveParams(names, []string{r.URL.RawQuery}, &body)
	case mediaTypeForm:
		body, err := s.readBody(w, r)
		if err != nil {
			return nil, err
		}
		return resolveParams(names, []string{r.URL.RawQuery, body}, nil)
	default:
		return nil, unsupportedMediaType(ct)
	}
}

// datasetOverride turns the protocol graph parameters into an evaluation
// dataset. It is nil when none were given.
func datasetOverride(p *protocolParams) *sparql.Dataset {
	switch {
	case p.Union:
		return &sparql.Dataset{UnionDefaultGraph: true}
	case p.hasGraphs():
		return &sparql.Dataset{DefaultGraphs: p.DefaultGraphs, NamedGraphs: p.NamedGraphs}
	default:
		return nil
	}
}

func (s *Server) evaluateQuery(w http.ResponseWriter, r *http.Request, p *protocolParams) error {
	q, err := sparql.ParseQuery(p.Text, baseURL(r))
	if err != nil {
		return badRequest("%s", err.Error())
	}

	results, err := s.store.Query(r.Context(), q, sparql.Options{Dataset: datasetOverride(p)})
	if err != nil {
		if errors.Is(err, sparql.ErrUnsupported) {
			return badRequest("%s", err.Error())
		}
		return err
	}

	switch results.Kind {
	case sparql.SolutionsResult:
		format, err := negotiateResults(r)
		if err != nil {
			return err
		}
		body, err := stream.Solutions(results.Variables, rows(results), format, s.streamErrorHook(r))
		if err != nil {
			return err
		}
		return s.streamBody(w, r, http.StatusOK, format.MediaType(), body)

	case sparql.BooleanResult:
		format, err := negotiateResults(r)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := rdfformat.WriteBoolean(&buf, format, results.Boolean); err != nil {
			return err
		}
		w.Header().Set("Content-Type", format.MediaType())
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // Best-effort write to response; connection may be closed
		w.Write(buf.Bytes())
		return nil

	default:
		format, err := negotiateGraph(r)
		if err != nil {
			return err
		}
		body, err := stream.Graph(results.Triples, format, s.streamErrorHook(r))
		if err != nil {
			return err
		}
		return s.streamBody(w, r, http.StatusOK, format.MediaType(), body)
	}
}

// rows projects solutions onto the result variables, nil for unbound.
func rows(results *sparql.Results) iter.Seq2[[]rdf.Term, error] {
	return func(yield func([]rdf.Term, error) bool) {
		for sol, err := range results.Solutions {
			if err != nil {
				yield(nil, err)
				return
			}
			row := make([]rdf.Term, len(results.Variables))
			for i, v := range results.Variables {
				row[i] = sol[v]
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}
