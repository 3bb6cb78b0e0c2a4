package api

import (
	"errors"
	"net/http"

	"github.com/kos-kit/kos-server/internal/sparql"
)

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) error {
	if s.cfg.ReadOnly {
		return errReadOnly
	}
	p, err := s.resolveBodyParams(w, r, updateParams, mediaTypeSPARQLUpdate)
	if err != nil {
		return err
	}

	u, err := sparql.ParseUpdate(p.Text, baseURL(r))
	if err != nil {
		return badRequest("%s", err.Error())
	}
	if u.HasDatasetClause() {
		switch {
		case p.Union:
			return badRequest("using-union-graph must not be used with a SPARQL UPDATE containing USING")
		case p.hasGraphs():
			return badRequest("using-graph-uri and using-named-graph-uri must not be used with a SPARQL UPDATE containing USING")
		}
	}

	err = s.store.Update(r.Context(), u, sparql.Options{Dataset: datasetOverride(p)})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
		return nil
	case errors.Is(err, sparql.ErrGraphNotFound),
		errors.Is(err, sparql.ErrGraphExists),
		errors.Is(err, sparql.ErrUnsupported):
		return badRequest("%s", err.Error())
	default:
		return err
	}
}
