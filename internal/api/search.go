package api

import (
	"errors"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/geoknoesis/rdf-go/rdf"

	"github.com/kos-kit/kos-server/internal/search"
	"github.com/kos-kit/kos-server/internal/stream"
	"github.com/kos-kit/kos-server/internal/textindex"
)

const headerTotalCount = "X-Total-Count"

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) error {
	text, ok := queryParam(r, "query")
	if !ok {
		return badRequest("You should set the 'query' parameter")
	}
	limit, err := intParam(r, "limit", s.searchCfg.DefaultLimit)
	if err != nil {
		return err
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return err
	}
	if maxWindow := s.searchCfg.MaxWindow; limit > maxWindow || offset > maxWindow-limit {
		return badRequest("The sum of the 'limit' and 'offset' parameters must not exceed %d", maxWindow)
	}

	start := time.Now()
	res, err := s.searcher.Search(r.Context(), text, limit, offset)
	switch {
	case err == nil:
	case errors.Is(err, textindex.ErrInvalidQuery):
		return badRequest("%s", err.Error())
	case errors.Is(err, textindex.ErrEmptyIndex), errors.Is(err, search.ErrNotGraphQuery):
		return newError(http.StatusInternalServerError, "%s", err.Error())
	default:
		return err
	}
	if s.metrics != nil {
		s.metrics.observeSearch(res.Total)
	}
	if s.telemetry != nil {
		s.telemetry.WriteSearch(res.Total, time.Since(start))
	}

	w.Header().Set(headerTotalCount, strconv.FormatUint(res.Total, 10))
	if limit == 0 {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	format, err := negotiateGraph(r)
	if err != nil {
		w.Header().Del(headerTotalCount)
		return err
	}
	body, err := stream.Graph(tripleSeq(res.Triples), format, s.streamErrorHook(r))
	if err != nil {
		w.Header().Del(headerTotalCount)
		return err
	}
	return s.streamBody(w, r, http.StatusOK, format.MediaType(), body)
}

// intParam parses a non-negative integer query parameter.
func intParam(r *http.Request, key string, def int) (int, error) {
	v, ok := queryParam(r, key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("The '%s' parameter must be a non-negative integer", key)
	}
	return n, nil
}

func tripleSeq(triples []rdf.Triple) iter.Seq2[rdf.Triple, error] {
	return func(yield func(rdf.Triple, error) bool) {
		for _, t := range triples {
			if !yield(t, nil) {
				return
			}
		}
	}
}
