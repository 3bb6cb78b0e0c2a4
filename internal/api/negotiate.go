package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// negotiate picks the response media type for accept among supported,
// given highest priority first.
//
// An empty header selects supported[0]. Otherwise every Accept entry is
// scored by its q parameter (default 1); an entry only counts when its score
// strictly exceeds the best seen so far, and then the first supported type
// matching its range wins. Wildcards match any type or subtype.
func negotiate(accept string, supported []string) (string, error) {
	for i := 0; i < len(accept); i++ {
		if accept[i] >= 0x80 {
			return "", badRequest("The Accept header should be a valid ASCII string")
		}
	}
	if strings.TrimSpace(accept) == "" {
		return supported[0], nil
	}

	result := ""
	var best float32
	for _, entry := range strings.Split(accept, ",") {
		mediaRange, params, _ := strings.Cut(entry, ";")
		base, sub, ok := strings.Cut(mediaRange, "/")
		if !ok {
			return "", badRequest("Invalid media type: '%s'", mediaRange)
		}
		base, sub = strings.TrimSpace(base), strings.TrimSpace(sub)

		score := float32(1)
		for _, p := range strings.Split(params, ";") {
			v, found := strings.CutPrefix(strings.TrimSpace(p), "q=")
			if !found {
				continue
			}
			q, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
			if err != nil {
				return "", badRequest("Invalid Accept media type score: %s", v)
			}
			score = float32(q)
		}
		if score <= best {
			continue
		}

		for _, candidate := range supported {
			cbase, csub, _ := strings.Cut(candidate, "/")
			if (base == cbase || base == "*") && (sub == csub || sub == "*") {
				result = candidate
				best = score
				break
			}
		}
	}

	if result == "" {
		return "", newError(http.StatusNotAcceptable, "The available Content-Types are %s", strings.Join(supported, ", "))
	}
	return result, nil
}

var (
	graphMediaTypes   = rdfformat.MediaTypes(rdfformat.Graphs)
	datasetMediaTypes = rdfformat.MediaTypes(rdfformat.Datasets)
	resultsMediaTypes = rdfformat.MediaTypes(rdfformat.AllResults)
)

func negotiateGraph(r *http.Request) (rdfformat.Graph, error) {
	mt, err := negotiate(r.Header.Get("Accept"), graphMediaTypes)
	if err != nil {
		return 0, err
	}
	f, _ := rdfformat.GraphFromMediaType(mt)
	return f, nil
}

func negotiateDataset(r *http.Request) (rdfformat.Dataset, error) {
	mt, err := negotiate(r.Header.Get("Accept"), datasetMediaTypes)
	if err != nil {
		return 0, err
	}
	f, _ := rdfformat.DatasetFromMediaType(mt)
	return f, nil
}

func negotiateResults(r *http.Request) (rdfformat.Results, error) {
	mt, err := negotiate(r.Header.Get("Accept"), resultsMediaTypes)
	if err != nil {
		return 0, err
	}
	f, _ := rdfformat.ResultsFromMediaType(mt)
	return f, nil
}

// contentType returns the lower-cased media type of the request body,
// without parameters. It is empty when the header is missing.
func contentType(r *http.Request) string {
	mt, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
