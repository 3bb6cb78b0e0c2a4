package rdfformat

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/geoknoesis/rdf-go/rdf"
)

// Sentinel errors returned by format lookups.
var (
	// ErrUnknownFormat means no format is registered for the extension or media type.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrAmbiguousExtension means an extension maps to more than one format.
	ErrAmbiguousExtension = errors.New("ambiguous file extension")
)

// Format is the closed union of every serialization the server knows:
// exactly one of Graph, Dataset or Results.
type Format interface {
	MediaType() string
	Extension() string
	isFormat()
}

// Graph is a triple serialization.
type Graph uint8

// Graph formats, in content negotiation priority order.
const (
	NTriples Graph = iota + 1
	Turtle
	RDFXML
	JSONLD
)

// Graphs lists the graph formats in negotiation priority order.
var Graphs = []Graph{NTriples, Turtle, RDFXML, JSONLD}

// Dataset is a quad serialization.
type Dataset uint8

// Dataset formats, in content negotiation priority order.
const (
	NQuads Dataset = iota + 1
	TriG
)

// Datasets lists the dataset formats in negotiation priority order.
var Datasets = []Dataset{NQuads, TriG}

// Results is a SPARQL query results serialization.
type Results uint8

// Results formats, in content negotiation priority order.
const (
	ResultsJSON Results = iota + 1
	ResultsXML
	ResultsCSV
	ResultsTSV
)

// AllResults lists the results formats in negotiation priority order.
var AllResults = []Results{ResultsJSON, ResultsXML, ResultsCSV, ResultsTSV}

type formatInfo struct {
	mediaType  string
	extension  string
	aliases    []string // extra media types accepted on input
	extensions []string // extra extensions accepted on input
}

var graphInfo = map[Graph]formatInfo{
	NTriples: {mediaType: "application/n-triples", extension: "nt", aliases: []string{"text/plain"}},
	Turtle:   {mediaType: "text/turtle", extension: "ttl", aliases: []string{"application/x-turtle"}},
	RDFXML:   {mediaType: "application/rdf+xml", extension: "rdf", extensions: []string{"xml", "owl"}},
	JSONLD:   {mediaType: "application/ld+json", extension: "jsonld", extensions: []string{"json"}},
}

var datasetInfo = map[Dataset]formatInfo{
	NQuads: {mediaType: "application/n-quads", extension: "nq"},
	TriG:   {mediaType: "application/trig", extension: "trig"},
}

var resultsInfo = map[Results]formatInfo{
	ResultsJSON: {mediaType: "application/sparql-results+json", extension: "srj", extensions: []string{"json"}},
	ResultsXML:  {mediaType: "application/sparql-results+xml", extension: "srx", extensions: []string{"xml"}},
	ResultsCSV:  {mediaType: "text/csv", extension: "csv"},
	ResultsTSV:  {mediaType: "text/tab-separated-values", extension: "tsv"},
}

// MediaType returns the canonical media type.
func (g Graph) MediaType() string { return graphInfo[g].mediaType }

// Extension returns the canonical file extension without the dot.
func (g Graph) Extension() string { return graphInfo[g].extension }

func (g Graph) String() string { return g.MediaType() }

func (Graph) isFormat() {}

func (g Graph) rdf() rdf.Format {
	switch g {
	case NTriples:
		return rdf.FormatNTriples
	case Turtle:
		return rdf.FormatTurtle
	case RDFXML:
		return rdf.FormatRDFXML
	case JSONLD:
		return rdf.FormatJSONLD
	}
	return ""
}

// LineBased reports whether each statement occupies exactly one line, which
// lets a lenient reader skip a bad record and carry on.
func (g Graph) LineBased() bool { return g == NTriples }

// NewReader returns a streaming parser for g.
func (g Graph) NewReader(r io.Reader, opts ...rdf.Option) (rdf.Reader, error) {
	if g == Turtle {
		r = newDirectiveSplitter(r)
	}
	return rdf.NewReader(r, g.rdf(), opts...)
}

// NewWriter returns a streaming serializer for g.
func (g Graph) NewWriter(w io.Writer) (rdf.Writer, error) {
	return rdf.NewWriter(w, g.rdf())
}

// MediaType returns the canonical media type.
func (d Dataset) MediaType() string { return datasetInfo[d].mediaType }

// Extension returns the canonical file extension without the dot.
func (d Dataset) Extension() string { return datasetInfo[d].extension }

func (d Dataset) String() string { return d.MediaType() }

func (Dataset) isFormat() {}

func (d Dataset) rdf() rdf.Format {
	switch d {
	case NQuads:
		return rdf.FormatNQuads
	case TriG:
		return rdf.FormatTriG
	}
	return ""
}

// LineBased reports whether each statement occupies exactly one line.
func (d Dataset) LineBased() bool { return d == NQuads }

// NewReader returns a streaming parser for d.
func (d Dataset) NewReader(r io.Reader, opts ...rdf.Option) (rdf.Reader, error) {
	if d == TriG {
		r = newDirectiveSplitter(r)
	}
	return rdf.NewReader(r, d.rdf(), opts...)
}

// NewWriter returns a streaming serializer for d.
func (d Dataset) NewWriter(w io.Writer) (rdf.Writer, error) {
	return rdf.NewWriter(w, d.rdf())
}

// MediaType returns the canonical media type.
func (r Results) MediaType() string { return resultsInfo[r].mediaType }

// Extension returns the canonical file extension without the dot.
func (r Results) Extension() string { return resultsInfo[r].extension }

func (r Results) String() string { return r.MediaType() }

func (Results) isFormat() {}

// GraphFromMediaType maps a Content-Type value (parameters ignored) to a graph format.
func GraphFromMediaType(mediaType string) (Graph, bool) {
	mt := normalizeMediaType(mediaType)
	for _, g := range Graphs {
		if matchesMediaType(graphInfo[g], mt) {
			return g, true
		}
	}
	return 0, false
}

// DatasetFromMediaType maps a Content-Type value (parameters ignored) to a dataset format.
func DatasetFromMediaType(mediaType string) (Dataset, bool) {
	mt := normalizeMediaType(mediaType)
	for _, d := range Datasets {
		if matchesMediaType(datasetInfo[d], mt) {
			return d, true
		}
	}
	return 0, false
}

// ResultsFromMediaType maps a Content-Type value (parameters ignored) to a results format.
func ResultsFromMediaType(mediaType string) (Results, bool) {
	mt := normalizeMediaType(mediaType)
	for _, r := range AllResults {
		if matchesMediaType(resultsInfo[r], mt) {
			return r, true
		}
	}
	return 0, false
}

// FromExtension resolves a file extension (with or without the leading dot)
// to its single format. It returns ErrUnknownFormat when nothing matches and
// ErrAmbiguousExtension when several formats claim the extension.
func FromExtension(ext string) (Format, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	var matches []Format
	for _, g := range Graphs {
		if matchesExtension(graphInfo[g], ext) {
			matches = append(matches, g)
		}
	}
	for _, d := range Datasets {
		if matchesExtension(datasetInfo[d], ext) {
			matches = append(matches, d)
		}
	}
	for _, r := range AllResults {
		if matchesExtension(resultsInfo[r], ext) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: the file extension '%s' is unknown", ErrUnknownFormat, ext)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.MediaType()
		}
		return nil, fmt.Errorf("%w: the file extension '%s' can be resolved to %s",
			ErrAmbiguousExtension, ext, strings.Join(names, " and "))
	}
}

// MediaTypes returns the canonical media types of formats, in order.
func MediaTypes[F Format](formats []F) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = f.MediaType()
	}
	return out
}

func normalizeMediaType(mediaType string) string {
	mt, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func matchesMediaType(info formatInfo, mt string) bool {
	if info.mediaType == mt {
		return true
	}
	for _, alias := range info.aliases {
		if alias == mt {
			return true
		}
	}
	return false
}

func matchesExtension(info formatInfo, ext string) bool {
	if info.extension == ext {
		return true
	}
	for _, e := range info.extensions {
		if e == ext {
			return true
		}
	}
	return false
}
