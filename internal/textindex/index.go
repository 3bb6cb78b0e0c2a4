package textindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

var (
	// ErrInvalidQuery is returned by ParseQuery for malformed query strings,
	// and by Search when limit+offset does not fit in an int.
	ErrInvalidQuery = errors.New("invalid search query")

	// ErrEmptyIndex is returned by Search and Count when nothing was committed.
	ErrEmptyIndex = errors.New("index is empty")
)

// textField is the document field holding the indexed strings.
const textField = "text"

// Hit is one search result.
type Hit struct {
	IRI   string
	Score float64
}

// Query is a parsed search query.
type Query struct {
	q query.Query
}

// document is the indexed form of one IRI.
type document struct {
	Text []string `json:"text"`
}

// Index is a full-text index mapping IRIs to their text.
//
// Add buffers documents until Commit. All methods are safe for concurrent use.
type Index struct {
	idx     bleve.Index
	mu      sync.Mutex // Protects pending
	pending map[string][]string
}

// Open opens the index stored at path, creating it when the directory does
// not exist. An empty path creates an in-memory index.
func Open(path string) (*Index, error) {
	var (
		idx bleve.Index
		err error
	)
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(newMapping())
	case dirExists(path):
		idx, err = bleve.Open(path)
	default:
		idx, err = bleve.New(path, newMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening text index: %w", err)
	}
	return &Index{idx: idx, pending: make(map[string][]string)}, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func newMapping() *mapping.IndexMappingImpl {
	textMapping := bleve.NewTextFieldMapping()
	textMapping.Store = false
	textMapping.IncludeInAll = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(textField, textMapping)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Add queues text for iri. Several calls for the same IRI before a Commit
// produce one document holding every text.
func (i *Index) Add(iri, text string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending[iri] = append(i.pending[iri], text)
}

// Commit writes the queued documents. A document replaces any earlier one
// for the same IRI.
func (i *Index) Commit() error {
	i.mu.Lock()
	pending := i.pending
	i.pending = make(map[string][]string)
	i.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	batch := i.idx.NewBatch()
	for iri, texts := range pending {
		if err := batch.Index(iri, document{Text: texts}); err != nil {
			return fmt.Errorf("indexing %s: %w", iri, err)
		}
	}
	if err := i.idx.Batch(batch); err != nil {
		return fmt.Errorf("committing text index batch: %w", err)
	}
	return nil
}

// DocCount returns the number of committed documents.
func (i *Index) DocCount() (uint64, error) {
	n, err := i.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// ParseQuery parses a query string: terms, "phrases", +required, -excluded,
// field:value and boosts.
func (i *Index) ParseQuery(text string) (Query, error) {
	q, err := bleve.NewQueryStringQuery(text).Parse()
	if err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err) //nolint:errorlint // Parser detail only
	}
	return Query{q: q}, nil
}

// Count returns the number of documents matching q.
func (i *Index) Count(ctx context.Context, q Query) (uint64, error) {
	if err := i.checkNotEmpty(); err != nil {
		return 0, err
	}
	req := bleve.NewSearchRequestOptions(q.q, 0, 0, false)
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("counting matches: %w", err)
	}
	return res.Total, nil
}

// Search returns up to limit hits starting at offset, best score first.
// The order of hits with equal scores is unspecified.
func (i *Index) Search(ctx context.Context, q Query, limit, offset int) ([]Hit, error) {
	if limit < 0 || offset < 0 || offset > math.MaxInt-limit {
		return nil, fmt.Errorf("%w: result window out of range", ErrInvalidQuery)
	}
	if err := i.checkNotEmpty(); err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(q.q, limit, offset, false)
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{IRI: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (i *Index) checkNotEmpty() error {
	n, err := i.DocCount()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEmptyIndex
	}
	return nil
}

// Close releases the index.
func (i *Index) Close() error {
	if err := i.idx.Close(); err != nil {
		return fmt.Errorf("closing text index: %w", err)
	}
	return nil
}
