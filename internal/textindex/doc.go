// Package textindex provides the full-text index behind /search, backed by
// bleve.
//
// Each document is keyed by an IRI and holds one or more strings. Scoring
// is bleve's; this package only parses queries, counts and pages hits.
package textindex
