// Package rdfformat is the registry of serialization formats understood by
// kos-server.
//
// Formats form a closed union: a value is exactly one of Graph (triples),
// Dataset (quads) or Results (SPARQL query results). Lookups by media type
// are per kind; lookups by file extension span every kind and report
// ErrUnknownFormat or ErrAmbiguousExtension explicitly.
//
// Graph and dataset parsing and serialization delegate to rdf-go. Results
// serialization (JSON, XML, CSV, TSV) and the N-Triples term encoding used as
// the storage key format live here.
package rdfformat
