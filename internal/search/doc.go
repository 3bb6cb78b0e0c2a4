// Package search federates full-text hits with graph data.
//
// A search runs the text query against the index, then runs a configured
// CONSTRUCT or DESCRIBE query once per hit with the hit IRI pre-bound, and
// merges the resulting triples into a single response graph.
//
// BuildIndex fills the index from a SELECT query over the graph store at
// startup.
package search
