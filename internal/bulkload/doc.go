// Package bulkload ingests RDF files into the graph store at startup.
//
// A path is either one file or a directory whose regular files are all
// loaded. Files ending in .gz or .zst are decompressed and the format is
// taken from the remaining extension. Files load in parallel on a bounded
// pool; each reports a Result, and the store is flushed once all have
// finished.
package bulkload
