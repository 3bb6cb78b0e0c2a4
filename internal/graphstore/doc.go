// Package graphstore is the RDF dataset behind the HTTP endpoints.
//
// Quads live in the SQLite tables created by the embedded migrations, one
// row per quad with every term in its N-Triples form. The default graph is
// stored under the empty graph name. Named graphs are tracked in their own
// table so that an empty graph created with CREATE GRAPH or PUT still exists.
//
// SPARQL queries and updates run through package sparql with the store as
// its Source. Updates and non-bulk loads are transactional; bulk loads
// commit in batches and may leave partial data behind on failure.
// WriteGraph and WriteDataset run graph creation and the replace clear in the
// same transaction as the first batch of the load.
//
// Thread Safety:
//   - All Store methods are safe for concurrent use. The database pool has a
//     single connection, so writes are serialised.
//   - Iterators returned by Quads and QuadsInGraph read in pages and do not
//     hold the connection between pages.
package graphstore
