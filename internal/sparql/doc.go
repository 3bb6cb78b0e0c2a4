// Package sparql parses and evaluates SPARQL 1.1 queries and updates over a
// quad Source.
//
// Evaluation is substitution based: each pattern element runs once per
// incoming solution with the bound variables filled in, so a Source only has
// to answer single quad pattern lookups. Results stream lazily through
// iter.Seq2 values; stopping the iteration stops the evaluation.
//
// Supported: SELECT (with DISTINCT, REDUCED, expressions, GROUP BY, HAVING and
// aggregates), ASK, CONSTRUCT, DESCRIBE, FROM / FROM NAMED, OPTIONAL, UNION,
// MINUS, GRAPH, BIND, VALUES, FILTER with EXISTS, ORDER BY, LIMIT and OFFSET.
// Updates cover INSERT DATA, DELETE DATA, DELETE WHERE, DELETE/INSERT with
// WITH and USING, CLEAR, DROP, CREATE, ADD, MOVE and COPY. Property paths,
// sub-queries, SERVICE and LOAD report ErrUnsupported.
package sparql
