// Package api implements the HTTP front end of kos-server.
//
// This package provides:
//   - The SPARQL 1.1 Protocol on /query and /update
//   - The SPARQL 1.1 Graph Store HTTP Protocol on /store and /store/{id}
//   - Federated full-text search on /search
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - Health and Prometheus metrics endpoints
//
// # Architecture
//
// Handlers resolve protocol parameters from the query string and the body,
// negotiate the response format from the Accept header, and call the graph
// store or the search federator. Results are serialized lazily: the body is
// pulled from a stream.Reader as the connection writes it, so memory stays
// bounded whatever the size of the result.
//
// # Errors
//
// Handlers return *Error values carrying the HTTP status. They are written
// as text/plain bodies. Any other error is logged and answered with 500.
// Once a streamed body has started, a failure can no longer change the
// status; its message is appended to the body instead.
//
// # Read-only mode
//
// With api.read_only set, /update and every mutating /store call answer 403
// before the request is looked at.
package api
