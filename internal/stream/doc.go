// Package stream adapts push-style serializers to pull-style readers, so an
// HTTP response body can be produced incrementally with bounded memory.
package stream
