package api

import (
	"io"
	"net/http"
)

// defaultMaxBodyBytes caps query and update bodies when the configuration
// leaves it unset.
const defaultMaxBodyBytes = 1 << 20

// readBody reads a SPARQL query or update body, capped at the configured size.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (string, error) {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return "", badRequest("%s", err.Error())
	}
	return string(data), nil
}

// baseURL is the request URL without query and fragment. It is the base IRI
// of queries, updates and graph names.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.EscapedPath()
}

// streamBody sends body with status, closing it when the copy ends or the
// client goes away.
func (s *Server) streamBody(w http.ResponseWriter, r *http.Request, status int, mediaType string, body io.ReadCloser) error {
	defer body.Close() //nolint:errcheck // Releases the producer; never fails

	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(status)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Debug("response body aborted",
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	}
	return nil
}

// streamErrorHook logs errors that end a streamed body after the status
// has been sent.
func (s *Server) streamErrorHook(r *http.Request) func(error) {
	return func(err error) {
		s.logger.Error("serialization failed mid-stream",
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	}
}

// requireContentType returns the body media type or a 400 when none is given.
func requireContentType(r *http.Request) (string, error) {
	ct := contentType(r)
	if ct == "" {
		return "", badRequest("No Content-Type given")
	}
	return ct, nil
}

// hasQueryParam reports whether the URL query string carries key, with or
// without a value.
func hasQueryParam(r *http.Request, key string) bool {
	_, ok := queryParam(r, key)
	return ok
}

// queryParam returns the first value of key in the URL query string.
func queryParam(r *http.Request, key string) (string, bool) {
	for _, kv := range decodeForm(r.URL.RawQuery) {
		if kv.key == key {
			return kv.value, true
		}
	}
	return "", false
}
