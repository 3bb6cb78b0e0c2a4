package api

import (
	_ "embed"
	"net/http"
)

//go:embed static/index.html
var landingPage []byte

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		return newError(http.StatusMethodNotAllowed, "%s is not supported by this server", r.Method)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(landingPage)
	return nil
}
