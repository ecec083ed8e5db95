// Package httpapi exposes memoria's ingestion/retrieval pipeline over HTTP
// (§6): ingestion, fetch, search, conversation-metadata, and delete
// endpoints, each a thin transport binding over internal/service.
//
// Grounded on internal/httpapi/server.go+handlers.go (full files): the
// ServeMux method+path routing idiom (Go 1.22+ "GET /path/{id}" patterns)
// and respondJSON/respondError/statusFromError helpers, reused verbatim in
// shape and adapted to this engine's error envelope (§6's
// {status,code,message,timestamp,path}).
package httpapi

import (
	"net/http"

	"memoria/internal/service"
)

// Server exposes HTTP endpoints for the memoria service.
type Server struct {
	svc *service.Service
	mux *http.ServeMux
}

// NewServer creates the HTTP API server wired to svc.
func NewServer(svc *service.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	s.mux.HandleFunc("GET /v1/memories", s.handleFetch)
	s.mux.HandleFunc("POST /v1/search", s.handleSearch)
	s.mux.HandleFunc("GET /v1/conversations/{group_id}", s.handleGetMeta)
	s.mux.HandleFunc("POST /v1/conversations", s.handleUpsertMeta)
	s.mux.HandleFunc("PATCH /v1/conversations/{group_id}", s.handlePatchMeta)
	s.mux.HandleFunc("POST /v1/delete", s.handleDelete)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
}
