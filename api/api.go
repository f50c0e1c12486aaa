// Package api exposes the link index over HTTP: one read-only query route
// plus a liveness route, matching the teacher's xrpc-style route naming and
// its plain root-info-route convention.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ucosm/link-aggregator/index"
	"github.com/ucosm/link-aggregator/telemetry"
)

type Server struct {
	idx    index.Storage
	l      *slog.Logger
	tel    *telemetry.Telemetry
	router http.Handler
}

func New(idx index.Storage, l *slog.Logger, tel *telemetry.Telemetry) *Server {
	s := &Server{idx: idx, l: l, tel: tel}
	s.router = s.newRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	if s.tel != nil {
		mux.Use(s.tel.RequestDuration())
		mux.Use(s.tel.RequestInFlight())
	}

	mux.Get("/xrpc/_health", s.health)
	mux.Get("/xrpc/link.count", s.linkCount)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("this is a link-aggregator server. see https://github.com/ucosm/link-aggregator"))
}

type countResponse struct {
	Count uint64 `json:"count"`
}

// linkCount implements GET /xrpc/link.count?target=&collection=&path=,
// the same query shape as the original /links/count route.
func (s *Server) linkCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("target")
	collection := q.Get("collection")
	path := q.Get("path")

	count, err := s.idx.Count(target, collection, path)
	if err != nil {
		s.l.Error("count failed", "error", err, "target", target, "collection", collection, "path", path)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(countResponse{Count: count})
}
