// Package api exposes search as a thin HTTP shell over the Searcher.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"webseek/internal/searcher"
)

// SearchService is the query surface the server fronts.
type SearchService interface {
	Search(ctx context.Context, query string, limit, skip int) ([]searcher.Result, error)
}

// Server serves GET /search. Limits out of range are clamped rather than
// rejected.
type Server struct {
	mux          *http.ServeMux
	search       SearchService
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
}

// NewServer creates the HTTP server shell.
func NewServer(search SearchService, defaultLimit, maxLimit int, logger *slog.Logger) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		search:       search,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       logger.With("component", "api_server"),
	}
	s.mux.HandleFunc("GET /search", s.handleSearch)
	return s
}

// Handler returns the route handler for mounting or testing.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("api server starting", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

type searchResponse struct {
	URLs  []string `json:"urls"`
	Count int      `json:"count"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, `missing required parameter "q"`, http.StatusBadRequest)
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), s.defaultLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	skip := parseIntDefault(r.URL.Query().Get("skip"), 0)
	if skip < 0 {
		skip = 0
	}

	s.logger.Info("search request", "q", q, "limit", limit, "skip", skip)
	results, err := s.search.Search(r.Context(), q, limit, skip)
	if err != nil {
		s.logger.Error("search failed", "q", q, "error", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	urls := make([]string, 0, len(results))
	for _, res := range results {
		urls = append(urls, res.URL)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(searchResponse{URLs: urls, Count: len(urls)}); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
