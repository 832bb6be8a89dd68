// Package service exposes a catalog of ONE files over HTTP: listings,
// per-file headers and statistics, and the flattened scaffold skeleton of
// alignment files.
package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pangenome/onecode/pkg/catalog"
	"github.com/pangenome/onecode/pkg/onefile"
	"github.com/pangenome/onecode/pkg/skeleton"
)

// Server handles the HTTP API over one catalog.
type Server struct {
	catalog *catalog.Catalog
	log     zerolog.Logger
}

// New creates a server over the given catalog.
func New(c *catalog.Catalog, log zerolog.Logger) *Server {
	return &Server{catalog: c, log: log}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/files", s.listFiles).Methods(http.MethodGet)
	r.HandleFunc("/files/refresh", s.refresh).Methods(http.MethodPost)
	r.HandleFunc("/files/{name}", s.getFile).Methods(http.MethodGet)
	r.HandleFunc("/files/{name}/stats/{type}", s.getStats).Methods(http.MethodGet)
	r.HandleFunc("/files/{name}/skeleton", s.getSkeleton).Methods(http.MethodGet)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	skipped, err := s.catalog.Refresh()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := struct {
		Files   int               `json:"files"`
		Skipped map[string]string `json:"skipped,omitempty"`
	}{Files: len(s.catalog.List())}
	if len(skipped) > 0 {
		resp.Skipped = make(map[string]string, len(skipped))
		for name, serr := range skipped {
			resp.Skipped[name] = serr.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	entry, ok := s.catalog.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file "+name)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entry, ok := s.catalog.Get(vars["name"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file "+vars["name"])
		return
	}
	if len(vars["type"]) != 1 {
		writeError(w, http.StatusNotFound, "line type must be a single character")
		return
	}
	counts, ok := entry.Lines[vars["type"]]
	if !ok {
		writeError(w, http.StatusNotFound, "no lines of type "+vars["type"])
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Type string `json:"type"`
		onefile.Counts
	}{Type: vars["type"], Counts: counts})
}

func (s *Server) getSkeleton(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	f, err := s.catalog.Open(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer f.Close()

	m, err := skeleton.ScanAll(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	contigs := make(map[int64]skeleton.Contig, m.Count())
	for _, id := range m.IDs() {
		c, _ := m.Get(id)
		contigs[id] = c
	}
	writeJSON(w, http.StatusOK, contigs)
}
