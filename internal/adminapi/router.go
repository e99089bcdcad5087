// Package adminapi exposes the operator-facing HTTP surface for a running
// replication server: health, Prometheus metrics, pprof, and a JSON stats
// dump of store occupancy and per-client ack state. The demo binary binds
// it to localhost unless ALLOW_ADMIN_EXTERNAL=true (see
// config.ServerFromEnv).
package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider is the minimal surface the /stats endpoint needs from a
// running replication system. Implemented by a thin adapter in cmd/replicator
// so this package never imports internal/replication or internal/snapshot
// directly.
type StatsProvider interface {
	Stats() Stats
}

// Stats is the JSON shape returned by /stats.
type Stats struct {
	Entries      int           `json:"entries"`
	MaxEntries   int           `json:"max_entries"`
	Spawns       int           `json:"spawns"`
	MaxSpawns    int           `json:"max_spawns"`
	AllocatorUse int           `json:"allocator_bytes_used"`
	Clients      []ClientStats `json:"clients"`
}

// ClientStats reports one connected client's ack bookkeeping.
type ClientStats struct {
	ClientID      uint64 `json:"client_id"`
	NextSequence  uint64 `json:"next_sequence"`
	LastAcked     uint64 `json:"last_acked_sequence"`
	PendingSpawns int    `json:"pending_spawn_acks"`
}

// Config configures the router. NewRouter never listens, it just returns
// a handler.
type Config struct {
	Provider StatsProvider
}

// NewRouter builds the admin HTTP handler. Constructing it has no side
// effects: no goroutines, no listeners, safe to use directly with
// httptest.NewServer.
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Provider == nil {
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cfg.Provider.Stats())
	})

	r.HandleFunc("/debug/pprof/*", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return r
}
