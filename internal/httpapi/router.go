// Package httpapi serves Pocket Relay's small JSON surface: server
// identity/player-count for client-side server lists, and stub routes
// acknowledging the admin/dashboard surface the spec explicitly
// excludes (spec.md §1 Non-goals: "a web dashboard, admin UI").
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pocketrelay/pocketrelay/internal/session"
)

// ServerInfo is the payload a Pocket Relay client shows on its server
// browser screen.
type ServerInfo struct {
	Version      string `json:"version"`
	Players      int    `json:"players"`
	ExternalHost string `json:"externalHost"`
}

// Deps bundles the collaborators the HTTP surface reads from.
type Deps struct {
	Sessions     *session.Manager
	Version      string
	ExternalHost string
}

// NewRouter builds the chi router, grounded on the same middleware
// stack order the pack's chi-based API router uses: request id, real
// IP, logging, panic recovery, timeout.
func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/api/server", d.handleServerInfo)

	notImplemented := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not implemented", http.StatusNotFound)
	}
	r.Get("/api/players", notImplemented)
	r.Get("/api/games", notImplemented)
	r.Get("/api/leaderboard", notImplemented)
	r.Get("/api/token", notImplemented)

	return r
}

func (d *Deps) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	info := ServerInfo{
		Version:      d.Version,
		Players:      d.Sessions.Count(),
		ExternalHost: d.ExternalHost,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
