// Package handlers is the admin HTTP API and the browser terminal. The
// shared services are assigned by the ssh command before the router starts.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/cargocult/internal/app"
	"github.com/gluk-w/cargocult/internal/sandbox"
	"github.com/gluk-w/cargocult/internal/sessions"
	"github.com/gluk-w/cargocult/internal/store"
)

var (
	Registry *sessions.Registry
	// Gallery is nil when the store is not cached.
	Gallery *store.Cache
	// ImageCheck is nil when docker is unreachable at startup.
	ImageCheck *sandbox.ImageChecker
	Launcher   *app.Launcher
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func uintParam(r *http.Request, name string) (uint, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(n), nil
}

func intQuery(r *http.Request, name string, fallback int) int {
	if q := r.URL.Query().Get(name); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
