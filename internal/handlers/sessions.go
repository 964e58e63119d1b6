package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func ListSessions(w http.ResponseWriter, r *http.Request) {
	if Registry == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, Registry.List())
}

// CloseSession force-closes a session on any transport.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if Registry == nil || Registry.Get(id) == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err := Registry.CloseSession(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
