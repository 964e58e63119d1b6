package handlers

import (
	"net/http"
	"time"

	"github.com/gluk-w/cargocult/internal/audit"
)

// GetAuditLog lists recorded events, newest first. Filters: event, user,
// session, since (RFC 3339), limit, offset.
func GetAuditLog(w http.ResponseWriter, r *http.Request) {
	a := audit.Get()
	if a == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit log is not enabled")
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		EventType: q.Get("event"),
		Username:  q.Get("user"),
		SessionID: q.Get("session"),
		Limit:     intQuery(r, "limit", 50),
		Offset:    intQuery(r, "offset", 0),
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		opts.Since = &since
	}

	result, err := a.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
