package handlers

import (
	"net/http"
	"time"

	"github.com/gluk-w/cargocult/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	dbStatus := "disabled"
	if database.DB != nil {
		dbStatus = "disconnected"
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
		if dbStatus != "connected" {
			status = "unhealthy"
		}
	}

	image := map[string]interface{}{"status": "unknown"}
	if ImageCheck != nil {
		ok, detail, checkedAt := ImageCheck.Status()
		image = map[string]interface{}{"status": "missing", "detail": detail}
		if ok {
			image["status"] = "ok"
		} else if status == "healthy" {
			status = "degraded"
		}
		if !checkedAt.IsZero() {
			image["checked_at"] = checkedAt.UTC().Format(time.RFC3339)
		}
	}

	gallery := map[string]interface{}{"cached": false}
	if Gallery != nil {
		gallery = map[string]interface{}{"cached": true, "entries": Gallery.Len()}
		if at := Gallery.FetchedAt(); !at.IsZero() {
			gallery["fetched_at"] = at.UTC().Format(time.RFC3339)
		}
	}

	sessionCount := 0
	if Registry != nil {
		sessionCount = Registry.Count()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"image":    image,
		"gallery":  gallery,
		"sessions": sessionCount,
	})
}
