package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/cargocult/internal/audit"
	"github.com/gluk-w/cargocult/internal/config"
	"github.com/gluk-w/cargocult/internal/crypto"
	"github.com/gluk-w/cargocult/internal/database"
	"github.com/gluk-w/cargocult/internal/logutil"
	"github.com/gluk-w/cargocult/internal/store"
)

// submissionResponse is a submission as shown to admins. Contact details
// are masked and the postal address is left out.
type submissionResponse struct {
	ID          uint      `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	SlackHandle string    `json:"slack_handle"`
	Email       string    `json:"email"`
	Country     string    `json:"country"`
	PackageLink string    `json:"package_link"`
	Description string    `json:"description"`
	Hours       string    `json:"hours"`
	PackageName string    `json:"package_name,omitempty"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"created_at"`
}

type approveRequest struct {
	PackageName string `json:"package_name"`
}

// requireDatabase rejects the request unless submissions live in the local
// database.
func requireDatabase(w http.ResponseWriter) bool {
	if database.DB == nil || config.Cfg.StoreBackend != "sqlite" {
		writeError(w, http.StatusServiceUnavailable, "Submissions are not stored locally")
		return false
	}
	return true
}

func ListSubmissions(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w) {
		return
	}

	approvedOnly := r.URL.Query().Get("approved") == "true"
	rows, err := database.ListSubmissions(approvedOnly, intQuery(r, "limit", store.ListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list submissions")
		return
	}

	resp := make([]submissionResponse, 0, len(rows))
	for i := range rows {
		data, err := store.FromRow(&rows[i])
		if err != nil {
			log.Printf("[admin] %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to decrypt submission")
			return
		}
		resp = append(resp, submissionResponse{
			ID:          rows[i].ID,
			Type:        data.Type,
			Name:        data.Name,
			SlackHandle: data.SlackHandle,
			Email:       crypto.Mask(data.Email),
			Country:     data.Country,
			PackageLink: data.PackageLink,
			Description: data.Description,
			Hours:       data.Hours,
			PackageName: data.Package(),
			Approved:    rows[i].Approved,
			CreatedAt:   rows[i].CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApproveSubmission publishes a submission to the gallery under the given
// package name and refreshes the gallery cache.
func ApproveSubmission(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w) {
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body approveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	body.PackageName = strings.TrimSpace(body.PackageName)
	if body.PackageName == "" {
		writeError(w, http.StatusBadRequest, "package_name is required")
		return
	}

	if err := database.ApproveSubmission(id, body.PackageName); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Submission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to approve submission")
		return
	}
	log.Printf("[admin] approved submission %d as %s", id, logutil.SanitizeForLog(body.PackageName))
	audit.Record(audit.Entry{
		EventType: audit.EventSubmissionApproved,
		SourceIP:  r.RemoteAddr,
		Details:   fmt.Sprintf("id=%d package=%s", id, body.PackageName),
	})

	if Gallery != nil {
		if err := Gallery.Refresh(r.Context()); err != nil {
			log.Printf("[admin] refresh gallery: %v", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
