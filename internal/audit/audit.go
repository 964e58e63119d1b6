// Package audit records session lifecycle and admin events in the local
// database.
//
// Events are written through a process-wide Auditor installed with
// InitGlobal. When no Auditor is installed the Log* helpers are no-ops, so
// callers never need to check whether auditing is enabled.
package audit

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/cargocult/internal/database"
	"github.com/gluk-w/cargocult/internal/logutil"
)

const (
	EventSessionOpened      = "session_opened"
	EventSessionClosed      = "session_closed"
	EventSessionKicked      = "session_kicked"
	EventRelayStarted       = "relay_started"
	EventRelayEnded         = "relay_ended"
	EventSubmissionSaved    = "submission_saved"
	EventSubmissionApproved = "submission_approved"
)

const DefaultRetentionDays = 30

// Entry holds the fields of one event.
type Entry struct {
	EventType  string
	SessionID  string
	Username   string
	SourceIP   string
	Transport  string
	Details    string
	DurationMs int64
}

type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor writes to db. A retentionDays of 0 selects
// DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{db: db, retentionDays: retentionDays, nowFn: time.Now}
}

func (a *Auditor) Log(e Entry) error {
	record := database.AuditLog{
		EventType:  e.EventType,
		SessionID:  e.SessionID,
		Username:   e.Username,
		SourceIP:   e.SourceIP,
		Transport:  e.Transport,
		Details:    e.Details,
		DurationMs: e.DurationMs,
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write %s event: %v", e.EventType, err)
		return err
	}
	log.Printf("[audit] %s session=%s user=%s %s",
		e.EventType, e.SessionID, logutil.SanitizeForLog(e.Username), logutil.SanitizeForLog(e.Details))
	return nil
}

type QueryOptions struct {
	EventType string
	Username  string
	SessionID string
	Since     *time.Time
	Limit     int
	Offset    int
}

type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query returns matching events, newest first. Limit defaults to 50 and
// is capped at 1000.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.AuditLog{})
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	opts.Limit = min(opts.Limit, 1000)

	var entries []database.AuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// Purge deletes events older than the retention period and returns how
// many were removed.
func (a *Auditor) Purge() (int64, error) {
	cutoff := a.nowFn().AddDate(0, 0, -a.retentionDays)
	res := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	if res.Error != nil {
		log.Printf("[audit] purge failed: %v", res.Error)
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("[audit] purged %d events older than %d days", res.RowsAffected, a.retentionDays)
	}
	return res.RowsAffected, nil
}

var (
	globalMu sync.RWMutex
	global   *Auditor
)

// InitGlobal installs the process-wide Auditor. Passing nil disables
// auditing.
func InitGlobal(a *Auditor) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = a
}

func Get() *Auditor {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Record logs e through the global Auditor, if any.
func Record(e Entry) {
	if a := Get(); a != nil {
		a.Log(e)
	}
}
