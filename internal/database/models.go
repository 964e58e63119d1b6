package database

import "time"

// Submission is one form entry. The contact and address columns hold
// fernet tokens, never plaintext.
type Submission struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Type         string    `gorm:"not null;default:Submission" json:"type"`
	Name         string    `gorm:"not null" json:"-"`
	SlackHandle  string    `json:"slack_handle"`
	Email        string    `json:"-"`
	AddressLine1 string    `json:"-"`
	AddressLine2 string    `json:"-"`
	City         string    `json:"-"`
	State        string    `json:"-"`
	Zip          string    `json:"-"`
	Country      string    `json:"-"`
	PackageLink  string    `json:"package_link"`
	Description  string    `gorm:"type:text" json:"description"`
	Hours        string    `json:"hours"`
	PackageName  *string   `gorm:"index" json:"package_name"`
	Approved     bool      `gorm:"not null;default:false;index" json:"approved"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AuditLog is one recorded session or admin event.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType  string    `gorm:"not null;index" json:"event_type"`
	SessionID  string    `gorm:"index" json:"session_id,omitempty"`
	Username   string    `gorm:"index" json:"username"`
	SourceIP   string    `json:"source_ip,omitempty"`
	Transport  string    `json:"transport,omitempty"`
	Details    string    `gorm:"type:text" json:"details,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
