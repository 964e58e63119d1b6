// Package store persists form submissions and serves the approved ones to
// the gallery. Two backends exist: Airtable over HTTP and a local sqlite
// database with encrypted personal data.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gluk-w/cargocult/internal/config"
)

// ListLimit caps how many approved submissions a single query returns.
const ListLimit = 100

var ErrNotFound = errors.New("submission not found")

// FormData is one submission. JSON names are the Airtable column titles.
type FormData struct {
	Type         string  `json:"Type"`
	Name         string  `json:"Name"`
	SlackHandle  string  `json:"Slack Handle"`
	Email        string  `json:"Email"`
	AddressLine1 string  `json:"Address Line 1"`
	AddressLine2 string  `json:"Address Line 2"`
	City         string  `json:"City"`
	State        string  `json:"State"`
	Zip          string  `json:"Zip"`
	Country      string  `json:"Country"`
	PackageLink  string  `json:"Package Link"`
	Description  string  `json:"Description"`
	Hours        string  `json:"Hours"`
	PackageName  *string `json:"Package Name,omitempty"`
}

// NewFormData returns an empty new-project submission.
func NewFormData() FormData {
	return FormData{Type: "Submission"}
}

// Package returns the package name, or "" if none was assigned yet.
func (f FormData) Package() string {
	if f.PackageName == nil {
		return ""
	}
	return *f.PackageName
}

// Store is the submission data store.
type Store interface {
	// ListApproved returns up to ListLimit approved submissions.
	ListApproved(ctx context.Context) ([]FormData, error)
	// Create appends a submission.
	Create(ctx context.Context, data FormData) error
}

// FindPackage returns the approved submission installed as pkg.
func FindPackage(ctx context.Context, s Store, pkg string) (FormData, error) {
	subs, err := s.ListApproved(ctx)
	if err != nil {
		return FormData{}, err
	}
	for _, sub := range subs {
		if sub.Package() == pkg {
			return sub, nil
		}
	}
	return FormData{}, fmt.Errorf("%w: %s", ErrNotFound, pkg)
}

// FromConfig builds the backend selected by CARGOCULT_STORE_BACKEND. The
// sqlite backend expects database.Init to have run.
func FromConfig() (Store, error) {
	switch config.Cfg.StoreBackend {
	case "airtable", "":
		if config.Cfg.AirtableKey == "" {
			return nil, fmt.Errorf("airtable backend requires CARGOCULT_AIRTABLE_KEY")
		}
		return NewAirtable(AirtableConfig{
			BaseURL: config.Cfg.AirtableURL,
			Key:     config.Cfg.AirtableKey,
			BaseID:  config.Cfg.AirtableBaseID,
			Table:   config.Cfg.AirtableTable,
			View:    config.Cfg.AirtableView,
		}), nil
	case "sqlite":
		return NewSQLite(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Cfg.StoreBackend)
	}
}

// Field returns the form field named by a content question, or nil for an
// unknown name.
func (f *FormData) Field(name string) *string {
	switch name {
	case "name":
		return &f.Name
	case "slack_handle":
		return &f.SlackHandle
	case "email":
		return &f.Email
	case "address_line1":
		return &f.AddressLine1
	case "address_line2":
		return &f.AddressLine2
	case "city":
		return &f.City
	case "state":
		return &f.State
	case "zip":
		return &f.Zip
	case "country":
		return &f.Country
	case "package_link":
		return &f.PackageLink
	case "description":
		return &f.Description
	case "hours":
		return &f.Hours
	}
	return nil
}
