package store

import (
	"context"
	"fmt"
	"log"

	"github.com/gluk-w/cargocult/internal/crypto"
	"github.com/gluk-w/cargocult/internal/database"
)

// SQLite is a Store on the local gorm database. Name, email and address
// are encrypted before they are written.
type SQLite struct{}

func NewSQLite() *SQLite {
	return &SQLite{}
}

func (s *SQLite) ListApproved(ctx context.Context) ([]FormData, error) {
	rows, err := database.ListSubmissions(true, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	subs := make([]FormData, 0, len(rows))
	for i := range rows {
		if rows[i].PackageName == nil || *rows[i].PackageName == "" {
			continue
		}
		data, err := FromRow(&rows[i])
		if err != nil {
			log.Printf("[store] skipping submission %d: %v", rows[i].ID, err)
			continue
		}
		subs = append(subs, data)
	}
	return subs, nil
}

func (s *SQLite) Create(ctx context.Context, data FormData) error {
	row, err := toRow(data)
	if err != nil {
		return err
	}
	if err := database.CreateSubmission(row); err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// encryptedFields pairs each personal-data field of a row with the
// corresponding form field.
func encryptedFields(row *database.Submission, data *FormData) []struct{ col, val *string } {
	return []struct{ col, val *string }{
		{&row.Name, &data.Name},
		{&row.Email, &data.Email},
		{&row.AddressLine1, &data.AddressLine1},
		{&row.AddressLine2, &data.AddressLine2},
		{&row.City, &data.City},
		{&row.State, &data.State},
		{&row.Zip, &data.Zip},
		{&row.Country, &data.Country},
	}
}

func toRow(data FormData) (*database.Submission, error) {
	row := &database.Submission{
		Type:        data.Type,
		SlackHandle: data.SlackHandle,
		PackageLink: data.PackageLink,
		Description: data.Description,
		Hours:       data.Hours,
		PackageName: data.PackageName,
	}
	for _, f := range encryptedFields(row, &data) {
		tok, err := crypto.Encrypt(*f.val)
		if err != nil {
			return nil, fmt.Errorf("encrypt submission: %w", err)
		}
		*f.col = tok
	}
	return row, nil
}

// FromRow decrypts a stored submission.
func FromRow(row *database.Submission) (FormData, error) {
	data := FormData{
		Type:        row.Type,
		SlackHandle: row.SlackHandle,
		PackageLink: row.PackageLink,
		Description: row.Description,
		Hours:       row.Hours,
		PackageName: row.PackageName,
	}
	for _, f := range encryptedFields(row, &data) {
		plain, err := crypto.Decrypt(*f.col)
		if err != nil {
			return FormData{}, fmt.Errorf("decrypt submission %d: %w", row.ID, err)
		}
		*f.val = plain
	}
	return data, nil
}
