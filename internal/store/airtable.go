package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gluk-w/cargocult/internal/logutil"
)

type AirtableConfig struct {
	BaseURL string // e.g. https://api.airtable.com/v0
	Key     string
	BaseID  string
	Table   string
	View    string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// Airtable is a Store backed by one Airtable table.
type Airtable struct {
	cfg    AirtableConfig
	client *http.Client
}

type airtableRecord struct {
	ID     string   `json:"id,omitempty"`
	Fields FormData `json:"fields"`
}

type airtableRecords struct {
	Records []airtableRecord `json:"records"`
}

func NewAirtable(cfg AirtableConfig) *Airtable {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Airtable{cfg: cfg, client: client}
}

func (a *Airtable) tableURL() string {
	return a.cfg.BaseURL + "/" + url.PathEscape(a.cfg.BaseID) + "/" + url.PathEscape(a.cfg.Table)
}

func (a *Airtable) do(ctx context.Context, method, target string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Key)
	return a.client.Do(req)
}

// ListApproved fetches a single page of the configured view. Records
// without a package name are skipped since the gallery cannot run them.
func (a *Airtable) ListApproved(ctx context.Context) ([]FormData, error) {
	q := url.Values{}
	q.Set("maxRecords", strconv.Itoa(ListLimit))
	q.Set("view", a.cfg.View)

	resp, err := a.do(ctx, http.MethodGet, a.tableURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("list submissions: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var data airtableRecords
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}

	subs := make([]FormData, 0, len(data.Records))
	for _, rec := range data.Records {
		if rec.Fields.Package() == "" {
			log.Printf("[store] skipping approved record %s without a package name", logutil.SanitizeForLog(rec.ID))
			continue
		}
		subs = append(subs, rec.Fields)
	}
	return subs, nil
}

func (a *Airtable) Create(ctx context.Context, data FormData) error {
	resp, err := a.do(ctx, http.MethodPost, a.tableURL(), airtableRecords{
		Records: []airtableRecord{{Fields: data}},
	})
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("create submission: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
