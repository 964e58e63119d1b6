package sshrelay

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gluk-w/cargocult/internal/termio"
)

// MaxRecordingEntries caps a single recording.
const MaxRecordingEntries = 100000

// RecordingEntry is one timestamped event of a relay recording.
type RecordingEntry struct {
	// Elapsed is the time since the relay started, in seconds.
	Elapsed float64 `json:"elapsed"`
	// Type is "o" for remote output, "i" for user input.
	Type string `json:"type"`
	Data string `json:"data"`
}

// Recording captures the I/O of one relay. It is safe for concurrent use.
type Recording struct {
	mu         sync.Mutex
	entries    []RecordingEntry
	startTime  time.Time
	maxEntries int

	Width, Height int
	Title         string
}

// NewRecording creates a recording. maxEntries <= 0 means unlimited.
func NewRecording(maxEntries int) *Recording {
	return &Recording{startTime: time.Now(), maxEntries: maxEntries}
}

func (r *Recording) add(kind string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		return
	}
	r.entries = append(r.entries, RecordingEntry{
		Elapsed: time.Since(r.startTime).Seconds(),
		Type:    kind,
		Data:    string(data),
	})
}

func (r *Recording) RecordOutput(data []byte) { r.add("o", data) }
func (r *Recording) RecordInput(data []byte)  { r.add("i", data) }

// Entries returns a copy of all recorded entries.
func (r *Recording) Entries() []RecordingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]RecordingEntry, len(r.entries))
	copy(result, r.entries)
	return result
}

type castHeader struct {
	Version   int    `json:"version"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"`
	Title     string `json:"title,omitempty"`
}

// WriteCast writes the recording in asciicast v2 format: a header line
// followed by one [elapsed, type, data] array per event.
func (r *Recording) WriteCast(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(w)
	if err := enc.Encode(castHeader{
		Version:   2,
		Width:     r.Width,
		Height:    r.Height,
		Timestamp: r.startTime.Unix(),
		Title:     r.Title,
	}); err != nil {
		return fmt.Errorf("write cast header: %w", err)
	}
	for _, e := range r.entries {
		if err := enc.Encode([]interface{}{e.Elapsed, e.Type, e.Data}); err != nil {
			return fmt.Errorf("write cast event: %w", err)
		}
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// recorder ties a Recording to its destination file. A nil recorder
// records nothing.
type recorder struct {
	rec  *Recording
	path string
}

func (c *Client) startRecording(params termio.TerminalParams, command string) *recorder {
	if c.cfg.RecordingDir == "" {
		return nil
	}
	rec := NewRecording(MaxRecordingEntries)
	rec.Width, rec.Height = int(params.Cols), int(params.Rows)
	rec.Title = command

	name := fmt.Sprintf("%s-%s.cast", time.Now().UTC().Format("20060102T150405.000"),
		unsafeFileChars.ReplaceAllString(params.Username, "_"))
	return &recorder{rec: rec, path: filepath.Join(c.cfg.RecordingDir, name)}
}

func (r *recorder) input(data []byte) {
	if r != nil {
		r.rec.RecordInput(data)
	}
}

func (r *recorder) output(data []byte) {
	if r != nil {
		r.rec.RecordOutput(data)
	}
}

func (r *recorder) finish() {
	if r == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		log.Printf("[relay] create recording dir: %v", err)
		return
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		log.Printf("[relay] open recording: %v", err)
		return
	}
	defer f.Close()
	if err := r.rec.WriteCast(f); err != nil {
		log.Printf("[relay] save recording: %v", err)
		return
	}
	log.Printf("[relay] saved recording %s", r.path)
}
