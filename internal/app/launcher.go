package app

import (
	"context"
	"time"

	"github.com/gluk-w/cargocult/internal/content"
	"github.com/gluk-w/cargocult/internal/sessions"
	"github.com/gluk-w/cargocult/internal/store"
	"github.com/gluk-w/cargocult/internal/termio"
)

// Mode selects what a session runs.
type Mode int

const (
	// ModeMenu is the full interactive menu.
	ModeMenu Mode = iota
	// ModeGallery opens the gallery directly.
	ModeGallery
	// ModeProject relays straight into Terminal.Project.
	ModeProject
)

// Terminal is what a transport adapter hands over for one client.
type Terminal struct {
	Output  *termio.Writer
	Input   <-chan termio.Event
	Params  *termio.SharedParams
	Session *sessions.Session
	Exit    func()

	Mode    Mode
	Project string
}

// Launcher holds the dependencies shared by every session and starts an
// App per Terminal.
type Launcher struct {
	Store        store.Store
	Relay        Relay
	Content      *content.Content
	RelayTimeout time.Duration
	MaxWidth     int
	Image        string
	ArtDelay     time.Duration
}

// Start runs a session to completion. The terminal's Exit is called once
// before Start returns.
func (l *Launcher) Start(ctx context.Context, t Terminal) error {
	a := New(Options{
		Output:       t.Output,
		Input:        t.Input,
		Params:       t.Params,
		Store:        l.Store,
		Relay:        l.Relay,
		Content:      l.Content,
		Exit:         t.Exit,
		Session:      t.Session,
		RelayTimeout: l.RelayTimeout,
		MaxWidth:     l.MaxWidth,
		Image:        l.Image,
		ArtDelay:     l.ArtDelay,
	})

	switch t.Mode {
	case ModeGallery:
		return a.RunGallery(ctx)
	case ModeProject:
		return a.RunProject(ctx, t.Project)
	default:
		return a.Run(ctx)
	}
}
