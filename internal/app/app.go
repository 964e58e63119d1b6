// Package app is the per-session controller: it draws the menu, runs the
// info pages, the submission form and the gallery, and hands the terminal
// to a sandbox relay when the user picks a project.
//
// An App owns its Writer. Whatever ends the session (Leave, ctrl-c, the
// client disconnecting or a transport failure) goes through the same
// teardown: close and drain the writer, then call the exit callback once.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/gluk-w/cargocult/internal/audit"
	"github.com/gluk-w/cargocult/internal/content"
	"github.com/gluk-w/cargocult/internal/logutil"
	"github.com/gluk-w/cargocult/internal/render"
	"github.com/gluk-w/cargocult/internal/sessions"
	"github.com/gluk-w/cargocult/internal/store"
	"github.com/gluk-w/cargocult/internal/termio"
)

const (
	DefaultRelayTimeout = 30 * time.Minute
	DefaultMaxWidth     = 100
	// DefaultArtDelay is the pause between lines of the banner art.
	DefaultArtDelay = 50 * time.Millisecond
)

var (
	welcomeStyle = ansi.NewStyle().Bold().ForegroundColor(ansi.BrightWhite)
	errorStyle   = ansi.NewStyle().Bold().ForegroundColor(ansi.BrightWhite)
)

// Relay runs a command on the sandbox backend with the session's terminal
// attached. *sshrelay.Client implements it.
type Relay interface {
	Relay(ctx context.Context, command string, params termio.TerminalParams, input <-chan termio.Event, out *termio.Writer) (int, error)
}

type Options struct {
	Output *termio.Writer
	Input  <-chan termio.Event
	Params *termio.SharedParams

	Store   store.Store
	Relay   Relay
	Content *content.Content

	// Exit is called exactly once after the writer has drained.
	Exit func()
	// Session, when set, is kept informed about relays.
	Session *sessions.Session

	RelayTimeout time.Duration
	MaxWidth     int
	// Image is the sandbox image passed to docker run on the backend.
	Image    string
	ArtDelay time.Duration
}

type App struct {
	out     *termio.Writer
	input   <-chan termio.Event
	params  *termio.SharedParams
	store   store.Store
	relayer Relay
	text    *content.Content
	session *sessions.Session

	relayTimeout time.Duration
	maxWidth     int
	image        string
	artDelay     time.Duration

	exit exitToken
}

func New(opts Options) *App {
	a := &App{
		out:          opts.Output,
		input:        opts.Input,
		params:       opts.Params,
		store:        opts.Store,
		relayer:      opts.Relay,
		text:         opts.Content,
		session:      opts.Session,
		relayTimeout: opts.RelayTimeout,
		maxWidth:     opts.MaxWidth,
		image:        opts.Image,
		artDelay:     opts.ArtDelay,
		exit:         exitToken{fn: opts.Exit},
	}
	if a.text == nil {
		a.text = content.Default()
	}
	if a.params == nil {
		a.params = termio.NewSharedParams(termio.TerminalParams{})
	}
	if a.relayTimeout <= 0 {
		a.relayTimeout = DefaultRelayTimeout
	}
	if a.maxWidth <= 0 {
		a.maxWidth = DefaultMaxWidth
	}
	return a
}

// exitToken guards the exit callback. Taking it twice is a bug.
type exitToken struct {
	fn    func()
	taken atomic.Bool
}

func (t *exitToken) take() func() {
	if t.taken.Swap(true) {
		panic("app: exit token taken twice")
	}
	return t.fn
}

// Run draws the intro and runs the menu until the user leaves.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := a.bind(ctx)
	defer cancel()

	err := a.intro(ctx)
	if err == nil {
		err = a.menu(ctx)
	}
	return a.finish(err)
}

// RunGallery skips the menu and goes straight to the project list.
func (a *App) RunGallery(ctx context.Context) error {
	ctx, cancel := a.bind(ctx)
	defer cancel()

	err := a.print(render.SetTitle(a.text.Title))
	if err == nil {
		err = a.gallery(ctx)
	}
	return a.finish(err)
}

// bind derives the session context. It is cancelled once the writer
// stops, so a dead transport also ends a session waiting for input.
func (a *App) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-a.out.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// finish tears the session down. Leaving, ctrl-c and a vanished client are
// normal endings and yield nil.
func (a *App) finish(err error) error {
	switch {
	case err == nil,
		errors.Is(err, termio.ErrEndOfTransmission),
		errors.Is(err, termio.ErrInputClosed),
		errors.Is(err, context.Canceled):
		err = nil
	default:
		log.Printf("[app] session for %s ended: %v", logutil.SanitizeForLog(a.params.Username()), err)
	}

	a.out.Close()
	a.out.Wait()
	if werr := a.out.Err(); werr != nil && err == nil {
		err = werr
	}

	if fn := a.exit.take(); fn != nil {
		fn()
	}
	return err
}

func (a *App) intro(ctx context.Context) error {
	if err := a.print(render.SetTitle(a.text.Title)); err != nil {
		return err
	}
	for _, line := range render.SplitLines(strings.TrimRight(a.text.Art, "\n")) {
		if err := a.print(render.Line(line)); err != nil {
			return err
		}
		if err := sleep(ctx, a.artDelay); err != nil {
			return err
		}
	}
	return a.print(render.TextBox(a.text.Welcome, welcomeStyle, ansi.Red, 1, 3, 2) + render.CRLF)
}

func (a *App) menu(ctx context.Context) error {
	labels := []string{
		a.text.Menu.Info,
		a.text.Menu.HowTo,
		a.text.Menu.Gallery,
		a.text.Menu.Submit,
		a.text.Menu.Leave,
	}
	for i, l := range labels {
		labels[i] = content.Lines(l)
	}

	for {
		idx, err := a.choose(ctx, labels)
		if err != nil {
			return err
		}

		switch idx {
		case 0:
			err = a.page(a.text.Info)
		case 1:
			err = a.page(a.text.HowTo)
		case 2:
			err = a.gallery(ctx)
		case 3:
			err = a.submit(ctx)
		default:
			return nil
		}
		if err != nil {
			return err
		}
		if err := a.print(render.CRLF); err != nil {
			return err
		}
	}
}

func (a *App) page(text string) error {
	return a.print(render.Wrap(content.Lines(text), a.width()) + render.CRLF)
}

// failure shows msg in an error box and asks whether to retry.
func (a *App) failure(ctx context.Context, msg string) (retry bool, err error) {
	box := render.TextBox(msg, errorStyle, ansi.Red, 0, 2, 1)
	if err := a.print(box + render.CRLF); err != nil {
		return false, err
	}
	idx, err := a.choose(ctx, []string{a.text.Errors.Retry, a.text.Errors.Back})
	if err != nil {
		return false, err
	}
	return idx == 0, nil
}

func (a *App) choose(ctx context.Context, options []string) (int, error) {
	_, rows := a.params.Size()
	return render.Choose(ctx, options, rows, a.input, a.out)
}

func (a *App) ask(ctx context.Context, placeholder string, required bool) (string, error) {
	return render.Ask(ctx, placeholder, required, a.input, a.out)
}

func (a *App) print(s string) error {
	if _, err := a.out.WriteString(s); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := a.out.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// width is the wrap width for copy: the terminal width capped at MaxWidth.
func (a *App) width() int {
	cols, _ := a.params.Size()
	return min(cols, a.maxWidth)
}

// record adds an audit event tagged with this session.
func (a *App) record(event, details string, d time.Duration) {
	e := audit.Entry{
		EventType:  event,
		Username:   a.params.Username(),
		Details:    details,
		DurationMs: d.Milliseconds(),
	}
	if a.session != nil {
		e.SessionID = a.session.ID
		e.SourceIP = a.session.RemoteAddr
		e.Transport = a.session.Transport
	}
	audit.Record(e)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
