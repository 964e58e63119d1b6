// Package localterm runs a session on the process's own terminal, for the
// menu, gallery and run subcommands.
package localterm

import (
	"context"
	"errors"
	"os"
	"os/user"
	"sync"

	"golang.org/x/term"

	"github.com/gluk-w/cargocult/internal/app"
	"github.com/gluk-w/cargocult/internal/termio"
)

var ErrNotTerminal = errors.New("stdin is not a terminal")

// Handler runs one session; app.Launcher.Start fits.
type Handler func(ctx context.Context, t app.Terminal) error

// fileSink writes frames straight to a file such as os.Stdout.
type fileSink struct {
	f *os.File
}

func (s fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s fileSink) Flush() error                { return nil }

// Run switches stdin to raw mode and runs handler on stdin/stdout. The
// terminal is restored when the session exits, and again on return in
// case the handler failed before exiting.
func Run(ctx context.Context, handler Handler, mode app.Mode, project string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ErrNotTerminal
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	restore := sync.OnceFunc(func() { term.Restore(fd, state) })
	defer restore()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	return handler(ctx, app.Terminal{
		Output:  termio.NewWriter(fileSink{os.Stdout}),
		Input:   termio.Feed(ctx, os.Stdin),
		Params:  termio.NewSharedParams(Params()),
		Exit:    restore,
		Mode:    mode,
		Project: project,
	})
}

// Params describes the local terminal. Zero geometry is filled in by
// termio.NewSharedParams when stdout is not a terminal.
func Params() termio.TerminalParams {
	p := termio.TerminalParams{
		Term:     os.Getenv("TERM"),
		Username: username(),
	}
	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil && cols > 0 && rows > 0 {
		p.Cols, p.Rows = uint32(cols), uint32(rows)
	}
	return p
}

func username() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
