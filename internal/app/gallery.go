package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/docker/go-units"

	"github.com/gluk-w/cargocult/internal/audit"
	"github.com/gluk-w/cargocult/internal/content"
	"github.com/gluk-w/cargocult/internal/logutil"
	"github.com/gluk-w/cargocult/internal/render"
	"github.com/gluk-w/cargocult/internal/sandbox"
	"github.com/gluk-w/cargocult/internal/store"
	"github.com/gluk-w/cargocult/internal/termio"
)

// markerWidth is the column taken by the select marker.
const markerWidth = 2

func (a *App) gallery(ctx context.Context) error {
	subs, err := a.listApproved(ctx)
	if err != nil || subs == nil {
		return err
	}
	if len(subs) == 0 {
		return a.print(render.Line(render.Dim.Styled(a.text.Gallery.Empty)))
	}

	if err := a.print(render.Line(render.Bold.Styled(a.text.Gallery.Heading))); err != nil {
		return err
	}
	width := max(a.width()-markerWidth, 1)
	options := make([]string, len(subs))
	for i, sub := range subs {
		options[i] = render.Wrap(sub.Package()+render.CRLF+sub.Description, width)
	}
	idx, err := a.choose(ctx, options)
	if err != nil {
		return err
	}
	return a.relay(ctx, subs[idx])
}

// listApproved loads the gallery, offering a retry on failure. A nil list
// with a nil error means the user gave up.
func (a *App) listApproved(ctx context.Context) ([]store.FormData, error) {
	for {
		subs, err := a.store.ListApproved(ctx)
		if err == nil {
			if subs == nil {
				subs = []store.FormData{}
			}
			return subs, nil
		}
		log.Printf("[app] list approved submissions: %v", err)

		retry, err := a.failure(ctx, a.text.Errors.Store)
		if err != nil || !retry {
			return nil, err
		}
	}
}

// RunProject relays straight into the approved project installed as pkg,
// then ends the session.
func (a *App) RunProject(ctx context.Context, pkg string) error {
	ctx, cancel := a.bind(ctx)
	defer cancel()
	return a.finish(a.runProject(ctx, pkg))
}

func (a *App) runProject(ctx context.Context, pkg string) error {
	if err := a.print(render.SetTitle(a.text.Title)); err != nil {
		return err
	}
	sub, err := store.FindPackage(ctx, a.store, pkg)
	if errors.Is(err, store.ErrNotFound) {
		msg := content.Expand(a.text.Errors.NotFound, map[string]string{"package": pkg})
		return a.print(render.Line(render.Wrap(msg, a.width())))
	}
	if err != nil {
		log.Printf("[app] find package %s: %v", logutil.SanitizeForLog(pkg), err)
		return a.print(render.TextBox(a.text.Errors.Store, errorStyle, ansi.Red, 0, 2, 1))
	}
	return a.relay(ctx, sub)
}

// relay hands the terminal to the sandbox running sub's package for at most
// the relay timeout. Running out of time and the remote command exiting both
// return to the caller normally.
func (a *App) relay(ctx context.Context, sub store.FormData) error {
	params := a.params.Get()
	pkg := sub.Package()

	banner := content.Expand(a.text.Gallery.Banner, map[string]string{
		"package": pkg,
		"author":  sub.Name,
		"budget":  units.HumanDuration(a.relayTimeout),
	})
	if err := a.print(render.Wrap(banner, a.width()) + render.CRLF + render.CRLF); err != nil {
		return err
	}

	if a.session != nil {
		a.session.SetRelay(pkg)
		defer a.session.SetRelay("")
	}

	rctx, cancel := context.WithTimeout(ctx, a.relayTimeout)
	defer cancel()

	command := sandbox.Command(a.image, params.Username, pkg, sub.Name)
	a.record(audit.EventRelayStarted, "package="+pkg, 0)
	started := time.Now()
	code, err := a.relayer.Relay(rctx, command, params, a.input, a.out)
	a.record(audit.EventRelayEnded, relayOutcome(pkg, code, err), time.Since(started))
	switch {
	case err == nil:
		log.Printf("[app] %s left %s (exit %d)", logutil.SanitizeForLog(params.Username), logutil.SanitizeForLog(pkg), code)
	case errors.Is(err, termio.ErrInputClosed):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		log.Printf("[app] %s ran out of time in %s", logutil.SanitizeForLog(params.Username), logutil.SanitizeForLog(pkg))
	default:
		log.Printf("[app] relay to %s: %v", logutil.SanitizeForLog(pkg), err)
		return a.print(ansi.ResetStyle + render.CRLF + render.TextBox(a.text.Errors.Relay, errorStyle, ansi.Red, 0, 2, 1))
	}

	return a.print(ansi.ResetStyle + render.CRLF + render.Line(render.Dim.Styled(a.text.Gallery.Ended)))
}

func relayOutcome(pkg string, code int, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("package=%s exit=%d", pkg, code)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("package=%s timeout", pkg)
	default:
		return fmt.Sprintf("package=%s error=%v", pkg, err)
	}
}
