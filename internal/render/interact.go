package render

import (
	"context"
	"fmt"

	"github.com/charmbracelet/x/ansi"

	"github.com/gluk-w/cargocult/internal/termio"
)

// Widget is an interactive element driven by input events.
type Widget interface {
	Render() []byte
	Handle(ev termio.Event) (done bool, err error)
}

// Interact draws w, then feeds it events until it commits, redrawing after
// every event. The final CRLF moves the cursor below the widget.
func Interact(ctx context.Context, w Widget, input <-chan termio.Event, out *termio.Writer) error {
	if err := emit(out, w.Render()); err != nil {
		return err
	}

	for {
		ev, err := termio.Next(ctx, input)
		if err != nil {
			return err
		}

		done, err := w.Handle(ev)
		if err != nil {
			return err
		}
		if done {
			return emit(out, []byte(ansi.ResetStyle+CRLF))
		}
		if err := emit(out, w.Render()); err != nil {
			return err
		}
	}
}

func emit(out *termio.Writer, frame []byte) error {
	if _, err := out.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Choose runs a Select over options and returns the committed index.
func Choose(ctx context.Context, options []string, rows int, input <-chan termio.Event, out *termio.Writer) (int, error) {
	s := NewSelect(options, rows)
	if err := Interact(ctx, s, input, out); err != nil {
		return 0, err
	}
	return s.Index, nil
}

// Ask runs a Prompt and returns the committed text.
func Ask(ctx context.Context, placeholder string, required bool, input <-chan termio.Event, out *termio.Writer) (string, error) {
	p := NewPrompt(placeholder, required)
	if err := Interact(ctx, p, input, out); err != nil {
		return "", err
	}
	return p.Text(), nil
}
