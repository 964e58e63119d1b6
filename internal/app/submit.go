package app

import (
	"context"
	"fmt"
	"log"

	"github.com/charmbracelet/x/ansi"

	"github.com/gluk-w/cargocult/internal/audit"
	"github.com/gluk-w/cargocult/internal/content"
	"github.com/gluk-w/cargocult/internal/logutil"
	"github.com/gluk-w/cargocult/internal/render"
	"github.com/gluk-w/cargocult/internal/store"
)

var thanksStyle = ansi.NewStyle().Bold().ForegroundColor(ansi.BrightWhite)

func (a *App) submit(ctx context.Context) error {
	form := store.NewFormData()
	q := a.text.Submit

	if err := a.print(render.Line(render.Bold.Styled(q.TypeQuestion))); err != nil {
		return err
	}
	idx, err := a.choose(ctx, q.Types)
	if err != nil {
		return err
	}
	form.Type = q.Types[idx]

	for i, question := range q.Questions {
		field := form.Field(question.Field)
		if field == nil {
			return fmt.Errorf("unknown form field %q", question.Field)
		}

		if question.Heading != "" {
			if i > 0 {
				if err := a.print(render.CRLF); err != nil {
					return err
				}
			}
			heading := content.Expand(question.Heading, map[string]string{"name": form.Name})
			if err := a.print(render.Line("  " + render.Bold.Styled(heading))); err != nil {
				return err
			}
		}

		text, err := a.ask(ctx, question.Placeholder, question.Required)
		if err != nil {
			return err
		}
		*field = text
	}
	if err := a.print(render.CRLF); err != nil {
		return err
	}

	return a.save(ctx, form)
}

// save stores form, offering a retry on failure. The entered answers are
// kept across retries.
func (a *App) save(ctx context.Context, form store.FormData) error {
	for {
		err := a.store.Create(ctx, form)
		if err == nil {
			log.Printf("[app] %s submitted %s", logutil.SanitizeForLog(a.params.Username()), logutil.SanitizeForLog(form.PackageLink))
			a.record(audit.EventSubmissionSaved, "type="+form.Type+" link="+form.PackageLink, 0)
			return a.print(render.TextBox(a.text.Submit.Thanks, thanksStyle, ansi.Blue, 0, 3, 1) + render.CRLF)
		}
		log.Printf("[app] save submission: %v", err)

		retry, err := a.failure(ctx, a.text.Errors.Store)
		if err != nil || !retry {
			return err
		}
	}
}
