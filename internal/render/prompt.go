package render

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"

	"github.com/gluk-w/cargocult/internal/termio"
)

const (
	promptMarker   = "> "
	requiredNotice = "This field is required!"
	placeholderCol = 3 // 1-based column right after the marker
)

// Prompt is a single-line text input.
type Prompt struct {
	Placeholder string
	Required    bool

	text    []rune
	pending []byte // bytes of an incomplete UTF-8 sequence
	warn    bool
}

// NewPrompt returns an empty prompt.
func NewPrompt(placeholder string, required bool) *Prompt {
	return &Prompt{Placeholder: placeholder, Required: required}
}

// Text returns what was entered so far.
func (p *Prompt) Text() string {
	return string(p.text)
}

// Render redraws the current line: clear it, return to column 0, print the
// marker and then either the entered text or the dimmed placeholder. While a
// required-field warning is pending it is shown in place of the text.
func (p *Prompt) Render() []byte {
	var b strings.Builder
	b.WriteString(ansi.ResetStyle)
	b.WriteString(ansi.EraseEntireLine)
	b.WriteString("\r")
	b.WriteString(Bold.Styled(promptMarker))

	switch {
	case p.warn:
		b.WriteString(RequiredBg.Styled(requiredNotice))
	case len(p.text) > 0:
		b.WriteString(string(p.text))
	default:
		b.WriteString(Dim.Styled(p.Placeholder))
		b.WriteString(ansi.CursorHorizontalAbsolute(placeholderCol))
	}
	return []byte(b.String())
}

// Handle applies one input event. done reports a committed value.
func (p *Prompt) Handle(ev termio.Event) (done bool, err error) {
	p.warn = false

	switch ev.Key {
	case termio.KeyEOT:
		return false, termio.ErrEndOfTransmission
	case termio.KeyEnter:
		p.pending = nil
		if p.Required && len(p.text) == 0 {
			p.warn = true
			return false, nil
		}
		return true, nil
	case termio.KeyBackspace:
		p.pending = nil
		if len(p.text) > 0 {
			p.text = p.text[:len(p.text)-1]
		}
	case termio.KeyChar:
		p.appendByte(ev.Byte)
	}
	return false, nil
}

// appendByte assembles UTF-8 one byte at a time. Bytes that cannot start or
// continue a valid sequence are dropped.
func (p *Prompt) appendByte(c byte) {
	p.pending = append(p.pending, c)
	if !utf8.FullRune(p.pending) {
		return
	}

	r, size := utf8.DecodeRune(p.pending)
	rest := p.pending[size:]
	p.pending = nil
	if r != utf8.RuneError || size > 1 {
		p.text = append(p.text, r)
	}
	// A broken sequence may have swallowed the start of the next one.
	for _, b := range rest {
		p.appendByte(b)
	}
}
