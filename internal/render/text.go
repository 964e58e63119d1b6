// Package render computes the exact bytes to send to a raw terminal for
// each UI element. Functions here are pure: callers hand the result to a
// termio.Writer themselves.
//
// All output uses "\r\n" line endings so it stays correct on terminals in
// raw mode.
package render

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// CRLF is the line terminator for raw-mode terminals.
const CRLF = "\r\n"

// Common styles.
var (
	Bold       = ansi.NewStyle().Bold()
	Dim        = ansi.NewStyle().ForegroundColor(ansi.BrightBlack)
	Highlight  = ansi.NewStyle().Bold().ForegroundColor(ansi.BrightCyan)
	RequiredBg = ansi.NewStyle().ForegroundColor(ansi.BrightWhite).BackgroundColor(ansi.Red).Blink(true)
)

// Line returns s terminated by CRLF.
func Line(s string) string {
	return s + CRLF
}

// SplitLines splits text on CRLF or bare LF.
func SplitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, CRLF, "\n"), "\n")
}

// SetTitle returns the sequence that sets the terminal window title.
func SetTitle(title string) string {
	return ansi.SetWindowTitle(title)
}

// WrapLines greedily wraps text at width columns. Existing line breaks are
// kept, words are never split, and a word wider than width is placed alone
// on its own line unmodified. Widths are measured in visible cells, so
// styled text wraps by what the user sees.
func WrapLines(text string, width int) []string {
	if width < 1 {
		width = 1
	}

	var out []string
	for _, line := range SplitLines(text) {
		words := strings.Fields(line)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}

		cur := words[0]
		curWidth := ansi.StringWidth(cur)
		for _, word := range words[1:] {
			w := ansi.StringWidth(word)
			if curWidth+1+w <= width {
				cur += " " + word
				curWidth += 1 + w
				continue
			}
			out = append(out, cur)
			cur, curWidth = word, w
		}
		out = append(out, cur)
	}
	return out
}

// Wrap is WrapLines joined with CRLF.
func Wrap(text string, width int) string {
	return strings.Join(WrapLines(text, width), CRLF)
}

// TextBox draws text on a bg-colored block with padY blank rows above and
// below, padX columns of padding either side and marginX uncolored columns
// on the left. Every line ends with CRLF.
func TextBox(text string, style ansi.Style, bg ansi.Color, padY, padX, marginX int) string {
	fill := ansi.NewStyle().BackgroundColor(bg)
	margin := strings.Repeat(" ", marginX)
	width := ansi.StringWidth(text)

	var b strings.Builder
	blank := margin + fill.Styled(strings.Repeat(" ", 2*padX+width)) + CRLF

	for i := 0; i < padY; i++ {
		b.WriteString(blank)
	}

	body := make(ansi.Style, 0, len(style)+len(fill))
	body = append(append(body, style...), fill...)

	pad := fill.Styled(strings.Repeat(" ", padX))
	b.WriteString(margin)
	b.WriteString(pad)
	b.WriteString(body.Styled(text))
	b.WriteString(pad)
	b.WriteString(CRLF)

	for i := 0; i < padY; i++ {
		b.WriteString(blank)
	}
	return b.String()
}
