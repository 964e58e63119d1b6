package render

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/gluk-w/cargocult/internal/termio"
)

const selectMarker = "> "

// Select is a scrollable single-select list. Each option may span several
// lines (separated by CRLF or LF). The list is drawn in a viewport of
// min(total lines, terminal rows) rows and redrawn in place on every key.
type Select struct {
	Options []string
	// Index is the highlighted option.
	Index int
	// Offset is the first visible line.
	Offset int
	// Rows is the terminal height available to the list.
	Rows int

	lines  [][]string // lines of each option
	starts []int      // first line of each option
	total  int
	drawn  bool
}

// NewSelect prepares a select over options for a terminal rows high.
// options must not be empty.
func NewSelect(options []string, rows int) *Select {
	s := &Select{Options: options, Rows: rows}
	s.lines = make([][]string, len(options))
	s.starts = make([]int, len(options))
	for i, opt := range options {
		s.starts[i] = s.total
		s.lines[i] = SplitLines(opt)
		s.total += len(s.lines[i])
	}
	return s
}

// TotalLines is the sum of every option's line count.
func (s *Select) TotalLines() int {
	return s.total
}

// Viewport is the number of rows the list occupies.
func (s *Select) Viewport() int {
	v := s.total
	if s.Rows > 0 && s.Rows < v {
		v = s.Rows
	}
	if v < 1 {
		v = 1
	}
	return v
}

// scroll moves Offset by the minimum amount that keeps every line of the
// highlighted option visible. When the option is taller than the viewport
// its first line wins.
func (s *Select) scroll() {
	view := s.Viewport()
	first := s.starts[s.Index]
	last := first + len(s.lines[s.Index]) - 1

	if last >= s.Offset+view {
		s.Offset = last - view + 1
	}
	if first < s.Offset {
		s.Offset = first
	}
	if limit := s.total - view; s.Offset > limit {
		s.Offset = limit
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
}

// VisibleLines returns the unstyled lines currently inside the viewport.
func (s *Select) VisibleLines() []string {
	s.scroll()
	all := make([]string, 0, s.total)
	for i := range s.Options {
		for j, l := range s.lines[i] {
			if j == 0 {
				all = append(all, selectMarker+l)
			} else {
				all = append(all, strings.Repeat(" ", len(selectMarker))+l)
			}
		}
	}
	return all[s.Offset : s.Offset+s.Viewport()]
}

// Render returns the bytes that draw the current state. The first call
// draws top to bottom from the cursor; later calls move back up over the
// previous drawing and clear it first.
func (s *Select) Render() []byte {
	s.scroll()
	view := s.Viewport()

	var b strings.Builder
	if s.drawn {
		b.WriteString(ansi.ResetStyle)
		b.WriteString("\r")
		if view > 1 {
			b.WriteString(ansi.CursorUp(view - 1))
		}
		b.WriteString(ansi.EraseScreenBelow)
	}
	s.drawn = true

	b.WriteString(ansi.ResetModeAutoWrap)
	line := 0
	written := 0
	for i := range s.Options {
		for j, l := range s.lines[i] {
			if line < s.Offset || written >= view {
				line++
				continue
			}
			if written > 0 {
				b.WriteString(CRLF)
			}
			prefix := strings.Repeat(" ", len(selectMarker))
			if j == 0 {
				prefix = Bold.Styled(selectMarker)
			}
			b.WriteString(prefix)
			if i == s.Index {
				b.WriteString(Highlight.Styled(l))
			} else {
				b.WriteString(l)
			}
			line++
			written++
		}
	}
	b.WriteString(ansi.CursorHorizontalAbsolute(1))
	b.WriteString(ansi.SetModeAutoWrap)
	return []byte(b.String())
}

// Handle applies one input event. done reports that Enter committed the
// current Index. ctrl-c yields termio.ErrEndOfTransmission.
func (s *Select) Handle(ev termio.Event) (done bool, err error) {
	switch ev.Key {
	case termio.KeyEnter:
		return true, nil
	case termio.KeyUp:
		if s.Index > 0 {
			s.Index--
		}
	case termio.KeyDown:
		if s.Index < len(s.Options)-1 {
			s.Index++
		}
	case termio.KeyEOT:
		return false, termio.ErrEndOfTransmission
	}
	return false, nil
}
