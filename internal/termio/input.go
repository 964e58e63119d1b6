// Package termio turns a raw terminal byte stream into input events and
// serializes output onto a single transport.
//
// The same decoder is used by every transport (SSH channel, local stdin,
// WebSocket) so keyboard handling does not depend on where bytes came from.
// Each session owns exactly one event channel and one [Writer].
package termio

import "errors"

// Key identifies the kind of an input event.
type Key int

const (
	// KeyChar is a single printable (or non-control) byte.
	KeyChar Key = iota
	KeyBackspace
	KeyEnter
	KeyUp
	KeyDown
	// KeyEOT is ctrl-c. It is the only cooperative cancellation signal.
	KeyEOT
	// KeyUnknown is a CSI sequence with an unhandled final byte.
	KeyUnknown
)

func (k Key) String() string {
	switch k {
	case KeyChar:
		return "char"
	case KeyBackspace:
		return "backspace"
	case KeyEnter:
		return "enter"
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	case KeyEOT:
		return "eot"
	default:
		return "unknown"
	}
}

var (
	// ErrEndOfTransmission is returned by interactive loops when the user
	// presses ctrl-c.
	ErrEndOfTransmission = errors.New("end of transmission")
	// ErrInputClosed is returned when the event channel was closed by the
	// transport, i.e. the client went away.
	ErrInputClosed = errors.New("input closed")
)

// Event is one decoded unit of input. Raw holds the exact bytes that
// produced it so the relay can forward them verbatim.
type Event struct {
	Key  Key
	Byte byte
	Raw  []byte
}

const (
	asciiETX       = 3
	asciiBS        = 8
	asciiCR        = 13
	asciiESC       = 27
	asciiLBracket  = 91
	asciiDEL       = 127
	csiFinalUp     = 'A'
	csiFinalDown   = 'B'
	controlRangeHi = 31
)

// Decode converts one chunk of raw input into events, left to right.
//
// Escape sequences must arrive whole within a chunk; a CSI sequence cut off
// by the end of data becomes a single KeyUnknown event. Control bytes other
// than ctrl-c, backspace and carriage return are consumed without an event.
func Decode(data []byte) []Event {
	events := make([]Event, 0, len(data))

	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b == asciiESC && i+1 < len(data) && data[i+1] == asciiLBracket:
			start := i
			i += 2
			// Parameter and intermediate bytes are 0x20-0x3F; the final
			// byte is the first one in 0x40-0x7E.
			for i < len(data) && (data[i] < 0x40 || data[i] > 0x7e) {
				i++
			}
			if i >= len(data) {
				events = append(events, Event{Key: KeyUnknown, Raw: clone(data[start:])})
				continue
			}
			final := data[i]
			i++
			key := KeyUnknown
			switch final {
			case csiFinalUp:
				key = KeyUp
			case csiFinalDown:
				key = KeyDown
			}
			events = append(events, Event{Key: key, Raw: clone(data[start:i])})

		case b == asciiDEL:
			events = append(events, Event{Key: KeyBackspace, Raw: []byte{b}})
			i++

		case b <= controlRangeHi:
			switch b {
			case asciiETX:
				events = append(events, Event{Key: KeyEOT, Raw: []byte{b}})
			case asciiBS:
				events = append(events, Event{Key: KeyBackspace, Raw: []byte{b}})
			case asciiCR:
				events = append(events, Event{Key: KeyEnter, Raw: []byte{b}})
			}
			i++

		default:
			events = append(events, Event{Key: KeyChar, Byte: b, Raw: []byte{b}})
			i++
		}
	}

	return events
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
