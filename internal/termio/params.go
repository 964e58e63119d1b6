package termio

import (
	"sync"

	"golang.org/x/crypto/ssh"
)

// Default terminal geometry used when a client never sent a pty request.
const (
	DefaultCols = 80
	DefaultRows = 24
	DefaultTerm = "xterm-256color"
)

// TerminalParams describes the client's terminal.
type TerminalParams struct {
	Cols     uint32
	Rows     uint32
	Term     string
	Modes    ssh.TerminalModes
	Username string
}

// SharedParams guards a TerminalParams shared between the transport and the
// session goroutines. The lock is held for a single read or write only.
type SharedParams struct {
	mu sync.Mutex
	p  TerminalParams
}

// NewSharedParams wraps p, filling in defaults for zero geometry.
func NewSharedParams(p TerminalParams) *SharedParams {
	if p.Cols == 0 {
		p.Cols = DefaultCols
	}
	if p.Rows == 0 {
		p.Rows = DefaultRows
	}
	if p.Term == "" {
		p.Term = DefaultTerm
	}
	return &SharedParams{p: p}
}

// Get returns a copy of the current parameters.
func (s *SharedParams) Get() TerminalParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.p
	if s.p.Modes != nil {
		out.Modes = make(ssh.TerminalModes, len(s.p.Modes))
		for k, v := range s.p.Modes {
			out.Modes[k] = v
		}
	}
	return out
}

// Set replaces the parameters.
func (s *SharedParams) Set(p TerminalParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

// Size returns the terminal width and height.
func (s *SharedParams) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.p.Cols), int(s.p.Rows)
}

// Username returns the login name of the session.
func (s *SharedParams) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Username
}
