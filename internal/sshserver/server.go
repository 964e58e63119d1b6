// Package sshserver is the SSH transport: it accepts every client without
// authentication, collects the pty request and starts one application
// session per shell or exec request.
//
// Usernames wrapped in brackets, e.g. "[ripgrep]", are direct-run requests
// for that gallery project.
package sshserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/cargocult/internal/app"
	"github.com/gluk-w/cargocult/internal/logutil"
	"github.com/gluk-w/cargocult/internal/sessions"
	"github.com/gluk-w/cargocult/internal/termio"
)

// Handler runs one session and must call t.Exit before returning.
type Handler func(ctx context.Context, t app.Terminal) error

type Server struct {
	// Guard, when set before Serve, filters new connections.
	Guard *Guard

	config   *ssh.ServerConfig
	registry *sessions.Registry
	handler  Handler

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

func New(hostKey ssh.Signer, registry *sessions.Registry, handler Handler) *Server {
	config := &ssh.ServerConfig{
		NoClientAuth: true,
		NoClientAuthCallback: func(conn ssh.ConnMetadata) (*ssh.Permissions, error) {
			log.Printf("[ssh-server] accepted %s from %s", logutil.SanitizeForLog(conn.User()), conn.RemoteAddr())
			return nil, nil
		},
	}
	config.AddHostKey(hostKey)

	return &Server{
		config:   config,
		registry: registry,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx ends or Close.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l. It returns nil after Close or when ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	log.Printf("[ssh-server] listening on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if s.Guard != nil {
			if err := s.Guard.Admit(remoteIP(conn.RemoteAddr())); err != nil {
				log.Printf("[ssh-server] refused connection: %v", err)
				conn.Close()
				continue
			}
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, drops every connection and waits for all
// sessions to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if l != nil {
		if cerr := l.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		log.Printf("[ssh-server] handshake with %s: %v", netConn.RemoteAddr(), err)
		netConn.Close()
		if s.Guard != nil {
			s.Guard.RecordFailure(remoteIP(netConn.RemoteAddr()))
		}
		return
	}
	if s.Guard != nil {
		s.Guard.RecordSuccess(remoteIP(netConn.RemoteAddr()))
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			log.Printf("[ssh-server] accept channel: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleChannel(ctx, sshConn, ch, requests)
		}()
	}
}

// handleChannel serves the requests of one session channel. Geometry is
// taken from the pty request; later window changes are acknowledged and
// ignored.
func (s *Server) handleChannel(ctx context.Context, conn *ssh.ServerConn, ch ssh.Channel, requests <-chan *ssh.Request) {
	params := termio.TerminalParams{Username: conn.User()}
	started := false

	for req := range requests {
		switch req.Type {
		case "pty-req":
			p, ok := parsePTYRequest(req.Payload)
			if ok && !started {
				params.Term, params.Cols, params.Rows, params.Modes = p.Term, p.Cols, p.Rows, p.Modes
			}
			reply(req, ok)

		case "env", "window-change":
			reply(req, true)

		case "shell", "exec":
			if started {
				reply(req, false)
				continue
			}
			started = true
			reply(req, true)
			s.start(ctx, conn, ch, params)

		default:
			reply(req, false)
		}
	}

	if !started {
		ch.Close()
	}
}

func (s *Server) start(ctx context.Context, conn *ssh.ServerConn, ch ssh.Channel, params termio.TerminalParams) {
	ctx, cancel := context.WithCancel(ctx)

	sess := s.registry.Open(conn.User(), conn.RemoteAddr().String(), "ssh", func() {
		cancel()
		ch.Close()
	})

	term := app.Terminal{
		Output:  termio.NewWriter(channelSink{ch}),
		Input:   termio.Feed(ctx, activityReader{ch: ch, session: sess}),
		Params:  termio.NewSharedParams(params),
		Session: sess,
		Exit:    func() { exit(ch) },
	}
	if pkg, ok := projectName(conn.User()); ok {
		term.Mode = app.ModeProject
		term.Project = pkg
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ch.Close()
		defer cancel()
		defer s.registry.Remove(sess.ID)

		if err := s.handler(ctx, term); err != nil {
			log.Printf("[ssh-server] session %s: %v", sess.ID, err)
		}
	}()
}

// projectName extracts the project from a "[name]" username.
func projectName(user string) (string, bool) {
	if len(user) > 2 && user[0] == '[' && user[len(user)-1] == ']' {
		return user[1 : len(user)-1], true
	}
	return "", false
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

// exit reports a clean exit to the client, then closes the channel.
func exit(ch ssh.Channel) {
	status := struct{ Status uint32 }{0}
	if _, err := ch.SendRequest("exit-status", false, ssh.Marshal(&status)); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("[ssh-server] send exit status: %v", err)
	}
	ch.CloseWrite()
	ch.Close()
}

type ptyRequest struct {
	Term  string
	Cols  uint32
	Rows  uint32
	Modes ssh.TerminalModes
}

// parsePTYRequest decodes an RFC 4254 pty-req payload.
func parsePTYRequest(payload []byte) (ptyRequest, bool) {
	var wire struct {
		Term     string
		Columns  uint32
		Rows     uint32
		Width    uint32
		Height   uint32
		Modelist string
	}
	if err := ssh.Unmarshal(payload, &wire); err != nil {
		return ptyRequest{}, false
	}
	return ptyRequest{
		Term:  wire.Term,
		Cols:  wire.Columns,
		Rows:  wire.Rows,
		Modes: parseModes([]byte(wire.Modelist)),
	}, true
}

// ttyOpEnd terminates the encoded mode list.
const ttyOpEnd = 0

// parseModes decodes opcode/uint32 pairs up to TTY_OP_END. Opcodes 160 and
// above carry no defined argument, so decoding stops there.
func parseModes(b []byte) ssh.TerminalModes {
	modes := ssh.TerminalModes{}
	for len(b) >= 5 {
		op := b[0]
		if op == ttyOpEnd || op >= 160 {
			break
		}
		modes[op] = binary.BigEndian.Uint32(b[1:5])
		b = b[5:]
	}
	return modes
}
