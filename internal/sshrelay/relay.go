// Package sshrelay connects a client session to a sandbox backend through a
// nested SSH client. Keystrokes go to the remote PTY verbatim and remote
// output is written straight to the session's output writer.
package sshrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/cargocult/internal/logutil"
	"github.com/gluk-w/cargocult/internal/sshkeys"
	"github.com/gluk-w/cargocult/internal/termio"
)

// DefaultConnectTimeout bounds dialing plus the SSH handshake.
const DefaultConnectTimeout = 10 * time.Second

// ExitUnknown is returned as the exit code when the relay ends before the
// remote command reported a status.
const ExitUnknown = -1

type Config struct {
	// Addr is the backend host:port.
	Addr string
	User string
	// Signer authenticates the relay to the backend.
	Signer ssh.Signer
	// HostKeyCallback verifies the backend. Defaults to trust on first use
	// for the lifetime of the Client.
	HostKeyCallback ssh.HostKeyCallback
	ConnectTimeout  time.Duration
	// RecordingDir, when set, receives an asciicast file per relay.
	RecordingDir string
}

// Client starts relays against one backend. It is safe for concurrent use;
// every Relay call owns its own connection.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = sshkeys.NewHostKeyPinner().Callback
	}
	return &Client{cfg: cfg}
}

// Relay runs command on the backend in a PTY sized from params and pipes
// the session through it until the command exits, ctx ends or the input
// channel closes. The connection is closed on every return path.
//
// A remote exit returns its status with a nil error. Cancellation returns
// ExitUnknown and ctx.Err(); callers treat context.DeadlineExceeded as the
// relay's time budget running out, not as a failure.
func (c *Client) Relay(ctx context.Context, command string, params termio.TerminalParams, input <-chan termio.Event, out *termio.Writer) (int, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return ExitUnknown, err
	}
	defer client.Close()
	// A write blocked on the remote window only returns once the
	// connection goes away.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return ExitUnknown, fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	modes := params.Modes
	if len(modes) == 0 {
		modes = ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
	}
	if err := session.RequestPty(params.Term, int(params.Rows), int(params.Cols), modes); err != nil {
		return ExitUnknown, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return ExitUnknown, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return ExitUnknown, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return ExitUnknown, fmt.Errorf("stderr pipe: %w", err)
	}

	rec := c.startRecording(params, command)
	defer rec.finish()

	if err := session.Start(command); err != nil {
		return ExitUnknown, fmt.Errorf("start %q: %w", command, err)
	}
	log.Printf("[relay] started %s on %s as %s", logutil.SanitizeForLog(command), c.cfg.Addr, params.Username)

	chunks := make(chan []byte, 16)
	var readers sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		readers.Add(1)
		go func(r io.Reader) {
			defer readers.Done()
			pump(ctx, r, chunks)
		}(r)
	}
	go func() {
		readers.Wait()
		close(chunks)
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- session.Wait() }()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[relay] %s ended: %v", logutil.SanitizeForLog(command), ctx.Err())
			return ExitUnknown, ctx.Err()

		case ev, ok := <-input:
			if !ok {
				return ExitUnknown, termio.ErrInputClosed
			}
			rec.input(ev.Raw)
			if _, err := stdin.Write(ev.Raw); err != nil {
				if ctx.Err() != nil {
					log.Printf("[relay] %s ended: %v", logutil.SanitizeForLog(command), ctx.Err())
					return ExitUnknown, ctx.Err()
				}
				log.Printf("[relay] write to remote stdin: %v", err)
			}

		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := forward(out, chunk, rec); err != nil {
				return ExitUnknown, err
			}

		case err := <-waitCh:
			if err := drain(ctx, chunks, out, rec); err != nil {
				return ExitUnknown, err
			}
			return exitCode(command, err)
		}
	}
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial backend %s: %w", c.cfg.Addr, err)
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.cfg.Addr, &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.cfg.Signer)},
		HostKeyCallback: c.cfg.HostKeyCallback,
		Timeout:         c.cfg.ConnectTimeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.cfg.Addr, err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// pump copies r into chunks until EOF or ctx ends.
func pump(ctx context.Context, r io.Reader, chunks chan<- []byte) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case chunks <- data:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func forward(out *termio.Writer, chunk []byte, rec *recorder) error {
	rec.output(chunk)
	if _, err := out.Write(chunk); err != nil {
		return fmt.Errorf("relay output: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("relay output: %w", err)
	}
	return nil
}

// drain forwards output still buffered after the remote command exited.
func drain(ctx context.Context, chunks <-chan []byte, out *termio.Writer, rec *recorder) error {
	if chunks == nil {
		return nil
	}
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := forward(out, chunk, rec); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func exitCode(command string, waitErr error) (int, error) {
	if waitErr == nil {
		log.Printf("[relay] %s exited with status 0", logutil.SanitizeForLog(command))
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		log.Printf("[relay] %s exited with status %d", logutil.SanitizeForLog(command), exitErr.ExitStatus())
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(waitErr, &missing) {
		log.Printf("[relay] %s closed without an exit status", logutil.SanitizeForLog(command))
		return ExitUnknown, nil
	}
	return ExitUnknown, fmt.Errorf("wait for remote command: %w", waitErr)
}
