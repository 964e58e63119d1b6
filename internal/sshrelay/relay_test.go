package sshrelay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/cargocult/internal/sshkeys"
	"github.com/gluk-w/cargocult/internal/termio"
)

// --- Test backend ---

type ptyInfo struct {
	Term       string
	Cols, Rows uint32
}

// backendBehavior runs the remote command and returns its exit status.
type backendBehavior func(cmd string, ch ssh.Channel) uint32

type testBackend struct {
	addr   string
	signer ssh.Signer

	mu    sync.Mutex
	ptys  []ptyInfo
	cmds  []string
	conns int
}

func (b *testBackend) lastPTY() ptyInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ptys) == 0 {
		return ptyInfo{}
	}
	return b.ptys[len(b.ptys)-1]
}

func (b *testBackend) lastCmd() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.cmds) == 0 {
		return ""
	}
	return b.cmds[len(b.cmds)-1]
}

func startBackend(t *testing.T, behave backendBehavior) *testBackend {
	t.Helper()

	_, clientPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	clientSigner, err := ssh.ParsePrivateKey(clientPEM)
	if err != nil {
		t.Fatalf("parse client key: %v", err)
	}
	_, hostPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.ParsePrivateKey(hostPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	authorized := ssh.FingerprintSHA256(clientSigner.PublicKey())
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == "cargo-cult" && ssh.FingerprintSHA256(key) == authorized {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	b := &testBackend{addr: listener.Addr().String(), signer: clientSigner}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.conns++
			b.mu.Unlock()
			go b.handleConn(netConn, config, behave)
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		<-done
	})
	return b
}

func (b *testBackend) handleConn(netConn net.Conn, config *ssh.ServerConfig, behave backendBehavior) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
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
			continue
		}
		go b.handleSession(ch, requests, behave)
	}
}

func (b *testBackend) handleSession(ch ssh.Channel, requests <-chan *ssh.Request, behave backendBehavior) {
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var p struct {
				Term          string
				Cols, Rows    uint32
				Width, Height uint32
				Modes         string
			}
			ssh.Unmarshal(req.Payload, &p)
			b.mu.Lock()
			b.ptys = append(b.ptys, ptyInfo{Term: p.Term, Cols: p.Cols, Rows: p.Rows})
			b.mu.Unlock()
			req.Reply(true, nil)

		case "exec":
			var e struct{ Command string }
			ssh.Unmarshal(req.Payload, &e)
			b.mu.Lock()
			b.cmds = append(b.cmds, e.Command)
			b.mu.Unlock()
			req.Reply(true, nil)

			go func() {
				status := behave(e.Command, ch)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// --- Output capture ---

type bufferSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *bufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *bufferSink) Flush() error { return nil }

func (s *bufferSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newOutput(t *testing.T) (*termio.Writer, *bufferSink) {
	t.Helper()
	sink := &bufferSink{}
	w := termio.NewWriter(sink)
	t.Cleanup(func() { w.Close() })
	return w, sink
}

func testParams() termio.TerminalParams {
	return termio.TerminalParams{Cols: 120, Rows: 40, Term: "xterm-256color", Username: "fiona"}
}

func newTestClient(b *testBackend, dir string) *Client {
	return New(Config{Addr: b.addr, User: "cargo-cult", Signer: b.signer, RecordingDir: dir})
}

func keys(s string) []termio.Event {
	return termio.Decode([]byte(s))
}

// echoUntilQ echoes input back and exits 3 on "q".
func echoUntilQ(cmd string, ch ssh.Channel) uint32 {
	ch.Write([]byte("hello from " + cmd + "\r\n"))
	buf := make([]byte, 256)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if bytes.Contains(buf[:n], []byte("q")) {
				ch.Write([]byte("bye\r\n"))
				return 3
			}
			ch.Write([]byte("echo:" + string(buf[:n])))
		}
		if err != nil {
			return 1
		}
	}
}

// --- Tests ---

func TestRelayForwardsAndReturnsExitStatus(t *testing.T) {
	b := startBackend(t, echoUntilQ)
	out, sink := newOutput(t)
	input := make(chan termio.Event, 16)

	for _, ev := range keys("ab\x1b[A") {
		input <- ev
	}

	type result struct {
		code int
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		code, err := newTestClient(b, "").Relay(context.Background(), "docker run demo", testParams(), input, out)
		resCh <- result{code, err}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(sink.String(), "\x1b[A") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	for _, ev := range keys("q") {
		input <- ev
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("Relay: %v", res.err)
		}
		if res.code != 3 {
			t.Errorf("exit code = %d, want 3", res.code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not return after remote exit")
	}

	out.Close()
	out.Wait()
	got := sink.String()
	for _, want := range []string{"hello from docker run demo", "echo:", "a", "b", "\x1b[A", "bye"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}

	if pty := b.lastPTY(); pty.Term != "xterm-256color" || pty.Cols != 120 || pty.Rows != 40 {
		t.Errorf("pty = %+v", pty)
	}
	if b.lastCmd() != "docker run demo" {
		t.Errorf("command = %q", b.lastCmd())
	}
}

func TestRelayTimeoutReturnsControl(t *testing.T) {
	b := startBackend(t, func(cmd string, ch ssh.Channel) uint32 {
		ch.Write([]byte("sleeping forever\r\n"))
		buf := make([]byte, 64)
		for {
			if _, err := ch.Read(buf); err != nil {
				return 0
			}
		}
	})
	out, _ := newOutput(t)
	input := make(chan termio.Event, 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	code, err := newTestClient(b, "").Relay(ctx, "sleep infinity", testParams(), input, out)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if code != ExitUnknown {
		t.Errorf("code = %d", code)
	}
	if elapsed < 900*time.Millisecond || elapsed > 2500*time.Millisecond {
		t.Errorf("relay returned after %s, want about 1s", elapsed)
	}

	// The session's input channel is untouched and still delivers events.
	input <- termio.Event{Key: termio.KeyEnter, Raw: []byte{13}}
	select {
	case ev := <-input:
		if ev.Key != termio.KeyEnter {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("input channel unusable after relay timeout")
	}

	if _, err := out.Write([]byte("menu")); err != nil {
		t.Errorf("output writer unusable after relay: %v", err)
	}
}

func TestRelayTimeoutWithStalledRemote(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	b := startBackend(t, func(cmd string, ch ssh.Channel) uint32 {
		ch.Write([]byte("not reading\r\n"))
		<-release
		return 0
	})
	out, _ := newOutput(t)
	input := make(chan termio.Event)

	// Far more than the channel window, so writes block on the remote.
	stopFeed := make(chan struct{})
	defer close(stopFeed)
	chunk := bytes.Repeat([]byte("x"), 64*1024)
	go func() {
		for i := 0; i < 96; i++ {
			select {
			case input <- termio.Event{Key: termio.KeyChar, Raw: chunk}:
			case <-stopFeed:
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type result struct {
		code int
		err  error
	}
	resCh := make(chan result, 1)
	start := time.Now()
	go func() {
		code, err := newTestClient(b, "").Relay(ctx, "sleep infinity", testParams(), input, out)
		resCh <- result{code, err}
	}()

	select {
	case res := <-resCh:
		if !errors.Is(res.err, context.DeadlineExceeded) {
			t.Fatalf("expected DeadlineExceeded, got %v", res.err)
		}
		if res.code != ExitUnknown {
			t.Errorf("code = %d", res.code)
		}
		if elapsed := time.Since(start); elapsed > 2500*time.Millisecond {
			t.Errorf("relay returned after %s, want about 1s", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay stuck writing to a remote that stopped reading")
	}
}

func TestRelayInputClosed(t *testing.T) {
	b := startBackend(t, func(cmd string, ch ssh.Channel) uint32 {
		buf := make([]byte, 64)
		for {
			if _, err := ch.Read(buf); err != nil {
				return 0
			}
		}
	})
	out, _ := newOutput(t)
	input := make(chan termio.Event)
	close(input)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := newTestClient(b, "").Relay(ctx, "cat", testParams(), input, out); !errors.Is(err, termio.ErrInputClosed) {
		t.Errorf("expected ErrInputClosed, got %v", err)
	}
}

func TestRelayDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	_, clientPEM, _ := sshkeys.GenerateKeyPair()
	signer, _ := ssh.ParsePrivateKey(clientPEM)
	c := New(Config{Addr: addr, User: "cargo-cult", Signer: signer, ConnectTimeout: time.Second})

	out, _ := newOutput(t)
	code, err := c.Relay(context.Background(), "true", testParams(), make(chan termio.Event), out)
	if err == nil || !strings.Contains(err.Error(), "dial backend") {
		t.Errorf("expected dial error, got %v", err)
	}
	if code != ExitUnknown {
		t.Errorf("code = %d", code)
	}
}

func TestRelayRejectedKey(t *testing.T) {
	b := startBackend(t, echoUntilQ)
	_, otherPEM, _ := sshkeys.GenerateKeyPair()
	other, _ := ssh.ParsePrivateKey(otherPEM)

	c := New(Config{Addr: b.addr, User: "cargo-cult", Signer: other})
	out, _ := newOutput(t)
	if _, err := c.Relay(context.Background(), "true", testParams(), make(chan termio.Event), out); err == nil || !strings.Contains(err.Error(), "handshake") {
		t.Errorf("expected handshake error, got %v", err)
	}
}

func TestRelayZeroExit(t *testing.T) {
	b := startBackend(t, func(cmd string, ch ssh.Channel) uint32 {
		ch.Write([]byte("done\r\n"))
		return 0
	})
	out, sink := newOutput(t)

	code, err := newTestClient(b, "").Relay(context.Background(), "true", testParams(), make(chan termio.Event), out)
	if err != nil || code != 0 {
		t.Fatalf("Relay = %d, %v", code, err)
	}
	out.Close()
	out.Wait()
	if !strings.Contains(sink.String(), "done") {
		t.Errorf("output drained incompletely: %q", sink.String())
	}
}

func TestRelayRecording(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "casts")
	b := startBackend(t, func(cmd string, ch ssh.Channel) uint32 {
		ch.Write([]byte("recorded output\r\n"))
		return 0
	})
	out, _ := newOutput(t)

	if _, err := newTestClient(b, dir).Relay(context.Background(), "true", testParams(), make(chan termio.Event), out); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*-fiona.cast"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one cast file, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.Contains(lines[0], `"version":2`) || !strings.Contains(lines[0], `"width":120`) {
		t.Errorf("header = %s", lines[0])
	}
	if !strings.Contains(string(data), "recorded output") {
		t.Errorf("cast missing output: %s", data)
	}
}
