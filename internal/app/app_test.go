package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/gluk-w/cargocult/internal/config"
	"github.com/gluk-w/cargocult/internal/content"
	"github.com/gluk-w/cargocult/internal/sandbox"
	"github.com/gluk-w/cargocult/internal/sessions"
	"github.com/gluk-w/cargocult/internal/store"
	"github.com/gluk-w/cargocult/internal/termio"
)

// --- Fakes ---

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

func (s *bufferSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ansi.Strip(s.buf.String())
}

type fakeStore struct {
	mu         sync.Mutex
	approved   []store.FormData
	listErr    error
	createErrs []error // consumed one per Create call
	created    []store.FormData
	attempts   int
}

func (f *fakeStore) ListApproved(context.Context) ([]store.FormData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]store.FormData(nil), f.approved...), nil
}

func (f *fakeStore) Create(_ context.Context, data store.FormData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	f.created = append(f.created, data)
	return nil
}

type fakeRelay struct {
	mu       sync.Mutex
	commands []string
	params   []termio.TerminalParams
	run      func(ctx context.Context) (int, error)
}

func (f *fakeRelay) Relay(ctx context.Context, command string, params termio.TerminalParams, _ <-chan termio.Event, _ *termio.Writer) (int, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.params = append(f.params, params)
	f.mu.Unlock()
	if f.run == nil {
		return 0, nil
	}
	return f.run(ctx)
}

// blockUntilDone simulates a remote command that never exits.
func blockUntilDone(ctx context.Context) (int, error) {
	<-ctx.Done()
	return -1, ctx.Err()
}

type harness struct {
	app   *App
	sink  *bufferSink
	out   *termio.Writer
	input chan termio.Event
	exits int
	mu    sync.Mutex
}

func newHarness(st store.Store, relay Relay, mutate func(*Options)) *harness {
	h := &harness{sink: &bufferSink{}, input: make(chan termio.Event, 1024)}
	h.out = termio.NewWriter(h.sink)
	opts := Options{
		Output: h.out,
		Input:  h.input,
		Params: termio.NewSharedParams(termio.TerminalParams{Cols: 80, Rows: 24, Term: "xterm", Username: "fiona"}),
		Store:  st,
		Relay:  relay,
		Exit: func() {
			h.mu.Lock()
			h.exits++
			h.mu.Unlock()
		},
		Image: "cargo-cult",
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.app = New(opts)
	return h
}

func (h *harness) send(s string) {
	for _, ev := range termio.Decode([]byte(s)) {
		h.input <- ev
	}
}

const (
	down  = "\x1b[B"
	enter = "\r"
)

func menuPick(idx int) string {
	return strings.Repeat(down, idx) + enter
}

const (
	menuInfo = iota
	menuHowTo
	menuGallery
	menuSubmit
	menuLeave
)

func (h *harness) exitCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exits
}

func runWithTimeout(t *testing.T, fn func() error, limit time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(limit):
		t.Fatal("session did not finish")
		return nil
	}
}

// fillForm answers every question after the name with "x".
func fillForm(h *harness, name string) {
	h.send(enter) // Submission
	h.send(name + enter)
	for range content.Default().Submit.Questions[1:] {
		h.send("x" + enter)
	}
}

// --- Tests ---

func TestSubmitFlow(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(st, &fakeRelay{}, nil)

	h.send(menuPick(menuSubmit))
	fillForm(h, "Jane Doe")
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.created) != 1 {
		t.Fatalf("created %d submissions, want 1", len(st.created))
	}
	got := st.created[0]
	if got.Name != "Jane Doe" || got.Type != "Submission" {
		t.Errorf("form = %+v", got)
	}
	if got.Email != "x" || got.Hours != "x" || got.AddressLine2 != "x" {
		t.Errorf("remaining answers not stored: %+v", got)
	}

	out := h.sink.Text()
	if !strings.Contains(out, "Hi, Jane Doe! What's your Slack handle?") {
		t.Error("slack question not personalized")
	}
	if !strings.Contains(out, "Wahoo! Thanks for submitting.") {
		t.Error("thanks box missing")
	}
	if h.exitCount() != 1 {
		t.Errorf("exit called %d times", h.exitCount())
	}
}

func TestSubmitUpdateType(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(st, &fakeRelay{}, nil)

	h.send(menuPick(menuSubmit))
	h.send(down + enter) // Update
	h.send("Jane" + enter)
	for range content.Default().Submit.Questions[1:] {
		h.send("x" + enter)
	}
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.created) != 1 || st.created[0].Type != "Update" {
		t.Errorf("created = %+v", st.created)
	}
}

func TestSubmitStoreErrorRetry(t *testing.T) {
	st := &fakeStore{createErrs: []error{errors.New("HTTP 503")}}
	h := newHarness(st, &fakeRelay{}, nil)

	h.send(menuPick(menuSubmit))
	fillForm(h, "Jane Doe")
	h.send(enter) // Try again
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.attempts != 2 {
		t.Errorf("attempts = %d, want 2", st.attempts)
	}
	if len(st.created) != 1 || st.created[0].Name != "Jane Doe" {
		t.Errorf("retry lost the form: %+v", st.created)
	}
	if !strings.Contains(h.sink.Text(), content.Default().Errors.Store) {
		t.Error("error box not shown")
	}
}

func TestSubmitStoreErrorBack(t *testing.T) {
	st := &fakeStore{createErrs: []error{errors.New("HTTP 503")}}
	h := newHarness(st, &fakeRelay{}, nil)

	h.send(menuPick(menuSubmit))
	fillForm(h, "Jane Doe")
	h.send(down + enter) // Back to menu
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.attempts != 1 || len(st.created) != 0 {
		t.Errorf("attempts=%d created=%d", st.attempts, len(st.created))
	}
}

func TestGalleryRelayTimeoutReturnsToMenu(t *testing.T) {
	pkg := "ripgrep"
	st := &fakeStore{approved: []store.FormData{
		{Name: "Fiona Hackworth", Description: "fast grep", PackageName: &pkg},
	}}
	relay := &fakeRelay{run: blockUntilDone}
	reg := sessions.NewRegistry(0)
	sess := reg.Open("fiona", "127.0.0.1:1", "ssh", nil)

	h := newHarness(st, relay, func(o *Options) {
		o.RelayTimeout = time.Second
		o.Session = sess
	})

	h.send(menuPick(menuGallery))
	h.send(enter) // first project
	h.send(menuPick(menuLeave))

	start := time.Now()
	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < time.Second || elapsed > 3*time.Second {
		t.Errorf("session took %s, want about 1s", elapsed)
	}

	want := sandbox.Command("cargo-cult", "fiona", "ripgrep", "Fiona Hackworth")
	if len(relay.commands) != 1 || relay.commands[0] != want {
		t.Errorf("commands = %q, want %q", relay.commands, want)
	}
	if relay.params[0].Cols != 80 || relay.params[0].Rows != 24 {
		t.Errorf("params = %+v", relay.params[0])
	}

	out := h.sink.Text()
	if !strings.Contains(strings.Join(strings.Fields(out), " "), "self-destructs in 1 second") {
		t.Errorf("banner missing budget: %q", out)
	}
	if !strings.Contains(out, content.Default().Gallery.Ended) {
		t.Error("relay end notice missing")
	}
	if info := sess.Info(); info.State != sessions.StateMenu || info.Package != "" {
		t.Errorf("session after relay = %+v", info)
	}
	if h.exitCount() != 1 {
		t.Errorf("exit called %d times", h.exitCount())
	}
}

func TestGalleryEmpty(t *testing.T) {
	h := newHarness(&fakeStore{}, &fakeRelay{}, nil)
	h.send(menuPick(menuGallery))
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(h.sink.Text(), content.Default().Gallery.Empty) {
		t.Error("empty notice missing")
	}
}

func TestGalleryRelayFailureShowsError(t *testing.T) {
	pkg := "bat"
	st := &fakeStore{approved: []store.FormData{{Name: "A", PackageName: &pkg}}}
	relay := &fakeRelay{run: func(context.Context) (int, error) {
		return -1, errors.New("dial backend localhost:2222: connection refused")
	}}
	h := newHarness(st, relay, nil)

	h.send(menuPick(menuGallery))
	h.send(enter)
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(h.sink.Text(), content.Default().Errors.Relay) {
		t.Error("relay error not shown")
	}
}

func TestGalleryListErrorRetry(t *testing.T) {
	st := &fakeStore{listErr: errors.New("HTTP 500")}
	h := newHarness(st, &fakeRelay{}, nil)

	h.send(menuPick(menuGallery))
	h.send(down + enter) // Back to menu
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(h.sink.Text(), content.Default().Errors.Store) {
		t.Error("error box not shown")
	}
}

func TestInfoPageWrapsToWidth(t *testing.T) {
	h := newHarness(&fakeStore{}, &fakeRelay{}, func(o *Options) { o.MaxWidth = 40 })
	h.send(menuPick(menuInfo))
	h.send(menuPick(menuLeave))

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(h.sink.Text(), "Hey, I'm Cheru!") {
		t.Error("info page missing")
	}
}

func TestCtrlCEndsSession(t *testing.T) {
	h := newHarness(&fakeStore{}, &fakeRelay{}, nil)
	h.send("\x03")

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.exitCount() != 1 {
		t.Errorf("exit called %d times", h.exitCount())
	}
	select {
	case <-h.out.Done():
	default:
		t.Error("writer not drained before exit")
	}
}

func TestCtrlCInsidePrompt(t *testing.T) {
	st := &fakeStore{}
	h := newHarness(st, &fakeRelay{}, nil)
	h.send(menuPick(menuSubmit))
	h.send(enter + "Jane\x03")

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.created) != 0 {
		t.Error("aborted form was saved")
	}
}

func TestInputClosedEndsSession(t *testing.T) {
	h := newHarness(&fakeStore{}, &fakeRelay{}, nil)
	close(h.input)

	if err := runWithTimeout(t, func() error { return h.app.Run(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.exitCount() != 1 {
		t.Errorf("exit called %d times", h.exitCount())
	}
}

type failingSink struct{}

func (failingSink) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (failingSink) Flush() error              { return nil }

func TestTransportFailureEndsSession(t *testing.T) {
	exits := 0
	a := New(Options{
		Output: termio.NewWriter(failingSink{}),
		Input:  make(chan termio.Event),
		Store:  &fakeStore{},
		Relay:  &fakeRelay{},
		Exit:   func() { exits++ },
	})

	err := runWithTimeout(t, func() error { return a.Run(context.Background()) }, 5*time.Second)
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("err = %v", err)
	}
	if exits != 1 {
		t.Errorf("exit called %d times", exits)
	}
}

func TestRunProject(t *testing.T) {
	pkg := "hc-cargo-cult"
	st := &fakeStore{approved: []store.FormData{{Name: "Cheru", PackageName: &pkg}}}
	relay := &fakeRelay{}
	h := newHarness(st, relay, nil)

	if err := runWithTimeout(t, func() error { return h.app.RunProject(context.Background(), pkg) }, 5*time.Second); err != nil {
		t.Fatalf("RunProject: %v", err)
	}
	if len(relay.commands) != 1 || !strings.Contains(relay.commands[0], "'hc-cargo-cult' 'Cheru'") {
		t.Errorf("commands = %q", relay.commands)
	}
	if h.exitCount() != 1 {
		t.Errorf("exit called %d times", h.exitCount())
	}
}

func TestRunProjectNotFound(t *testing.T) {
	relay := &fakeRelay{}
	h := newHarness(&fakeStore{}, relay, nil)

	if err := runWithTimeout(t, func() error { return h.app.RunProject(context.Background(), "nope") }, 5*time.Second); err != nil {
		t.Fatalf("RunProject: %v", err)
	}
	if len(relay.commands) != 0 {
		t.Error("relay started for unknown package")
	}
	if !strings.Contains(h.sink.Text(), "There's no project called nope") {
		t.Errorf("output = %q", h.sink.Text())
	}
}

func TestRunGallery(t *testing.T) {
	pkg := "ripgrep"
	st := &fakeStore{approved: []store.FormData{{Name: "A", PackageName: &pkg}}}
	relay := &fakeRelay{}
	h := newHarness(st, relay, nil)
	h.send(enter)

	if err := runWithTimeout(t, func() error { return h.app.RunGallery(context.Background()) }, 5*time.Second); err != nil {
		t.Fatalf("RunGallery: %v", err)
	}
	if len(relay.commands) != 1 {
		t.Errorf("commands = %q", relay.commands)
	}
}

func TestExitTokenPanicsWhenTakenTwice(t *testing.T) {
	tok := exitToken{fn: func() {}}
	tok.take()
	defer func() {
		if recover() == nil {
			t.Error("second take did not panic")
		}
	}()
	tok.take()
}

func TestZeroRelayTimeoutUsesDefault(t *testing.T) {
	a := New(Options{
		Output:       termio.NewWriter(failingSink{}),
		Input:        make(chan termio.Event),
		Store:        &fakeStore{},
		Relay:        &fakeRelay{},
		RelayTimeout: config.Duration("0", time.Minute),
	})
	if a.relayTimeout != DefaultRelayTimeout {
		t.Errorf("relayTimeout = %s, want %s", a.relayTimeout, DefaultRelayTimeout)
	}
}
