package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gluk-w/cargocult/internal/app"
	"github.com/gluk-w/cargocult/internal/logutil"
	"github.com/gluk-w/cargocult/internal/sessions"
	"github.com/gluk-w/cargocult/internal/termio"
)

const (
	// MaxInputMessageSize caps a single keystroke frame. Larger frames are
	// dropped.
	MaxInputMessageSize = 64 * 1024

	// MaxTermCols and MaxTermRows clamp the geometry a browser may claim.
	MaxTermCols = 500
	MaxTermRows = 200

	// terminalRateLimit is the sustained number of input frames allowed per
	// second; terminalRateBurst absorbs pastes.
	terminalRateLimit = 100
	terminalRateBurst = 200

	defaultWebUser = "guest"
)

type termResizeMsg struct {
	Type string `json:"type"`
	Cols uint32 `json:"cols"`
	Rows uint32 `json:"rows"`
}

// tokenBucket is a token bucket rate limiter for terminal input frames.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// allow consumes a token if one is available.
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	tb.lastRefill = now
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// wsSink sends each writer frame as one binary message.
type wsSink struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s wsSink) Write(p []byte) (int, error) {
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s wsSink) Flush() error { return nil }

// TerminalWS runs a session over a WebSocket.
//
// The client should open with a text frame {"type":"resize","cols":N,"rows":M};
// otherwise the session starts at 80x24. Binary frames carry keystrokes.
// Query parameters:
//   - user: username shown to the sandbox (default "guest")
//   - project: run this gallery project directly instead of the menu
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	if Launcher == nil || Registry == nil {
		http.Error(w, "Terminal not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal-ws] accept: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	username := r.URL.Query().Get("user")
	if username == "" {
		username = defaultWebUser
	}
	params := termio.TerminalParams{Username: username}

	// The first frame is either the initial geometry or already input.
	var pending []byte
	typ, data, err := conn.Read(r.Context())
	if err != nil {
		return
	}
	if typ == websocket.MessageText {
		var msg termResizeMsg
		if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
			params.Cols = min(msg.Cols, MaxTermCols)
			params.Rows = min(msg.Rows, MaxTermRows)
		}
	} else if len(data) <= MaxInputMessageSize {
		pending = data
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := Registry.Open(username, r.RemoteAddr, "websocket", func() {
		cancel()
		conn.CloseNow()
	})
	defer Registry.Remove(sess.ID)

	term := app.Terminal{
		Output:  termio.NewWriter(wsSink{ctx: ctx, conn: conn}),
		Input:   readInput(ctx, conn, sess, pending),
		Params:  termio.NewSharedParams(params),
		Session: sess,
		Exit: func() {
			conn.Close(websocket.StatusNormalClosure, "")
		},
	}
	if project := r.URL.Query().Get("project"); project != "" {
		term.Mode = app.ModeProject
		term.Project = project
	}

	if err := Launcher.Start(ctx, term); err != nil {
		log.Printf("[terminal-ws] session for %s: %v", logutil.SanitizeForLog(username), err)
	}
}

// readInput decodes keystroke frames into events. Frames over the rate
// limit or the size cap are dropped; text frames after the first are
// ignored. The channel closes when the connection does.
func readInput(ctx context.Context, conn *websocket.Conn, sess *sessions.Session, pending []byte) <-chan termio.Event {
	events := make(chan termio.Event)
	go func() {
		defer close(events)
		limiter := newTokenBucket(terminalRateLimit, terminalRateBurst)

		deliver := func(data []byte) bool {
			sess.Touch()
			for _, ev := range termio.Decode(data) {
				select {
				case events <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		if len(pending) > 0 && !deliver(pending) {
			return
		}
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary || !limiter.allow() {
				continue
			}
			if len(data) > MaxInputMessageSize {
				log.Printf("[terminal-ws] dropped %d byte input frame from session %s", len(data), sess.ID)
				continue
			}
			if !deliver(data) {
				return
			}
		}
	}()
	return events
}
