// Package sessions tracks live client sessions across all transports so
// they can be listed and torn down from the admin API or by the idle
// reaper.
package sessions

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/gluk-w/cargocult/internal/audit"
	"github.com/gluk-w/cargocult/internal/logutil"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateMenu means the user is in the interactive menu or form.
	StateMenu State = "menu"
	// StateRelay means a sandbox relay is running.
	StateRelay State = "relay"
	// StateClosed means the session has ended.
	StateClosed State = "closed"
)

// Session is one connected client.
//
// Lifecycle:
//  1. Registry.Open on channel open → StateMenu
//  2. SetRelay(pkg) while a sandbox relay runs → StateRelay, back to
//     StateMenu when it ends
//  3. Close, Registry.Remove or the idle reaper → StateClosed
type Session struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	RemoteAddr string    `json:"remote_addr"`
	Transport  string    `json:"transport"`
	CreatedAt  time.Time `json:"created_at"`

	mu           sync.Mutex
	state        State
	pkg          string
	lastActivity time.Time
	closeFn      func()
}

// Info is a point-in-time view of a session for listing.
type Info struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	RemoteAddr   string    `json:"remote_addr"`
	Transport    string    `json:"transport"`
	State        State     `json:"state"`
	Package      string    `json:"package,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch records input activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SetRelay marks the session as relaying into pkg; an empty pkg returns it
// to the menu.
func (s *Session) SetRelay(pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.pkg = pkg
	s.state = StateMenu
	if pkg != "" {
		s.state = StateRelay
	}
	s.lastActivity = time.Now()
}

// Close tears the session down through its transport. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	fn := s.closeFn
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		Username:     s.Username,
		RemoteAddr:   s.RemoteAddr,
		Transport:    s.Transport,
		State:        s.state,
		Package:      s.pkg,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
}

// Registry holds every open session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// IdleTimeout closes sessions without input for this long. Zero
	// disables the reaper. Relaying sessions are bounded by the relay
	// timeout instead and are never reaped.
	IdleTimeout time.Duration

	sched *cron.Cron
}

func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		IdleTimeout: idleTimeout,
	}
}

// Open registers a new session. closeFn must force the transport closed;
// it is called at most once.
func (r *Registry) Open(username, remoteAddr, transport string, closeFn func()) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		Username:     username,
		RemoteAddr:   remoteAddr,
		Transport:    transport,
		CreatedAt:    now,
		state:        StateMenu,
		lastActivity: now,
		closeFn:      closeFn,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Printf("[session-mgr] opened session %s for %s via %s from %s",
		s.ID, logutil.SanitizeForLog(username), transport, remoteAddr)
	record(s, audit.EventSessionOpened, "")
	return s
}

func record(s *Session, event, details string) {
	e := audit.Entry{
		EventType: event,
		SessionID: s.ID,
		Username:  s.Username,
		SourceIP:  s.RemoteAddr,
		Transport: s.Transport,
		Details:   details,
	}
	if event != audit.EventSessionOpened {
		e.DurationMs = time.Since(s.CreatedAt).Milliseconds()
	}
	audit.Record(e)
}

// Remove forgets a session whose transport already went away.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		log.Printf("[session-mgr] removed session %s", id)
		record(s, audit.EventSessionClosed, "disconnected")
	}
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// List returns all sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	result := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// CloseSession force-closes one session.
func (r *Registry) CloseSession(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	s.Close()
	log.Printf("[session-mgr] closed session %s", id)
	record(s, audit.EventSessionKicked, "admin")
	return nil
}

// CloseAll force-closes every session, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
		record(s, audit.EventSessionClosed, "shutdown")
	}
}

// CleanupIdle closes menu sessions idle longer than IdleTimeout and
// returns how many it closed.
func (r *Registry) CleanupIdle() int {
	if r.IdleTimeout <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-r.IdleTimeout)
	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.State() == StateMenu && s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		log.Printf("[session-mgr] closing idle session %s (last input %s)",
			s.ID, s.LastActivity().Format(time.RFC3339))
		s.Close()
		record(s, audit.EventSessionKicked, "idle")
	}
	return len(idle)
}

// StartReaper runs CleanupIdle on a cron spec such as "@every 1m".
func (r *Registry) StartReaper(spec string) error {
	if r.IdleTimeout <= 0 {
		return nil
	}
	sched := cron.New()
	if _, err := sched.AddFunc(spec, func() { r.CleanupIdle() }); err != nil {
		return fmt.Errorf("schedule idle reaper %q: %w", spec, err)
	}
	r.sched = sched
	sched.Start()
	return nil
}

// StopReaper stops the reaper started by StartReaper.
func (r *Registry) StopReaper() {
	if r.sched != nil {
		<-r.sched.Stop().Done()
	}
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
