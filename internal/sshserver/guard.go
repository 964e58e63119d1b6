package sshserver

import (
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

// Admission defaults. A client address is limited to MaxPerMinute new
// connections in a sliding one-minute window and is blocked for
// BlockDuration after MaxFailures handshakes fail in a row.
const (
	DefaultMaxPerMinute  = 30
	DefaultMaxFailures   = 5
	DefaultBlockDuration = 5 * time.Minute
)

type GuardConfig struct {
	// AllowList is a comma-separated list of IPs and CIDR ranges. Empty
	// admits every address.
	AllowList     string
	MaxPerMinute  int
	MaxFailures   int
	BlockDuration time.Duration
}

type addrState struct {
	attempts     []time.Time
	failures     int
	blockedUntil time.Time
}

// Guard decides whether a new TCP connection may start an SSH handshake.
type Guard struct {
	mu       sync.Mutex
	cfg      GuardConfig
	networks []*net.IPNet
	state    map[string]*addrState
	nowFn    func() time.Time
}

func NewGuard(cfg GuardConfig) (*Guard, error) {
	networks, err := ParseAllowList(cfg.AllowList)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPerMinute <= 0 {
		cfg.MaxPerMinute = DefaultMaxPerMinute
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	return &Guard{
		cfg:      cfg,
		networks: networks,
		state:    make(map[string]*addrState),
		nowFn:    time.Now,
	}, nil
}

// ParseAllowList parses a comma-separated list of IPs and CIDR ranges.
// Single IPs become /32 or /128 networks. Empty input returns nil.
func ParseAllowList(list string) ([]*net.IPNet, error) {
	var networks []*net.IPNet
	for _, part := range strings.Split(list, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			networks = append(networks, network)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", entry)
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		mask := net.CIDRMask(bits, bits)
		networks = append(networks, &net.IPNet{IP: ip.Mask(mask), Mask: mask})
	}
	return networks, nil
}

// Admit records a connection attempt from ip and returns an error if it
// must be refused.
func (g *Guard) Admit(ip string) error {
	if !g.allowed(ip) {
		return fmt.Errorf("source %s is not in the allow list", ip)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	s := g.stateFor(ip)
	if now.Before(s.blockedUntil) {
		return fmt.Errorf("source %s is blocked for %s after %d failed handshakes",
			ip, s.blockedUntil.Sub(now).Truncate(time.Second), s.failures)
	}

	cutoff := now.Add(-time.Minute)
	recent := s.attempts[:0]
	for _, t := range s.attempts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	s.attempts = recent

	if len(s.attempts) >= g.cfg.MaxPerMinute {
		return fmt.Errorf("source %s exceeded %d connections per minute", ip, g.cfg.MaxPerMinute)
	}
	s.attempts = append(s.attempts, now)
	return nil
}

// RecordSuccess clears the failure streak of ip.
func (g *Guard) RecordSuccess(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stateFor(ip)
	s.failures = 0
	s.blockedUntil = time.Time{}
}

// RecordFailure counts a failed handshake and blocks ip once the streak
// reaches the limit.
func (g *Guard) RecordFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.stateFor(ip)
	s.failures++
	if s.failures >= g.cfg.MaxFailures {
		s.blockedUntil = g.nowFn().Add(g.cfg.BlockDuration)
		log.Printf("[ssh-server] blocking %s until %s (%d failed handshakes)",
			ip, s.blockedUntil.Format(time.RFC3339), s.failures)
	}
}

// Prune forgets addresses with no recent attempts and no active block.
func (g *Guard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	cutoff := now.Add(-time.Minute)
	removed := 0
	for ip, s := range g.state {
		if now.Before(s.blockedUntil) {
			continue
		}
		if n := len(s.attempts); n > 0 && s.attempts[n-1].After(cutoff) {
			continue
		}
		delete(g.state, ip)
		removed++
	}
	return removed
}

func (g *Guard) allowed(ip string) bool {
	if len(g.networks) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range g.networks {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// Must be called with g.mu held.
func (g *Guard) stateFor(ip string) *addrState {
	s, ok := g.state[ip]
	if !ok {
		s = &addrState{}
		g.state[ip] = s
	}
	return s
}

func remoteIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
