package sshkeys

import (
	"fmt"
	"log"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// FingerprintMismatchError is returned when a host presents a key other
// than the one first seen for it.
type FingerprintMismatchError struct {
	Host     string
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("SSH host key fingerprint mismatch for %s: expected %s, got %s", e.Host, e.Expected, e.Actual)
}

// GetPublicKeyFingerprint calculates the SHA256 fingerprint of an SSH public
// key in authorized_keys format.
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(parsed), nil
}

// HostKeyPinner implements trust on first use per host.
type HostKeyPinner struct {
	mu     sync.Mutex
	pinned map[string]string // host → fingerprint
}

func NewHostKeyPinner() *HostKeyPinner {
	return &HostKeyPinner{pinned: make(map[string]string)}
}

// Callback is an ssh.HostKeyCallback.
func (p *HostKeyPinner) Callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	actual := ssh.FingerprintSHA256(key)

	p.mu.Lock()
	defer p.mu.Unlock()
	expected, ok := p.pinned[hostname]
	if !ok {
		p.pinned[hostname] = actual
		log.Printf("[sshkeys] pinned host key for %s: %s", hostname, actual)
		return nil
	}
	if expected != actual {
		return &FingerprintMismatchError{Host: hostname, Expected: expected, Actual: actual}
	}
	return nil
}

// Fingerprint returns the pinned fingerprint for host, if any.
func (p *HostKeyPinner) Fingerprint(host string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fp, ok := p.pinned[host]
	return fp, ok
}
