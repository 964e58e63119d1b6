package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerateKeyPair(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if !strings.HasPrefix(string(pub), "ssh-ed25519 ") {
		t.Errorf("public key format: %q", pub)
	}
	if !strings.Contains(string(priv), "BEGIN PRIVATE KEY") {
		t.Errorf("private key is not PEM")
	}

	signer, err := ssh.ParsePrivateKey(priv)
	if err != nil {
		t.Fatalf("parse generated key: %v", err)
	}
	fromPriv := ssh.FingerprintSHA256(signer.PublicKey())
	fromPub, err := GetPublicKeyFingerprint(pub)
	if err != nil {
		t.Fatalf("GetPublicKeyFingerprint: %v", err)
	}
	if fromPriv != fromPub {
		t.Errorf("fingerprints differ: %s vs %s", fromPriv, fromPub)
	}
}

func TestLoadOrCreateHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_key")

	first, err := LoadOrCreateHostKey(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("private key mode = %o, want 600", perm)
	}
	if _, err := os.Stat(path + ".pub"); err != nil {
		t.Errorf("public key not written: %v", err)
	}

	second, err := LoadOrCreateHostKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ssh.FingerprintSHA256(first.PublicKey()) != ssh.FingerprintSHA256(second.PublicKey()) {
		t.Error("second call generated a new key instead of loading")
	}
}

func TestLoadOrCreateHostKeyCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateHostKey(path); err == nil {
		t.Error("expected parse error, not silent regeneration")
	}
}

func TestLoadSignerMissing(t *testing.T) {
	_, err := LoadSigner(filepath.Join(t.TempDir(), "id_ed25519"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestGetPublicKeyFingerprintErrors(t *testing.T) {
	if _, err := GetPublicKeyFingerprint(nil); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := GetPublicKeyFingerprint([]byte("not a key")); err == nil {
		t.Error("expected error for malformed key")
	}
}

func newPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	k, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestHostKeyPinner(t *testing.T) {
	p := NewHostKeyPinner()
	a, b := newPublicKey(t), newPublicKey(t)

	if err := p.Callback("localhost:2222", nil, a); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := p.Callback("localhost:2222", nil, a); err != nil {
		t.Errorf("same key rejected: %v", err)
	}

	err := p.Callback("localhost:2222", nil, b)
	var mismatch *FingerprintMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected FingerprintMismatchError, got %v", err)
	}
	if mismatch.Expected != ssh.FingerprintSHA256(a) || mismatch.Actual != ssh.FingerprintSHA256(b) {
		t.Errorf("mismatch = %+v", mismatch)
	}

	if err := p.Callback("other:22", nil, b); err != nil {
		t.Errorf("different host should pin independently: %v", err)
	}
	if fp, ok := p.Fingerprint("other:22"); !ok || fp != ssh.FingerprintSHA256(b) {
		t.Errorf("Fingerprint = %q, %v", fp, ok)
	}
}
