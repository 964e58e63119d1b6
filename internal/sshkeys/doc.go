// Package sshkeys loads and generates the SSH keys the service needs: the
// server's host key, presented to connecting clients, and the client key
// the relay uses to log in to the sandbox backend.
//
// Keys are ED25519. A missing host key is generated on first start and
// written next to its public half:
//
//	<path>      private key, PKCS#8 PEM, mode 0600
//	<path>.pub  public key, authorized_keys format, mode 0644
//
// The backend's host key is not pinned ahead of time. [HostKeyPinner]
// trusts the first key it sees for each host and rejects a different key
// for the rest of the process lifetime.
package sshkeys
