package sshserver

import (
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/cargocult/internal/sessions"
)

// channelSink delivers writer frames as channel data. Every Write already
// carries a whole frame, so Flush has nothing left to do.
type channelSink struct {
	ch ssh.Channel
}

func (s channelSink) Write(p []byte) (int, error) {
	return s.ch.Write(p)
}

func (s channelSink) Flush() error {
	return nil
}

// activityReader marks the session active whenever client input arrives.
type activityReader struct {
	ch      ssh.Channel
	session *sessions.Session
}

func (r activityReader) Read(p []byte) (int, error) {
	n, err := r.ch.Read(p)
	if n > 0 {
		r.session.Touch()
	}
	return n, err
}
