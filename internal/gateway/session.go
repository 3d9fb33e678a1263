package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stage is the connection's position in the handshake lifecycle.
type Stage uint32

const (
	StageDisconnected Stage = iota
	StageConnecting
	StageHandshaking
	StageIdentifying
	StageResuming
	StageConnected
)

func (s Stage) String() string {
	switch s {
	case StageDisconnected:
		return "disconnected"
	case StageConnecting:
		return "connecting"
	case StageHandshaking:
		return "handshaking"
	case StageIdentifying:
		return "identifying"
	case StageResuming:
		return "resuming"
	case StageConnected:
		return "connected"
	}
	return "unknown"
}

// Session holds the mutable connection state shared between the shard's
// main loop and the heartbeat controller. Sequence, stage and interval are
// atomics because both goroutines need low-latency access without
// coordination; the session id is behind a short-lived lock.
type Session struct {
	sequence atomic.Int64
	stage    atomic.Uint32
	interval atomic.Int64 // milliseconds

	mu               sync.Mutex
	id               string
	resumeGatewayURL string
}

// NewSession returns a disconnected session with no identity.
func NewSession() *Session {
	return &Session{}
}

// SessionSnapshot is a resumable session's identity, exported for handoff
// across process restarts.
type SessionSnapshot struct {
	ID               string `json:"id"`
	ResumeGatewayURL string `json:"resume_gateway_url,omitempty"`
	Sequence         int64  `json:"seq"`
}

// snapshot captures the current identity, or nil when there is nothing to
// resume.
func (s *Session) snapshot() *SessionSnapshot {
	s.mu.Lock()
	id, resumeURL := s.id, s.resumeGatewayURL
	s.mu.Unlock()

	if id == "" {
		return nil
	}
	return &SessionSnapshot{
		ID:               id,
		ResumeGatewayURL: resumeURL,
		Sequence:         s.Sequence(),
	}
}

// Sequence returns the last-seen event sequence number.
func (s *Session) Sequence() int64 { return s.sequence.Load() }

// SetSequence records a dispatched event's sequence number. The counter is
// monotonically non-decreasing within one session id; stale values are
// ignored.
func (s *Session) SetSequence(seq int64) {
	for {
		cur := s.sequence.Load()
		if seq <= cur {
			return
		}
		if s.sequence.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Stage returns the current lifecycle stage.
func (s *Session) Stage() Stage { return Stage(s.stage.Load()) }

// SetStage moves the session to a new lifecycle stage. Entering
// StageDisconnected discards the session identity, keeping the invariant
// that no id survives a disconnected session.
func (s *Session) SetStage(st Stage) {
	s.stage.Store(uint32(st))
	if st == StageDisconnected {
		s.clearIdentity()
	}
}

// HeartbeatInterval returns the cadence dictated by the handshake Hello, or
// zero before any handshake completed.
func (s *Session) HeartbeatInterval() time.Duration {
	return time.Duration(s.interval.Load()) * time.Millisecond
}

// SetHeartbeatInterval records the Hello payload's interval. It is set once
// per transport connection and immutable until the next one.
func (s *Session) SetHeartbeatInterval(d time.Duration) {
	s.interval.Store(d.Milliseconds())
}

// ID returns the session id, or "" before a handshake completed.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ResumeURL returns the gateway URL to use for resuming, or "" to use the
// configured URL.
func (s *Session) ResumeURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeGatewayURL
}

// SetIdentity records the identity from a Ready dispatch.
func (s *Session) SetIdentity(id, resumeURL string) {
	s.mu.Lock()
	s.id = id
	s.resumeGatewayURL = resumeURL
	s.mu.Unlock()
}

// Resumable reports whether enough identity is known to attempt a Resume.
func (s *Session) Resumable() bool {
	return s.ID() != ""
}

// clearIdentity forgets the session id, resume URL and sequence, forcing
// the next handshake to be a fresh Identify.
func (s *Session) clearIdentity() {
	s.mu.Lock()
	s.id = ""
	s.resumeGatewayURL = ""
	s.mu.Unlock()
	s.sequence.Store(0)
}
