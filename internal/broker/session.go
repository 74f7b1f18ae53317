package broker

import (
	"context"
	"sync"
	"time"

	"cockpit-ssh-relay/internal/authfd"
	"cockpit-ssh-relay/internal/protocol"
)

// sessionState tracks whether a session's relay subprocess is still
// coming up (frozen) or ready to take live traffic.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateOpen
	stateClosing
)

// session is one live (or coming-up) relay subprocess and the set of
// upstream channels currently routed to it.
type session struct {
	mu sync.Mutex

	key    sessionKey
	proc   RelaySubprocess
	cancel context.CancelFunc

	state    sessionState
	channels map[protocol.ChannelID]struct{}

	// frozen holds data frames received for a channel before the
	// session finished connecting, replayed in order once thaw runs
	// (§9 design note on frozen_queue/thawing).
	frozen map[protocol.ChannelID][][]byte

	// authorizes is the set of cookies this session has registered for
	// a downstream authorize request it forwarded upstream (§3
	// "authorizes: Set<Cookie>"); an upstream authorize reply carrying
	// one of these cookies is routed back to this session.
	authorizes map[string]struct{}

	// verdict is the relay's final auth-FD report (§4.B), stashed here
	// so close synthesis (§4.H) can attach host-key/host-fingerprint/
	// auth-method-results diagnostics once the session's transport dies.
	verdict         authfd.Verdict
	verdictReceived bool

	lastActivity time.Time
	checksum     string
}

func newSession(key sessionKey, proc RelaySubprocess, cancel context.CancelFunc) *session {
	return &session{
		key:          key,
		proc:         proc,
		cancel:       cancel,
		state:        stateConnecting,
		channels:     make(map[protocol.ChannelID]struct{}),
		frozen:       make(map[protocol.ChannelID][][]byte),
		authorizes:   make(map[string]struct{}),
		lastActivity: time.Now(),
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *session) addChannel(id protocol.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[id] = struct{}{}
}

func (s *session) removeChannel(id protocol.ChannelID) (empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
	delete(s.frozen, id)
	return len(s.channels) == 0
}

func (s *session) isConnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnecting
}

func (s *session) hasChannel(id protocol.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[id]
	return ok
}

func (s *session) channelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// freeze queues a data frame for channel rather than writing it to the
// subprocess, because the session has not finished connecting yet.
func (s *session) freeze(id protocol.ChannelID, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen[id] = append(s.frozen[id], payload)
}

// thaw marks the session open and returns every queued frame in
// per-channel FIFO order for the caller to flush to the subprocess.
// Callers must only invoke this once the relay's own "init" reply has
// been received (§3 invariant, §5 ordering) — see
// Broker.handleRelayInit.
func (s *session) thaw() map[protocol.ChannelID][][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateOpen
	queued := s.frozen
	s.frozen = make(map[protocol.ChannelID][][]byte)
	return queued
}

// setChecksum records the relay's self-reported "checksum" field from
// its own "init" echo (§4.H).
func (s *session) setChecksum(checksum string) {
	s.mu.Lock()
	s.checksum = checksum
	s.mu.Unlock()
}

// setVerdict records the relay's final auth-FD verdict (§4.B) for later
// attachment to synthesized close messages.
func (s *session) setVerdict(v authfd.Verdict) {
	s.mu.Lock()
	s.verdict = v
	s.verdictReceived = true
	s.mu.Unlock()
}

func (s *session) getVerdict() authfd.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict
}

// hasVerdict reports whether the relay has reported an auth-FD verdict
// yet (§4.B); close synthesis only attaches diagnostics once one has
// arrived.
func (s *session) hasVerdict() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdictReceived
}

// addCookie registers cookie as belonging to this session, so a later
// upstream authorize reply carrying it can be routed back here (§4.H
// "Authorize").
func (s *session) addCookie(cookie string) {
	if cookie == "" {
		return
	}
	s.mu.Lock()
	s.authorizes[cookie] = struct{}{}
	s.mu.Unlock()
}

// forgetCookie drops cookie once its authorize round-trip has
// completed (the reply was routed back to this session).
func (s *session) forgetCookie(cookie string) {
	s.mu.Lock()
	delete(s.authorizes, cookie)
	s.mu.Unlock()
}

// cookies returns a snapshot of this session's outstanding authorize
// cookies, e.g. for discarding them when the session dies.
func (s *session) cookies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.authorizes))
	for c := range s.authorizes {
		out = append(out, c)
	}
	return out
}
