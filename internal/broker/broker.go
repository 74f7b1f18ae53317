package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"cockpit-ssh-relay/internal/problem"
	"cockpit-ssh-relay/internal/protocol"
)

// DefaultIdleTimeout is how long a shared session with no live channels
// is kept warm before the broker kills its relay subprocess (§4.H).
// Private sessions never use this timer: they retire the instant their
// last channel closes.
const DefaultIdleTimeout = 30 * time.Second

// relayProtocolVersion is the only broker<->relay handshake version
// this broker speaks (§4.H, §6.1 "init").
const relayProtocolVersion = 1

// Spawner starts a RelaySubprocess for the given open request. Tests
// substitute a fake; production wires this to a real os/exec-backed
// implementation (not included here — the exec plumbing itself is
// ordinary and not spec'd in detail).
type Spawner func(ctx context.Context, key sessionKey, msg protocol.ControlMessage) (RelaySubprocess, error)

// FrameWriter is the upstream transport the broker writes frames back
// to (cockpit-ws, in production).
type FrameWriter interface {
	WriteFrame(channel protocol.ChannelID, payload []byte) error
}

// Broker is the session broker (component H). It owns no network
// transport itself; HandleControl/HandleData are driven by whatever
// reads the upstream frame stream.
type Broker struct {
	mu sync.Mutex

	sessions map[sessionKey]*session
	channels map[protocol.ChannelID]*session

	// cookies maps an outstanding "authorize" cookie to the session that
	// registered it, so an upstream authorize reply can be routed back
	// to the relay that asked for it (§4.H "Authorize").
	cookies map[string]*session

	spawn       Spawner
	out         FrameWriter
	idleTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Broker. ctx bounds every session's lifetime: cancelling
// it kills every live relay subprocess.
func New(ctx context.Context, spawn Spawner, out FrameWriter) *Broker {
	bctx, cancel := context.WithCancel(ctx)
	b := &Broker{
		sessions:    make(map[sessionKey]*session),
		channels:    make(map[protocol.ChannelID]*session),
		cookies:     make(map[string]*session),
		spawn:       spawn,
		out:         out,
		idleTimeout: DefaultIdleTimeout,
		ctx:         bctx,
		cancel:      cancel,
	}
	go b.reapIdle()
	return b
}

// Close tears down every live session.
func (b *Broker) Close() {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, s := range b.sessions {
		s.proc.Kill()
		delete(b.sessions, key)
	}
}

// HandleControl dispatches one control-channel message (§6.1).
func (b *Broker) HandleControl(msg protocol.ControlMessage) {
	switch msg.Command {
	case protocol.CommandInit:
		// The upstream transport's own "init" is answered implicitly by
		// this broker existing at all; there is exactly one protocol
		// version to negotiate and it is always accepted. The handshake
		// this broker actually gates on is the one with each relay
		// subprocess — see handleRelayInit.
	case protocol.CommandOpen:
		b.open(msg)
	case protocol.CommandClose:
		b.closeChannel(msg.Channel(), msg.Problem())
	case protocol.CommandKill:
		b.kill(msg.Host())
	case protocol.CommandPing:
		b.writeControl(protocol.ControlMessage{Command: protocol.CommandPing})
	case protocol.CommandAuthorize:
		b.routeAuthorizeReply(msg)
	default:
		log.WithField("command", msg.Command).Debug("broker: unhandled control command")
	}
}

// routeAuthorizeReply forwards an upstream authorize reply to whichever
// session registered its cookie (§4.H "Authorize"); an unrecognized
// cookie is dropped and logged rather than guessed at.
func (b *Broker) routeAuthorizeReply(msg protocol.ControlMessage) {
	cookie := msg.Cookie()
	b.mu.Lock()
	s, ok := b.cookies[cookie]
	if ok {
		delete(b.cookies, cookie)
	}
	b.mu.Unlock()
	if !ok {
		log.WithField("cookie", cookie).Debug("broker: authorize reply for unknown cookie dropped")
		return
	}
	s.forgetCookie(cookie)
	b.sendControlToSubprocess(s, msg)
}

// HandleData routes a data frame for channel to whichever session owns
// it, queuing it if the session has not finished connecting yet.
func (b *Broker) HandleData(channel protocol.ChannelID, payload []byte) {
	b.mu.Lock()
	s, ok := b.channels[channel]
	b.mu.Unlock()
	if !ok {
		log.WithField("channel", channel).Debug("broker: data for unknown channel dropped")
		return
	}
	s.touch()
	if s.isConnecting() {
		s.freeze(channel, payload)
		return
	}
	b.writeToSubprocess(channel, s, payload)
}

func (b *Broker) writeToSubprocess(channel protocol.ChannelID, s *session, payload []byte) {
	if _, err := s.proc.Stdin().Write(protocol.Encode(channel, payload)); err != nil {
		log.WithError(err).WithField("channel", channel).Warn("broker: write to relay subprocess failed")
		b.closeChannel(channel, string(problem.Disconnected))
	}
}

// sessionKeyFor decides whether an "open" request must get its own
// private, single-use relay subprocess or may share one with other
// channels to the same host (§4.H "Private triggers"): an explicit
// session=="private", the legacy temp-session flag, a caller-supplied
// host-key expectation, a non-default (explicitly named) user, or a
// credential — here, a password — that is not safely shareable across
// unrelated callers. Anything else is shared.
func sessionKeyFor(msg protocol.ControlMessage) sessionKey {
	key := sessionKey{Host: msg.Host(), User: msg.User()}
	_, hasHostKey := msg.HostKey()
	private := msg.Session() == "private" ||
		msg.TempSession() ||
		hasHostKey ||
		msg.User() != "" ||
		msg.Password() != ""
	if private {
		key.Private = true
		key.Instance = uuid.NewString()
	}
	return key
}

func (b *Broker) open(msg protocol.ControlMessage) {
	channel := msg.Channel()

	b.mu.Lock()
	if existing, ok := b.channels[channel]; ok {
		// Duplicate open for a channel id already in flight. Tolerated
		// only while its session is still thawing (a retransmitted
		// open racing the thaw flush); rejected once the session is
		// fully open, per the spec's documented asymmetry (§9 Open
		// Question: resolved — see DESIGN.md).
		thawing := existing.isConnecting()
		b.mu.Unlock()
		if thawing {
			return
		}
		b.writeControl(protocol.NewClose(channel, string(problem.InternalError), nil))
		return
	}

	key := sessionKeyFor(msg)
	s, ok := b.sessions[key]
	if ok {
		s.addChannel(channel)
		b.channels[channel] = s
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.spawnSession(key, channel, msg)
}

func (b *Broker) spawnSession(key sessionKey, channel protocol.ChannelID, msg protocol.ControlMessage) {
	sctx, cancel := context.WithCancel(b.ctx)
	proc, err := b.spawn(sctx, key, msg)
	if err != nil {
		cancel()
		b.writeControl(protocol.NewClose(channel, string(problem.NoHost), nil))
		return
	}
	if err := proc.Start(sctx); err != nil {
		cancel()
		b.writeControl(protocol.NewClose(channel, string(problem.NoCockpit), nil))
		return
	}

	s := newSession(key, proc, cancel)
	s.addChannel(channel)

	b.mu.Lock()
	b.sessions[key] = s
	b.channels[channel] = s
	b.mu.Unlock()

	go b.pumpFromSubprocess(key, s)
	go b.watchVerdict(s)

	// The session stays frozen until the relay's own "init" echo lands
	// on handleRelayInit; only then is it safe to assume the relay is
	// ready to take framed traffic (§4.H, §5 ordering).
	b.sendControlToSubprocess(s, protocol.NewInit(relayProtocolVersion))
}

// watchVerdict stashes the relay's one-shot auth-FD verdict (§4.B) on
// the session so close synthesis can attach its diagnostics later.
func (b *Broker) watchVerdict(s *session) {
	v, ok := <-s.proc.Verdict()
	if !ok {
		return
	}
	s.setVerdict(v)
}

// pumpFromSubprocess copies every frame the relay subprocess writes to
// its stdout back onto the upstream transport, until it exits;
// control-channel frames are additionally inspected to gate the
// session's own init handshake and to track outstanding authorize
// cookies (§4.H).
func (b *Broker) pumpFromSubprocess(key sessionKey, s *session) {
	scanner := &protocol.Scanner{}
	buf := make([]byte, 64*1024)
	stdout := s.proc.Stdout()
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			scanner.Feed(buf[:n])
			for {
				channel, payload, ok, ferr := scanner.Next()
				if ferr != nil {
					break
				}
				if !ok {
					break
				}
				if channel.IsControl() {
					b.observeSubprocessControl(s, payload)
				}
				if werr := b.out.WriteFrame(channel, payload); werr != nil {
					log.WithError(werr).Debug("broker: failed to forward relay frame upstream")
				}
			}
		}
		if err != nil {
			b.onSessionExit(key, s)
			return
		}
	}
}

func (b *Broker) observeSubprocessControl(s *session, payload []byte) {
	msg, err := protocol.DecodeControlMessage(payload)
	if err != nil {
		return
	}
	switch msg.Command {
	case protocol.CommandInit:
		b.handleRelayInit(s, msg)
	case protocol.CommandAuthorize:
		// A downstream authorize request (relay asking the caller to
		// authenticate something) is forwarded as-is, never frozen on
		// init, but its cookie must be remembered so the eventual
		// upstream reply can be routed back to this session.
		if cookie := msg.Cookie(); cookie != "" {
			s.addCookie(cookie)
			b.mu.Lock()
			b.cookies[cookie] = s
			b.mu.Unlock()
		}
	}
}

// handleRelayInit processes the relay subprocess's own "init" reply
// (§4.H, §6.1): a version other than the one this broker speaks is
// fatal to the session ("not-supported"); otherwise the session thaws
// and any frames queued while it was connecting are flushed in order.
func (b *Broker) handleRelayInit(s *session, msg protocol.ControlMessage) {
	version, ok := msg.Version()
	if !ok || version != relayProtocolVersion {
		log.WithField("version", version).Warn("broker: relay subprocess speaks an unsupported protocol version")
		b.failSession(s, problem.NotSupported)
		return
	}
	if checksum, ok := msg.Checksum(); ok {
		s.setChecksum(checksum)
	}
	for id, frames := range s.thaw() {
		for _, f := range frames {
			b.writeToSubprocess(id, s, f)
		}
	}
}

// failSession synthesizes a close with prob for every channel still
// routed to s, then kills the relay subprocess; used when the session
// must be torn down before the subprocess itself has exited (e.g. a
// version mismatch on its init handshake).
func (b *Broker) failSession(s *session, prob problem.Code) {
	b.mu.Lock()
	delete(b.sessions, s.key)
	var channels []protocol.ChannelID
	for id, owner := range b.channels {
		if owner == s {
			channels = append(channels, id)
			delete(b.channels, id)
		}
	}
	b.mu.Unlock()

	b.discardCookies(s)
	for _, id := range channels {
		b.writeControl(protocol.NewClose(id, string(prob), nil))
	}
	s.cancel()
	s.proc.Kill()
}

func (b *Broker) onSessionExit(key sessionKey, s *session) {
	s.proc.Wait()
	prob := problem.FromExitCode(s.proc.ExitCode())
	extra := verdictExtra(s)

	b.mu.Lock()
	delete(b.sessions, key)
	var channels []protocol.ChannelID
	for id, owner := range b.channels {
		if owner == s {
			channels = append(channels, id)
		}
	}
	for _, id := range channels {
		delete(b.channels, id)
	}
	b.mu.Unlock()

	b.discardCookies(s)
	for _, id := range channels {
		b.writeControl(protocol.NewClose(id, string(prob), extra))
	}
}

// verdictExtra renders the relay's auth-FD verdict (if one ever
// arrived) as the extra fields a synthesized close message attaches
// (§4.H "Close synthesis"): host-key, host-fingerprint, and
// auth-method-results.
func verdictExtra(s *session) map[string]any {
	if !s.hasVerdict() {
		return nil
	}
	v := s.getVerdict()
	extra := make(map[string]any, 3)
	if v.HostKey != "" {
		extra["host-key"] = v.HostKey
	}
	if v.HostFingerprint != "" {
		extra["host-fingerprint"] = v.HostFingerprint
	}
	if len(v.AuthMethodResults) > 0 {
		extra["auth-method-results"] = v.AuthMethodResults
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func (b *Broker) closeChannel(channel protocol.ChannelID, problemCode string) {
	if channel == "" {
		return
	}
	b.mu.Lock()
	s, ok := b.channels[channel]
	if ok {
		delete(b.channels, channel)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	empty := s.removeChannel(channel)
	if !s.isConnecting() {
		b.forwardClose(channel, s, problemCode)
	}
	if !empty {
		return
	}
	if s.key.Private {
		// Private sessions are single-use: once their last channel
		// closes there is nothing left to share, so they retire
		// immediately rather than waiting on the idle timer (§4.H
		// "Close handling").
		b.retire(s)
		return
	}
	s.touch()
}

// forwardClose tells the relay subprocess that owns channel to tear it
// down, by framing a close control message onto its stdin.
func (b *Broker) forwardClose(channel protocol.ChannelID, s *session, problemCode string) {
	b.sendControlToSubprocess(s, protocol.NewClose(channel, problemCode, nil))
}

// sendControlToSubprocess frames msg onto the control channel of s's
// relay subprocess stdin.
func (b *Broker) sendControlToSubprocess(s *session, msg protocol.ControlMessage) {
	payload, err := msg.Encode()
	if err != nil {
		log.WithError(err).Warn("broker: failed to encode control message")
		return
	}
	if _, err := s.proc.Stdin().Write(protocol.Encode(protocol.ChannelID(""), payload)); err != nil {
		log.WithError(err).Debug("broker: failed to write control message to relay subprocess")
	}
}

// discardCookies drops every authorize cookie s had outstanding, e.g.
// because its relay subprocess died before a reply arrived (§4.H
// "Close synthesis": "authorize cookies still outstanding are
// discarded").
func (b *Broker) discardCookies(s *session) {
	cookies := s.cookies()
	if len(cookies) == 0 {
		return
	}
	b.mu.Lock()
	for _, c := range cookies {
		if b.cookies[c] == s {
			delete(b.cookies, c)
		}
	}
	b.mu.Unlock()
}

func (b *Broker) retire(s *session) {
	b.mu.Lock()
	if current, ok := b.sessions[s.key]; !ok || current != s {
		b.mu.Unlock()
		return
	}
	delete(b.sessions, s.key)
	b.mu.Unlock()
	b.discardCookies(s)
	s.cancel()
	s.proc.Kill()
}

func (b *Broker) kill(host string) {
	b.mu.Lock()
	var victims []*session
	for key, s := range b.sessions {
		if host == "" || key.Host == host {
			victims = append(victims, s)
			delete(b.sessions, key)
		}
	}
	for id, s := range b.channels {
		for _, v := range victims {
			if s == v {
				delete(b.channels, id)
			}
		}
	}
	b.mu.Unlock()

	for _, s := range victims {
		b.discardCookies(s)
		s.cancel()
		s.proc.Kill()
	}
}

func (b *Broker) reapIdle() {
	ticker := time.NewTicker(b.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			var idle []*session
			for _, s := range b.sessions {
				if s.channelCount() == 0 && time.Since(s.idleSince()) > b.idleTimeout {
					idle = append(idle, s)
				}
			}
			b.mu.Unlock()
			for _, s := range idle {
				b.retire(s)
			}
		}
	}
}

func (b *Broker) writeControl(msg protocol.ControlMessage) {
	payload, err := msg.Encode()
	if err != nil {
		log.WithError(err).Warn("broker: failed to encode control message")
		return
	}
	if err := b.out.WriteFrame(protocol.ChannelID(""), payload); err != nil {
		log.WithError(err).Debug("broker: failed to write control frame upstream")
	}
}
