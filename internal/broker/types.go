// Package broker implements the in-process session broker: it accepts
// the upstream control/data frame stream, decides which per-host relay
// subprocess a channel belongs to (spawning one if needed, sharing one
// across channels to the same non-private destination), and shuttles
// frames between the upstream stream and whichever subprocess owns
// each channel.
package broker

import (
	"context"
	"io"

	"cockpit-ssh-relay/internal/authfd"
)

// RelaySubprocess is the narrow surface the broker needs from a
// spawned cockpit-ssh-relay child, so tests can substitute an
// in-memory fake instead of spawning a real process (grounded on the
// teacher's sshTunnelListeners/forwards maps of live connection
// handles, generalized to a process handle).
type RelaySubprocess interface {
	Start(ctx context.Context) error
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Wait() error
	Kill() error

	// ExitCode returns the child's process exit status once Wait has
	// returned, for problem.FromExitCode (§6.4).
	ExitCode() int

	// Verdict returns the channel the relay's auth-FD verdict (§4.B) is
	// delivered on exactly once, if it ever reports one before exiting.
	// Implementations close the channel (without a value) if the relay
	// exits without ever reporting a verdict.
	Verdict() <-chan authfd.Verdict
}

// sessionKey identifies one shareable (or private) relay subprocess.
// Value, not pointer, so it is safe as a map key and never aliases
// caller state (§9 design note: "arena + indices").
type sessionKey struct {
	Host    string
	User    string
	Private bool
	// Instance disambiguates private sessions (and temp-sessions) that
	// would otherwise collide on Host+User; empty for shared sessions.
	Instance string
}
