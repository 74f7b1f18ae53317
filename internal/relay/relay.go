// Package relay implements the per-host SSH relay subprocess: it dials
// one SSH server, authenticates using the configured credential,
// verifies the host key, opens a single SSH "session" channel and execs
// the bridge command on it, and then shuttles the length-prefixed frame
// protocol arriving on its stdin/stdout across that one channel
// byte-for-byte. The relay never interprets the channel ids embedded in
// the frames it forwards — the remote cockpit-bridge demultiplexes
// logical channels itself.
package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"cockpit-ssh-relay/internal/authfd"
	"cockpit-ssh-relay/internal/hostkey"
	"cockpit-ssh-relay/internal/problem"
	"cockpit-ssh-relay/internal/sshauth"
	"cockpit-ssh-relay/internal/target"
)

// Options configures a single relay invocation; see §4.G.
type Options struct {
	Target      target.Spec
	Expectation hostkey.Expectation
	Prompt      hostkey.Prompter
	Credential  sshauth.Credential
	GSSAPI      ssh.GSSAPIClient // nil if not attempted
	AgentDialer sshauth.AgentDialer
	DialTimeout time.Duration

	// BridgeCommand is the remote command exec'd on the session channel
	// once it opens (§4.G step 5, COCKPIT_SSH_BRIDGE_COMMAND). Defaults
	// to "cockpit-bridge" if empty.
	BridgeCommand string

	// Stdio is the framed stream to/from the broker. In production
	// this is os.Stdin/os.Stdout; tests substitute pipes.
	In  io.Reader
	Out io.Writer

	Auth *authfd.Conversation // nil if no auth-fd diagnostics are wanted
}

// defaultBridgeCommand is the remote command run when Options.BridgeCommand
// is unset (§6.2 COCKPIT_SSH_BRIDGE_COMMAND default).
const defaultBridgeCommand = "cockpit-bridge"

// Run dials, authenticates, and pumps frames until ctx is cancelled or
// the connection is lost, returning the process exit code (§3's
// ExitCode mapping).
func Run(ctx context.Context, opts Options) int {
	logger := log.WithField("host", opts.Target.Host)

	conn, err := dialTCP(ctx, opts)
	if err != nil {
		logger.WithError(err).Error("failed to connect")
		reportVerdict(opts, authfd.Verdict{Error: string(problem.NoHost)})
		return int(problem.ExitDisconnected)
	}

	var fingerprint, hostKeyLine string
	hostKeyCallback := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		v := hostkey.Verify(key, opts.Target.Host, opts.Target.Port, opts.Expectation, opts.Prompt)
		fingerprint = v.Fingerprint
		hostKeyLine = v.Line
		if !v.Accepted {
			return fmt.Errorf("%s: %s", v.Problem, v.Fingerprint)
		}
		return nil
	}

	client, outcome, err := authenticate(conn, opts, hostKeyCallback)
	if err != nil {
		logger.WithError(err).Warn("authentication did not complete")
		verdict := authfd.Verdict{
			AuthMethodResults: outcome.ResultStrings(),
			HostKey:           hostKeyLine,
			HostFingerprint:   fingerprint,
		}
		switch {
		case outcome.Terminated:
			verdict.Error = string(problem.Terminated)
			reportVerdict(opts, verdict)
			return int(problem.ExitTerminated)
		case isHostKeyRejection(err):
			verdict.Error = string(problem.UnknownHostKey)
			reportVerdict(opts, verdict)
			return int(problem.ExitDisconnected)
		case outcome.InternalErr:
			verdict.Error = string(problem.InternalError)
			reportVerdict(opts, verdict)
			return int(problem.ExitInternalError)
		default:
			verdict.Error = string(problem.AuthenticationFailed)
			reportVerdict(opts, verdict)
			return int(problem.ExitAuthenticationFailed)
		}
	}
	defer client.Close()

	reportVerdict(opts, authfd.Verdict{
		AuthMethodResults: outcome.ResultStrings(),
		HostKey:           hostKeyLine,
		HostFingerprint:   fingerprint,
	})

	bridgeCommand := opts.BridgeCommand
	if bridgeCommand == "" {
		bridgeCommand = defaultBridgeCommand
	}
	c := newConduit(client, opts.In, opts.Out, bridgeCommand)
	exitErr := c.Run(ctx)
	if exitErr == nil {
		return int(problem.ExitOK)
	}
	if perr, ok := exitErr.(problemError); ok {
		return exitCodeForProblem(perr.code)
	}
	if ctx.Err() != nil {
		return int(problem.ExitTerminated)
	}
	logger.WithError(exitErr).Warn("relay loop ended")
	return int(problem.ExitDisconnected)
}

// exitCodeForProblem inverts problem.FromExitCode for the subset of
// problems the channel I/O loop (§4.F) can itself determine from the
// bridge's own exit status/signal.
func exitCodeForProblem(code problem.Code) int {
	switch code {
	case problem.NoCockpit:
		return int(problem.ExitNoCockpit)
	case problem.Terminated:
		return int(problem.ExitTerminated)
	case problem.None:
		return int(problem.ExitOK)
	default:
		return int(problem.ExitInternalError)
	}
}

func reportVerdict(opts Options, v authfd.Verdict) {
	if opts.Auth == nil {
		return
	}
	if err := opts.Auth.SendVerdict(v); err != nil {
		log.WithError(err).Warn("failed to report auth verdict")
	}
}

func isHostKeyRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, string(problem.UnknownHostKey)) || strings.Contains(msg, string(problem.InvalidHostKey))
}

func dialTCP(ctx context.Context, opts Options) (net.Conn, error) {
	addr := net.JoinHostPort(opts.Target.Host, fmt.Sprintf("%d", opts.Target.Port))
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}
