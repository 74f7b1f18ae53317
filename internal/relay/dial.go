package relay

import (
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"cockpit-ssh-relay/internal/authfd"
	"cockpit-ssh-relay/internal/sshauth"
)

// authenticate drives the sshauth state machine to completion, dialing
// a fresh TCP connection for each isolated method attempt (a failed
// SSH auth handshake tears down the transport, so per-method results
// cannot be observed by reusing one socket across attempts — see
// DESIGN.md). The first successful attempt's *ssh.Client is returned;
// its connection is the one left open.
func authenticate(firstConn net.Conn, opts Options, hostKeyCallback ssh.HostKeyCallback) (*ssh.Client, sshauth.Outcome, error) {
	addr := net.JoinHostPort(opts.Target.Host, strconv.Itoa(opts.Target.Port))
	user := opts.Target.User

	conn := firstConn
	var winner *ssh.Client

	attemptMethods := func(methods []ssh.AuthMethod) error {
		c := conn
		var err error
		if c == nil {
			c, err = net.Dial("tcp", addr)
			if err != nil {
				return err
			}
		}
		config := &ssh.ClientConfig{
			User:            user,
			Auth:            methods,
			HostKeyCallback: hostKeyCallback,
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(c, addr, config)
		conn = nil // consumed either way; redial next time if needed
		if err != nil {
			return err
		}
		winner = ssh.NewClient(sshConn, chans, reqs)
		return nil
	}

	attempts := buildAttempts(opts, attemptMethods)

	outcome := sshauth.Run(attempts)
	if !outcome.HaveWinner {
		return nil, outcome, outcome.Err
	}
	return winner, outcome, nil
}

// buildAttempts turns the credentials in Options into the ordered
// sshauth.Attempt list (§4.E): publickey, then keyboard-interactive-or-
// password (offering both the real "password" method and a
// keyboard-interactive challenge seeded with the same credential, since
// servers vary in which of the two they actually advertise), then
// gssapi-mic.
func buildAttempts(opts Options, try func([]ssh.AuthMethod) error) []sshauth.Attempt {
	var attempts []sshauth.Attempt

	if opts.Credential.Kind == sshauth.CredPrivateKeyPem || opts.Credential.Kind == sshauth.CredAgentProxy {
		cred := opts.Credential
		attempts = append(attempts, sshauth.Attempt{
			Method: sshauth.MethodPublicKey,
			Try: func() error {
				method, err := sshauth.PublicKeyMethod(cred, opts.AgentDialer)
				if err != nil {
					return err
				}
				return try([]ssh.AuthMethod{method})
			},
		})
	} else {
		attempts = append(attempts, sshauth.Attempt{Method: sshauth.MethodPublicKey})
	}

	if opts.Credential.Kind == sshauth.CredPassword || opts.Credential.Kind == sshauth.CredBridge {
		cred := opts.Credential
		var prompter sshauth.Prompter
		if opts.Auth != nil {
			prompter = authConversationPrompter{opts.Auth}
		}
		attempts = append(attempts, sshauth.Attempt{
			Method: sshauth.MethodKeyboardInteractive,
			Try: func() error {
				methods := []ssh.AuthMethod{ssh.KeyboardInteractiveChallenge(sshauth.ChallengeFunc(cred, prompter))}
				if cred.Kind == sshauth.CredPassword {
					methods = append([]ssh.AuthMethod{ssh.Password(string(cred.Password))}, methods...)
				}
				return try(methods)
			},
		})
	} else {
		attempts = append(attempts, sshauth.Attempt{Method: sshauth.MethodKeyboardInteractive})
	}

	if opts.Credential.Kind == sshauth.CredGSSAPIToken && opts.GSSAPI != nil {
		client := opts.GSSAPI
		target := opts.Target.Host
		attempts = append(attempts, sshauth.Attempt{
			Method: sshauth.MethodGSSAPIMIC,
			Try: func() error {
				return try([]ssh.AuthMethod{sshauth.GSSAPIMethod(client, target)})
			},
		})
	} else {
		attempts = append(attempts, sshauth.Attempt{Method: sshauth.MethodGSSAPIMIC, KnownUnsupported: opts.GSSAPI == nil})
	}

	return attempts
}

// authConversationPrompter adapts an authfd.Conversation to
// sshauth.Prompter, forwarding each keyboard-interactive question to
// the broker over the auth FD.
type authConversationPrompter struct {
	auth *authfd.Conversation
}

func (p authConversationPrompter) Prompt(question string, echo bool) (string, error) {
	return p.auth.Ask(authfd.Prompt{Prompt: question, Echo: echo})
}
