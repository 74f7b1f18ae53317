package sshauth

import (
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ParseBasicCredential splits a "user:password" blob (as delivered over
// the auth FD for HTTP-basic-shaped logins, §4.B) on the first colon.
// A missing colon yields the whole string as the user and a nil
// password.
func ParseBasicCredential(s string) (user string, password []byte) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], []byte(s[i+1:])
	}
	return s, nil
}

// PublicKeyMethod builds the publickey AuthMethod. For a CredAgentProxy
// credential it dials the ssh-agent through agentConn (which must then
// be non-nil); for a CredPrivateKeyPem credential it parses the PEM
// key directly. Any other credential kind is an error.
func PublicKeyMethod(cred Credential, agentConn AgentDialer) (ssh.AuthMethod, error) {
	switch cred.Kind {
	case CredAgentProxy:
		if agentConn == nil {
			return nil, fmt.Errorf("sshauth: agent proxy credential but no agent connection available")
		}
		conn, err := agentConn.Dial()
		if err != nil {
			return nil, fmt.Errorf("sshauth: dial ssh-agent: %w", err)
		}
		return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
	case CredPrivateKeyPem:
		signer, err := ssh.ParsePrivateKey(cred.PrivateKeyPem)
		if err != nil {
			return nil, fmt.Errorf("sshauth: parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("sshauth: no public-key credential available")
	}
}

// AgentDialer abstracts dialing the local ssh-agent socket, letting
// tests substitute an in-memory agent.Agent without a real UNIX socket.
type AgentDialer interface {
	Dial() (AgentConn, error)
}

// AgentConn is the narrow net.Conn surface agent.NewClient needs.
type AgentConn = interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// SystemAgentDialer dials the running ssh-agent named by SSH_AUTH_SOCK.
// PublicKeyMethod dials it only for a CredAgentProxy credential; with
// any other credential the agent is not consulted.
type SystemAgentDialer struct{}

func (SystemAgentDialer) Dial() (AgentConn, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("sshauth: SSH_AUTH_SOCK not set")
	}
	return net.Dial("unix", sock)
}

// PasswordMethod builds a plain password AuthMethod from a
// CredPassword credential.
func PasswordMethod(cred Credential) (ssh.AuthMethod, error) {
	if cred.Kind != CredPassword {
		return nil, fmt.Errorf("sshauth: no password credential available")
	}
	return ssh.Password(string(cred.Password)), nil
}

// KeyboardInteractiveMethod builds a keyboard-interactive AuthMethod
// that answers the first prompt with the password credential the relay
// was handed (if it is a CredPassword), and asks the supplied Prompter
// (the authfd.Conversation, typically) for every later prompt; with no
// Prompter those later answers are empty.
func KeyboardInteractiveMethod(cred Credential, prompter Prompter) ssh.AuthMethod {
	return ssh.KeyboardInteractiveChallenge(ChallengeFunc(cred, prompter))
}

// ChallengeFunc builds the raw ssh.KeyboardInteractiveChallenge closure
// separately from the AuthMethod wrapper, so callers that need to
// combine it with a sibling ssh.Password method in one attempt (as
// internal/relay does) can do so, and so it can be unit tested directly
// (ssh.AuthMethod's interface methods are unexported).
func ChallengeFunc(cred Credential, prompter Prompter) ssh.KeyboardInteractiveChallenge {
	used := false
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			if cred.Kind == CredPassword && !used {
				answers[i] = string(cred.Password)
				used = true
				continue
			}
			if prompter == nil {
				answers[i] = ""
				continue
			}
			answer, err := prompter.Prompt(questions[i], echos[i])
			if err != nil {
				return nil, err
			}
			answers[i] = answer
		}
		return answers, nil
	}
}

// Prompter asks an out-of-band party (the auth FD conversation) for an
// answer to a single keyboard-interactive question.
type Prompter interface {
	Prompt(question string, echo bool) (string, error)
}

// GSSAPIMethod builds the gssapi-mic AuthMethod around an injected
// ssh.GSSAPIClient implementation. The relay never implements GSSAPI
// itself; it is handed a working client (e.g. backed by a system
// Kerberos library via cgo, wired in by the embedder) or this method
// is simply not attempted.
func GSSAPIMethod(client ssh.GSSAPIClient, target string) ssh.AuthMethod {
	return ssh.GSSAPIWithMICAuthMethod(client, target)
}
