// Package hostkey implements host-key verification: fingerprinting,
// comparison against an explicit expectation or a known_hosts file, and
// (optionally) an interactive prompt fallback.
package hostkey

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"cockpit-ssh-relay/internal/knownhosts"
	"cockpit-ssh-relay/internal/problem"
)

// Kind selects how the expected host key is determined.
type Kind int

const (
	// FromKnownHosts consults a known_hosts-formatted file (Path).
	FromKnownHosts Kind = iota
	// ExplicitLine compares against a literal known_hosts line (Line).
	// An empty Line always fails.
	ExplicitLine
	// Ignore accepts any host key unconditionally.
	Ignore
	// PromptUser asks the peer (over the auth FD) to confirm the
	// fingerprint.
	PromptUser
)

// Expectation describes how to verify a server's host key.
type Expectation struct {
	Kind Kind
	Path string // FromKnownHosts
	Line string // ExplicitLine

	// PromptOnUnknown, when Kind is FromKnownHosts and the matcher finds
	// no entry, causes a PromptUser fallback instead of an immediate
	// unknown-hostkey failure.
	PromptOnUnknown bool
}

// Prompter asks the user to confirm a fingerprint and returns their
// answer. Implementations typically round-trip over the auth FD.
type Prompter func(fingerprint string) (string, error)

// Verdict is the outcome of verifying a host key.
type Verdict struct {
	Accepted    bool
	Problem     problem.Code
	Fingerprint string // colon-hex MD5, always computed
	Line        string // best-effort known_hosts-style diagnostic line
}

// Verify checks pub against exp for host:port. prompt is consulted only
// when the dispatch reaches a PromptUser step; it may be nil if
// prompting is never expected to be needed.
func Verify(pub ssh.PublicKey, host string, port int, exp Expectation, prompt Prompter) Verdict {
	fingerprint := Fingerprint(pub)
	line := KnownHostsLine(host, port, pub)

	v := Verdict{Fingerprint: fingerprint, Line: line}

	switch exp.Kind {
	case Ignore:
		v.Accepted = true
		return v

	case ExplicitLine:
		if exp.Line == "" {
			v.Problem = problem.InvalidHostKey
			return v
		}
		if exp.Line == line {
			v.Accepted = true
			return v
		}
		v.Problem = problem.InvalidHostKey
		return v

	case PromptUser:
		return promptFallback(v, prompt, fingerprint)

	case FromKnownHosts:
		found, changed, err := lookup(exp.Path, host, port, line)
		if err != nil {
			v.Problem = problem.InternalError
			return v
		}
		if found {
			v.Accepted = true
			return v
		}
		if changed {
			v.Problem = problem.InvalidHostKey
			return v
		}
		if exp.PromptOnUnknown {
			return promptFallback(v, prompt, fingerprint)
		}
		v.Problem = problem.UnknownHostKey
		return v

	default:
		v.Problem = problem.InternalError
		return v
	}
}

func promptFallback(v Verdict, prompt Prompter, fingerprint string) Verdict {
	if prompt == nil {
		v.Problem = problem.UnknownHostKey
		return v
	}
	answer, err := prompt(fingerprint)
	if err != nil {
		v.Problem = problem.UnknownHostKey
		return v
	}
	if answer == fingerprint {
		v.Accepted = true
		return v
	}
	v.Problem = problem.UnknownHostKey
	return v
}

// lookup reports found whenever host (or "[host]:port") matches any
// entry of the known_hosts file — see knownhosts.Match. The key on file
// is not compared with the server's key (line is unused), so a host
// whose key has changed is reported as found, and changed is always
// false.
func lookup(path, host string, port int, line string) (found bool, changed bool, err error) {
	ok, err := knownhosts.Match(path, host, port)
	if err != nil {
		return false, false, err
	}
	if !ok {
		return false, false, nil
	}
	// knownhosts.Match only reports hostname membership, not which key
	// is on file, so any entry for the host is accepted.
	_ = line
	return true, false, nil
}

// Fingerprint computes the colon-separated lowercase hex MD5 fingerprint
// of pub, e.g. "aa:bb:cc:...".
func Fingerprint(pub ssh.PublicKey) string {
	sum := md5.Sum(pub.Marshal())
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// KnownHostsLine renders a known_hosts-style diagnostic line for pub at
// host:port: "[host]:port <keytype> <base64key>".
func KnownHostsLine(host string, port int, pub ssh.PublicKey) string {
	hostport := fmt.Sprintf("[%s]:%d", host, port)
	return hostport + " " + pub.Type() + " " + base64.StdEncoding.EncodeToString(pub.Marshal())
}
