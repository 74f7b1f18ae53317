package relay

import (
	"testing"

	"golang.org/x/crypto/ssh"

	"cockpit-ssh-relay/internal/sshauth"
)

func TestBuildAttemptsPasswordCredential(t *testing.T) {
	opts := Options{Credential: sshauth.Credential{Kind: sshauth.CredPassword, Password: []byte("hunter2")}}
	var invoked []sshauth.Method
	attempts := buildAttempts(opts, func([]ssh.AuthMethod) error { return nil })

	for _, a := range attempts {
		if a.Try != nil {
			invoked = append(invoked, a.Method)
		}
	}
	if len(invoked) != 1 || invoked[0] != sshauth.MethodKeyboardInteractive {
		t.Fatalf("expected only keyboard-interactive to have a Try func, got %v", invoked)
	}
}

func TestBuildAttemptsNoCredentialLeavesAllNotProvided(t *testing.T) {
	attempts := buildAttempts(Options{}, func([]ssh.AuthMethod) error { return nil })
	for _, a := range attempts {
		if a.Method != sshauth.MethodGSSAPIMIC && a.Try != nil {
			t.Fatalf("method %v should have no Try without a credential", a.Method)
		}
	}
}

func TestBuildAttemptsGSSAPIMarkedUnsupportedWithoutClient(t *testing.T) {
	attempts := buildAttempts(Options{}, func([]ssh.AuthMethod) error { return nil })
	for _, a := range attempts {
		if a.Method == sshauth.MethodGSSAPIMIC && !a.KnownUnsupported {
			t.Fatalf("expected gssapi-mic marked unsupported when no GSSAPIClient was supplied")
		}
	}
}

func TestIsHostKeyRejection(t *testing.T) {
	if !isHostKeyRejection(errChain("unknown-hostkey: aa:bb")) {
		t.Error("expected unknown-hostkey message to be classified as a host key rejection")
	}
	if isHostKeyRejection(errChain("authentication-failed")) {
		t.Error("authentication-failed should not be classified as a host key rejection")
	}
}

type errChain string

func (e errChain) Error() string { return string(e) }
