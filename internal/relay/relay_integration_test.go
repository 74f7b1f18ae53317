package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"

	"golang.org/x/crypto/ssh"

	"cockpit-ssh-relay/internal/hostkey"
	"cockpit-ssh-relay/internal/sshauth"
	"cockpit-ssh-relay/internal/target"
)

// serveEchoSSH runs a minimal in-process SSH server on one end of a
// net.Pipe, accepting "bob"/"hunter2" and echoing every byte written to
// any "session" channel it is asked to open. It returns once the
// connection is closed.
func serveEchoSSH(t *testing.T, conn net.Conn) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("ssh.NewSignerFromKey: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if c.User() == "bob" && string(password) == "hunter2" {
				return nil, nil
			}
			return nil, &ssh.PermissionError{}
		},
	}
	config.AddHostKey(signer)

	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		ch, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go ssh.DiscardRequests(requests)
		go func() {
			defer ch.Close()
			buf := make([]byte, 4096)
			for {
				n, err := ch.Read(buf)
				if n > 0 {
					ch.Write(buf[:n])
				}
				if err != nil {
					return
				}
			}
		}()
	}
}

// This drives authenticate()+a real *ssh.Client directly against an
// in-memory pipe; the full Run() entrypoint additionally owns a real
// TCP dial, which no test in this package exercises.
func TestAuthenticateAndEchoOverSSHChannel(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveEchoSSH(t, serverConn)

	opts := Options{
		Target:      target.Spec{User: "bob", Host: "testhost", Port: 22},
		Expectation: hostkey.Expectation{Kind: hostkey.Ignore},
		Credential:  sshauth.Credential{Kind: sshauth.CredPassword, Password: []byte("hunter2")},
	}

	hostKeyCallback := func(hostname string, remote net.Addr, key ssh.PublicKey) error { return nil }
	client, outcome, err := authenticate(clientConn, opts, hostKeyCallback)
	if err != nil {
		t.Fatalf("authenticate: %v (outcome=%+v)", err, outcome)
	}
	defer client.Close()
	if outcome.Succeeded != sshauth.MethodKeyboardInteractive {
		t.Fatalf("expected keyboard-interactive (password) to succeed, got %+v", outcome)
	}

	sshChannel, requests, err := client.OpenChannel("session", nil)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	go ssh.DiscardRequests(requests)

	if _, err := sshChannel.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := sshChannel.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("echoed %q, want %q", buf, "ping")
	}
}

func TestAuthenticateWrongPasswordIsDenied(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	go serveEchoSSH(t, serverConn)

	opts := Options{
		Target:      target.Spec{User: "bob", Host: "testhost", Port: 22},
		Expectation: hostkey.Expectation{Kind: hostkey.Ignore},
		Credential:  sshauth.Credential{Kind: sshauth.CredPassword, Password: []byte("wrong")},
	}
	hostKeyCallback := func(hostname string, remote net.Addr, key ssh.PublicKey) error { return nil }
	_, outcome, err := authenticate(clientConn, opts, hostKeyCallback)
	if err == nil {
		t.Fatal("expected authentication to fail with the wrong password")
	}
	if outcome.Results[sshauth.MethodKeyboardInteractive] != sshauth.ResultDenied {
		t.Fatalf("expected keyboard-interactive denied, got %+v", outcome.Results)
	}
}
