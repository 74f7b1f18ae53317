// Command cockpit-ssh-relay is the per-host SSH relay subprocess: it
// dials one host, authenticates, verifies the host key, and then
// shuttles the broker's framed stream across the single SSH session
// channel it opens on that one connection.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"cockpit-ssh-relay/internal/authfd"
	"cockpit-ssh-relay/internal/hostkey"
	"cockpit-ssh-relay/internal/relay"
	"cockpit-ssh-relay/internal/sshauth"
	"cockpit-ssh-relay/internal/sshoptions"
	"cockpit-ssh-relay/internal/target"
)

func main() {
	// --log=info
	logPtr := flag.String("log", "info", "Log level: debug, info, warn, or error.")
	flag.Parse()

	log.SetOutput(os.Stderr)
	logLevel, err := log.ParseLevel(*logPtr)
	if err != nil {
		log.Fatalf("invalid -log level: %s", err)
	}
	log.SetLevel(logLevel)

	args := flag.Args()
	if len(args) != 1 {
		log.Fatalln("usage: cockpit-ssh-relay [user@]host[:port]")
	}
	spec := target.Parse(args[0])

	authOpts, sshOpts := sshoptions.FromEnviron()

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("received termination signal, shutting down relay")
		cancelBackground()
	}()

	authConn, err := authfd.FromFD(authfd.DefaultFD)
	var auth *authfd.Conversation
	if err != nil {
		log.WithError(err).Warn("no auth FD available; proceeding without auth diagnostics")
	} else {
		auth = authfd.New(authConn)
	}

	cred := credentialFromAuthOptions(authOpts)
	if auth != nil && cred.Kind != sshauth.CredNone {
		initial, err := auth.ReadInitial()
		if err != nil {
			log.WithError(err).Warn("failed to read initial auth material from auth fd")
		} else {
			switch cred.Kind {
			case sshauth.CredPrivateKeyPem, sshauth.CredAgentProxy:
				cred.PrivateKeyPem = initial
			case sshauth.CredGSSAPIToken:
				cred.GSSAPIToken = initial
			default:
				cred.Password = initial
			}
		}
	}

	exp := hostkey.Expectation{
		Kind: hostkey.FromKnownHosts,
		Path: sshOpts.KnownHostsFile,
	}
	if sshOpts.KnownHostsData != "" {
		exp = hostkey.Expectation{Kind: hostkey.ExplicitLine, Line: sshOpts.KnownHostsData}
	}
	if sshOpts.ConnectToUnknownHosts {
		exp.PromptOnUnknown = true
	}

	var prompt hostkey.Prompter
	if auth != nil {
		prompt = func(fingerprint string) (string, error) {
			return auth.Ask(authfd.Prompt{
				Message: "Do you want to accept this host key?",
				Prompt:  fingerprint,
				Echo:    true,
			})
		}
	}

	code := relay.Run(ctx, relay.Options{
		Target:        spec,
		Expectation:   exp,
		Prompt:        prompt,
		Credential:    cred,
		GSSAPI:        nil, // no GSSAPI mechanism wired for this relay build
		AgentDialer:   sshauth.SystemAgentDialer{},
		BridgeCommand: sshOpts.BridgeCommand,
		In:            os.Stdin,
		Out:           os.Stdout,
		Auth:          auth,
	})
	os.Exit(code)
}

// credentialFromAuthOptions maps COCKPIT_AUTH_MESSAGE_TYPE to the
// Credential shape the relay should expect to receive over the auth
// FD. The actual credential bytes (password, private key, etc.) are
// filled in by main from the auth FD's initial message; this only
// fixes which union member is in play.
func credentialFromAuthOptions(opts sshoptions.AuthOptions) sshauth.Credential {
	switch opts.MessageType {
	case "private-key":
		return sshauth.Credential{Kind: sshauth.CredPrivateKeyPem}
	case "gssapi-mic":
		return sshauth.Credential{Kind: sshauth.CredGSSAPIToken}
	case "bridge":
		return sshauth.Credential{Kind: sshauth.CredBridge}
	case "none":
		return sshauth.Credential{Kind: sshauth.CredNone}
	default:
		return sshauth.Credential{Kind: sshauth.CredPassword}
	}
}
