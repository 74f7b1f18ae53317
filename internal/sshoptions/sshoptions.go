// Package sshoptions parses the relay process's environment (§6.2)
// into plain option structs, the same bare os.Getenv style the teacher
// uses for its own secrets.env-derived settings in main.go — no
// example repo in the retrieval pack reaches for an env-parsing
// library, so this stays stdlib-only by the same justification as the
// teacher's own code.
package sshoptions

import (
	"os"
	"strings"
)

// AuthOptions controls how the relay authenticates (§6.2, §4.E).
type AuthOptions struct {
	// MessageType selects the Credential shape the auth FD will
	// deliver: "none", "basic", "password", "keyboard-interactive",
	// "private-key", "gssapi-mic", or "bridge".
	MessageType string
	// Askpass, if set, names an external program whose stdout supplies
	// a password when running in "bridge" mode with no cached initial
	// credential.
	Askpass string
}

// SshOptions controls how the relay reaches and verifies the remote
// host (§6.2, §4.D).
type SshOptions struct {
	KnownHostsFile        string
	KnownHostsData        string
	BridgeCommand         string
	ConnectToUnknownHosts bool
	RemotePeer            string
}

const (
	defaultBridgeCommand = "cockpit-bridge"
	defaultRemotePeer    = "localhost"
)

// FromEnviron reads both option structs from the process environment.
func FromEnviron() (AuthOptions, SshOptions) {
	return AuthOptions{
			MessageType: os.Getenv("COCKPIT_AUTH_MESSAGE_TYPE"),
			Askpass:     os.Getenv("SSH_ASKPASS"),
		}, SshOptions{
			KnownHostsFile:        os.Getenv("COCKPIT_SSH_KNOWN_HOSTS_FILE"),
			KnownHostsData:        os.Getenv("COCKPIT_SSH_KNOWN_HOSTS_DATA"),
			BridgeCommand:         orDefault(os.Getenv("COCKPIT_SSH_BRIDGE_COMMAND"), defaultBridgeCommand),
			ConnectToUnknownHosts: boolEnv("COCKPIT_SSH_CONNECT_TO_UNKNOWN_HOSTS") || boolEnv("COCKPIT_SSH_ALLOW_UNKNOWN"),
			RemotePeer:            orDefault(os.Getenv("COCKPIT_REMOTE_PEER"), defaultRemotePeer),
		}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolEnv(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "yes", "true":
		return true
	default:
		return false
	}
}
