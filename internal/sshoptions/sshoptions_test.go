package sshoptions

import "testing"

func TestFromEnvironDefaults(t *testing.T) {
	t.Setenv("COCKPIT_SSH_BRIDGE_COMMAND", "")
	t.Setenv("COCKPIT_REMOTE_PEER", "")
	t.Setenv("COCKPIT_SSH_CONNECT_TO_UNKNOWN_HOSTS", "")
	t.Setenv("COCKPIT_SSH_ALLOW_UNKNOWN", "")

	_, ssh := FromEnviron()
	if ssh.BridgeCommand != defaultBridgeCommand {
		t.Errorf("BridgeCommand = %q, want default", ssh.BridgeCommand)
	}
	if ssh.RemotePeer != defaultRemotePeer {
		t.Errorf("RemotePeer = %q, want default", ssh.RemotePeer)
	}
	if ssh.ConnectToUnknownHosts {
		t.Error("ConnectToUnknownHosts should default false")
	}
}

func TestFromEnvironLegacyAllowUnknownAlias(t *testing.T) {
	t.Setenv("COCKPIT_SSH_CONNECT_TO_UNKNOWN_HOSTS", "")
	t.Setenv("COCKPIT_SSH_ALLOW_UNKNOWN", "yes")

	_, ssh := FromEnviron()
	if !ssh.ConnectToUnknownHosts {
		t.Error("expected legacy COCKPIT_SSH_ALLOW_UNKNOWN=yes to enable connect-to-unknown-hosts")
	}
}

func TestFromEnvironAuthMessageType(t *testing.T) {
	t.Setenv("COCKPIT_AUTH_MESSAGE_TYPE", "gssapi-mic")
	auth, _ := FromEnviron()
	if auth.MessageType != "gssapi-mic" {
		t.Errorf("MessageType = %q, want gssapi-mic", auth.MessageType)
	}
}
