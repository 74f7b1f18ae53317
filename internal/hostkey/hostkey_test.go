package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"testing"

	"golang.org/x/crypto/ssh"

	"cockpit-ssh-relay/internal/problem"
)

func testKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("ssh.NewPublicKey: %v", err)
	}
	return sshPub
}

func TestVerifyIgnoreAcceptsUnconditionally(t *testing.T) {
	v := Verify(testKey(t), "host", 22, Expectation{Kind: Ignore}, nil)
	if !v.Accepted {
		t.Fatalf("Ignore expectation did not accept")
	}
}

func TestVerifyExplicitLineMatch(t *testing.T) {
	key := testKey(t)
	line := KnownHostsLine("host", 22, key)
	v := Verify(key, "host", 22, Expectation{Kind: ExplicitLine, Line: line}, nil)
	if !v.Accepted {
		t.Fatalf("expected ExplicitLine match to be accepted")
	}
}

func TestVerifyExplicitLineEmptyAlwaysFails(t *testing.T) {
	key := testKey(t)
	v := Verify(key, "host", 22, Expectation{Kind: ExplicitLine, Line: ""}, nil)
	if v.Accepted || v.Problem != problem.InvalidHostKey {
		t.Fatalf("empty expected line should be invalid-hostkey, got %+v", v)
	}
}

func TestVerifyExplicitLineMismatch(t *testing.T) {
	key := testKey(t)
	other := testKey(t)
	line := KnownHostsLine("host", 22, other)
	v := Verify(key, "host", 22, Expectation{Kind: ExplicitLine, Line: line}, nil)
	if v.Accepted || v.Problem != problem.InvalidHostKey {
		t.Fatalf("mismatched key should be invalid-hostkey, got %+v", v)
	}
}

func TestVerifyFromKnownHostsUnknownFailsWithoutPrompt(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "known_hosts")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()
	key := testKey(t)
	v := Verify(key, "host", 22, Expectation{Kind: FromKnownHosts, Path: f.Name()}, nil)
	if v.Accepted || v.Problem != problem.UnknownHostKey {
		t.Fatalf("expected unknown-hostkey, got %+v", v)
	}
	if len(v.Fingerprint) == 0 {
		t.Fatalf("expected a fingerprint to be computed regardless of outcome")
	}
}

func TestVerifyFromKnownHostsFound(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/known_hosts"
	key := testKey(t)
	if err := os.WriteFile(path, []byte(KnownHostsLine("host", 22, key)+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	v := Verify(key, "host", 22, Expectation{Kind: FromKnownHosts, Path: path}, nil)
	if !v.Accepted {
		t.Fatalf("expected known host to be accepted, got %+v", v)
	}
}

func TestVerifyPromptAcceptsMatchingFingerprint(t *testing.T) {
	key := testKey(t)
	prompt := func(fingerprint string) (string, error) { return fingerprint, nil }
	v := Verify(key, "host", 22, Expectation{Kind: PromptUser}, prompt)
	if !v.Accepted {
		t.Fatalf("expected prompt acceptance, got %+v", v)
	}
}

func TestVerifyPromptRejectsWrongAnswer(t *testing.T) {
	key := testKey(t)
	prompt := func(fingerprint string) (string, error) { return "wrong", nil }
	v := Verify(key, "host", 22, Expectation{Kind: PromptUser}, prompt)
	if v.Accepted || v.Problem != problem.UnknownHostKey {
		t.Fatalf("expected rejection on wrong fingerprint, got %+v", v)
	}
}

func TestFingerprintFormat(t *testing.T) {
	fp := Fingerprint(testKey(t))
	// 16 bytes of MD5 => 16 colon-separated hex pairs => 47 chars.
	if len(fp) != 47 {
		t.Errorf("fingerprint %q has length %d, want 47", fp, len(fp))
	}
}
