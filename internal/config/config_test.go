package config

import (
	"strings"
	"testing"
)

func TestParseCaseInsensitiveSectionsAndKeys(t *testing.T) {
	f, err := Parse(strings.NewReader(`
[Ssh-Login]
ConnectToUnknownHosts = yes
timeout = 30

[Log]
Fatal = criticals warnings
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.SshLoginConnectToUnknownHosts(false) {
		t.Error("expected connectToUnknownHosts=yes to be true")
	}
	if got := f.Uint("SSH-LOGIN", "TIMEOUT", 0); got != 30 {
		t.Errorf("timeout = %d, want 30", got)
	}
	if got := f.StringList("log", "fatal", " "); len(got) != 2 || got[0] != "criticals" || got[1] != "warnings" {
		t.Errorf("Fatal list = %v", got)
	}
}

func TestParseLastDefinitionWins(t *testing.T) {
	f, err := Parse(strings.NewReader("[Ssh-Login]\ntimeout = 10\ntimeout = 20\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := f.Uint("ssh-login", "timeout", 0); got != 20 {
		t.Errorf("timeout = %d, want 20 (last wins)", got)
	}
}

func TestUintFallsBackOnParseFailure(t *testing.T) {
	f, err := Parse(strings.NewReader("[Ssh-Login]\ntimeout = notanumber\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := f.Uint("ssh-login", "timeout", 42); got != 42 {
		t.Errorf("timeout = %d, want default 42", got)
	}
}

func TestLegacyAllowUnknownFallback(t *testing.T) {
	f, err := Parse(strings.NewReader("[Ssh-Login]\nallowUnknown = true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.SshLoginConnectToUnknownHosts(false) {
		t.Error("expected legacy allowUnknown=true to be honored")
	}
}

func TestCommentsAndBlankLinesIgnored(t *testing.T) {
	f, err := Parse(strings.NewReader("# comment\n\n[Log]\n; another comment\nFatal = criticals\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := f.StringList("log", "fatal", " "); len(got) != 1 || got[0] != "criticals" {
		t.Errorf("Fatal list = %v", got)
	}
}
