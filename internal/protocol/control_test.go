package protocol

import "testing"

func TestControlMessageRoundTrip(t *testing.T) {
	msg := ControlMessage{
		Command: CommandOpen,
		Fields: map[string]any{
			"channel": "4",
			"host":    "localhost",
			"user":    "admin",
		},
	}
	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := DecodeControlMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeControlMessage() error = %v", err)
	}
	if decoded.Command != CommandOpen {
		t.Errorf("Command = %q, want %q", decoded.Command, CommandOpen)
	}
	if decoded.Channel() != "4" {
		t.Errorf("Channel() = %q, want \"4\"", decoded.Channel())
	}
	if decoded.Host() != "localhost" {
		t.Errorf("Host() = %q, want \"localhost\"", decoded.Host())
	}
}

func TestNewCloseIncludesDiagnostics(t *testing.T) {
	msg := NewClose("5", "no-host", map[string]any{
		"auth-method-results": map[string]string{},
	})
	if msg.Channel() != "5" {
		t.Errorf("Channel() = %q, want \"5\"", msg.Channel())
	}
	if msg.Problem() != "no-host" {
		t.Errorf("Problem() = %q, want \"no-host\"", msg.Problem())
	}
	if _, ok := msg.Fields["auth-method-results"]; !ok {
		t.Errorf("Fields = %v, want an \"auth-method-results\" entry", msg.Fields)
	}
}

func TestVersionDecoding(t *testing.T) {
	encoded, _ := NewInit(1).Encode()
	decoded, err := DecodeControlMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeControlMessage() error = %v", err)
	}
	version, ok := decoded.Version()
	if !ok || version != 1 {
		t.Errorf("Version() = (%d, %v), want (1, true)", version, ok)
	}
}
