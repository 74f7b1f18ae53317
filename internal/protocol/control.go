package protocol

import "encoding/json"

// Recognised control message commands (§6.1).
const (
	CommandInit      = "init"
	CommandOpen      = "open"
	CommandClose     = "close"
	CommandKill      = "kill"
	CommandAuthorize = "authorize"
	CommandPing      = "ping"
)

// ControlMessage is a JSON control message carried on the empty channel.
// Fields holds whatever command-specific keys were present on the wire;
// typed accessors decode the ones each command cares about, so callers
// never need to know every command's full field set.
type ControlMessage struct {
	Command string
	Fields  map[string]any
}

// DecodeControlMessage parses a control message payload.
func DecodeControlMessage(payload []byte) (ControlMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ControlMessage{}, err
	}
	cmd, _ := fields["command"].(string)
	return ControlMessage{Command: cmd, Fields: fields}, nil
}

// Encode renders the control message back to its JSON payload.
func (m ControlMessage) Encode() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	out["command"] = m.Command
	return json.Marshal(out)
}

func (m ControlMessage) str(key string) string {
	s, _ := m.Fields[key].(string)
	return s
}

func (m ControlMessage) boolField(key string) bool {
	b, _ := m.Fields[key].(bool)
	return b
}

// Channel returns the "channel" field, present on open/close/authorize.
func (m ControlMessage) Channel() ChannelID {
	return ChannelID(m.str("channel"))
}

// Host returns the "host" field (open, kill).
func (m ControlMessage) Host() string { return m.str("host") }

// User returns the "user" field (open).
func (m ControlMessage) User() string { return m.str("user") }

// Password returns the "password" field (open).
func (m ControlMessage) Password() string { return m.str("password") }

// HostKey returns the "host-key" field (open).
func (m ControlMessage) HostKey() (string, bool) {
	v, ok := m.Fields["host-key"]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Session returns the "session" field (open); "private" forces isolation.
func (m ControlMessage) Session() string { return m.str("session") }

// TempSession returns the legacy "temp-session" boolean (open).
func (m ControlMessage) TempSession() bool { return m.boolField("temp-session") }

// Cookie returns the "cookie" field (authorize).
func (m ControlMessage) Cookie() string { return m.str("cookie") }

// Version returns the "version" field (init), as sent by both ends.
func (m ControlMessage) Version() (int, bool) {
	v, ok := m.Fields["version"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// Checksum returns the relay's "checksum" field (init), if present.
func (m ControlMessage) Checksum() (string, bool) {
	v, ok := m.Fields["checksum"]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Problem returns the "problem" field (close).
func (m ControlMessage) Problem() string { return m.str("problem") }

// NewInit builds the broker's {"command":"init","version":1} handshake.
func NewInit(version int) ControlMessage {
	return ControlMessage{Command: CommandInit, Fields: map[string]any{"version": version}}
}

// NewClose builds a close message for channel with an optional problem
// and any extra diagnostic fields (host-key, host-fingerprint,
// auth-method-results).
func NewClose(channel ChannelID, prob string, extra map[string]any) ControlMessage {
	fields := map[string]any{"channel": string(channel)}
	for k, v := range extra {
		fields[k] = v
	}
	if prob != "" {
		fields["problem"] = prob
	}
	return ControlMessage{Command: CommandClose, Fields: fields}
}
