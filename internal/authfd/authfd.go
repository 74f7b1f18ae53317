// Package authfd implements the JSON prompt/response conversation that
// the relay holds with its parent over a dedicated (conceptually
// SOCK_SEQPACKET) file descriptor: one JSON object per datagram, no
// length framing, terminated by a single final verdict object.
package authfd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
)

// DefaultFD is the auth FD number. cmd/cockpit-ssh-relay always uses
// it; no environment variable or config key overrides it.
const DefaultFD = 3

// Prompt is sent by the relay to ask the peer for input.
type Prompt struct {
	Prompt  string `json:"prompt,omitempty"`
	Message string `json:"message,omitempty"`
	Default string `json:"default,omitempty"`
	Echo    bool   `json:"echo"`
}

// Verdict is the final, single object the relay writes to report its
// authentication outcome.
type Verdict struct {
	User              string            `json:"user,omitempty"`
	Error             string            `json:"error,omitempty"`
	HostKey           string            `json:"host-key,omitempty"`
	HostFingerprint   string            `json:"host-fingerprint,omitempty"`
	AuthMethodResults map[string]string `json:"auth-method-results,omitempty"`
}

// Conn is the narrow transport the conversation needs: one Write per
// message, one Read per datagram. A real SOCK_SEQPACKET socket
// (obtained via os.NewFile + net.FileConn) satisfies this; so does
// net.Pipe() in tests, as long as reads and writes are paired 1:1.
type Conn interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
}

// maxDatagram bounds a single read; auth-FD messages are small JSON
// objects, never large payloads.
const maxDatagram = 64 * 1024

// Conversation drives the relay side of the prompt/response protocol.
type Conversation struct {
	conn Conn
}

// New wraps conn in a Conversation.
func New(conn Conn) *Conversation {
	return &Conversation{conn: conn}
}

// Ask sends p and returns the peer's trimmed reply. Replies are trimmed
// of trailing NUL bytes only (the datagram boundary is the message
// boundary; no other framing is applied).
func (c *Conversation) Ask(p Prompt) (string, error) {
	encoded, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	if _, err := c.conn.Write(encoded); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("read prompt reply: %w", err)
	}
	return string(bytes.TrimRight(buf[:n], "\x00")), nil
}

// ReadInitial reads the peer's initial auth bytes (e.g. an initial
// password) sent before any prompt round-trip, used when the relay's
// auth type is not "none".
func (c *Conversation) ReadInitial() ([]byte, error) {
	buf := make([]byte, maxDatagram)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read initial auth bytes: %w", err)
	}
	return bytes.TrimRight(buf[:n], "\x00"), nil
}

// SendVerdict writes the final, single verdict object. It must be
// called at most once per conversation.
func (c *Conversation) SendVerdict(v Verdict) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	if _, err := c.conn.Write(encoded); err != nil {
		return fmt.Errorf("write verdict: %w", err)
	}
	return nil
}

// FromFD wraps a raw file descriptor number as a Conn. On Linux this is
// expected to be a SOCK_SEQPACKET socket inherited from the parent
// broker process; datagram boundaries are preserved by the kernel.
func FromFD(fd int) (net.Conn, error) {
	return net.FileConn(fdFile(fd))
}
