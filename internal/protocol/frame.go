// Package protocol implements the wire format shared by the relay
// subprocess and the session broker: length-prefixed channel frames and
// the JSON control messages sent over the empty channel id.
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// ChannelID is an opaque, process-wide unique identifier for a
// multiplexed byte stream. The empty ChannelID addresses control
// messages rather than a channel.
type ChannelID string

// IsControl reports whether id addresses the control channel.
func (id ChannelID) IsControl() bool {
	return id == ""
}

// maxFrameLength bounds the decimal length prefix so that a corrupt or
// hostile prefix (e.g. one that would overflow a 32-bit length if parsed
// naively) is rejected outright rather than accepted as an enormous
// allocation request.
const maxFrameLength = 256 * 1024 * 1024

// ErrCorrupt is returned by Scanner when the transport cannot be framed
// at all (a non-decimal length prefix). This is always fatal to the
// transport.
var ErrCorrupt = fmt.Errorf("internal-error: corrupt frame transport")

// Scanner incrementally decodes frames from a growing byte buffer. Feed
// appends newly-read bytes; Next extracts the next complete frame, if
// any is buffered.
type Scanner struct {
	buf []byte
}

// Feed appends newly read bytes to the scanner's buffer.
func (s *Scanner) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Next extracts the next complete (channel, payload) frame from the
// buffered bytes. ok is false when more bytes are needed; err is
// non-nil (and wraps ErrCorrupt) when the transport is corrupt.
func (s *Scanner) Next() (channel ChannelID, payload []byte, ok bool, err error) {
	nl := bytes.IndexByte(s.buf, '\n')
	if nl < 0 {
		// No length prefix terminator yet buffered.
		if len(s.buf) > 20 {
			// A valid decimal length never needs more than ~20 digits.
			return "", nil, false, ErrCorrupt
		}
		return "", nil, false, nil
	}

	length, parseErr := ParseDecimalLength(s.buf[:nl])
	if parseErr != nil {
		return "", nil, false, fmt.Errorf("%w: %v", ErrCorrupt, parseErr)
	}

	prefixLen := nl + 1
	if uint64(len(s.buf)-prefixLen) < length {
		// Not enough data buffered yet.
		return "", nil, false, nil
	}

	rest := s.buf[prefixLen : prefixLen+int(length)]
	chNl := bytes.IndexByte(rest, '\n')
	if chNl < 0 {
		return "", nil, false, fmt.Errorf("%w: frame missing channel separator", ErrCorrupt)
	}

	channel = ChannelID(rest[:chNl])
	payload = append([]byte(nil), rest[chNl+1:]...)

	s.buf = s.buf[prefixLen+int(length):]
	return channel, payload, true, nil
}

// ParseDecimalLength parses an ASCII decimal length prefix, rejecting
// anything that is not decimal, does not fit in 32 bits, or exceeds
// maxFrameLength. "3735928559" (0xDEADBEEF) fits in a uint32 but is
// rejected by the maxFrameLength bound.
func ParseDecimalLength(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty length prefix")
	}
	n, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid length prefix %q: %w", b, err)
	}
	if n > maxFrameLength {
		return 0, fmt.Errorf("frame length %d exceeds maximum %d", n, maxFrameLength)
	}
	return n, nil
}

// Encode renders a single frame: the decimal length of channel+'\n'+payload,
// a newline, the channel id, a newline, then the payload.
func Encode(channel ChannelID, payload []byte) []byte {
	rest := make([]byte, 0, len(channel)+1+len(payload))
	rest = append(rest, channel...)
	rest = append(rest, '\n')
	rest = append(rest, payload...)

	out := make([]byte, 0, 20+1+len(rest))
	out = strconv.AppendInt(out, int64(len(rest)), 10)
	out = append(out, '\n')
	out = append(out, rest...)
	return out
}
