// Package target parses the "[user@]host[:port]" destination specifier
// (§3, §8) that the broker hands to each relay subprocess on argv. The
// tie-break rules mirror the teacher's own hand-rolled, warning-logged
// string splitting for its subdomain/host-header parsing: scan from the
// rightmost delimiter, fall back to a default on anything that doesn't
// look right, and log a warning rather than failing outright.
package target

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultPort is used when the specifier carries no explicit port.
const DefaultPort = 22

// Spec is a parsed "[user@]host[:port]" destination.
type Spec struct {
	User string
	Host string
	Port int
}

// Parse splits spec into Spec per §3's tie-break rules:
//
//   - the rightmost '@' splits user from host; an empty user (a leading
//     '@' with nothing before it) is ignored with a warning;
//   - the rightmost ':' whose tail is a decimal integer in (0, 65535] is
//     treated as the port separator; otherwise the ':' is left as part
//     of the host and the default port is used.
func Parse(spec string) Spec {
	rest := spec
	user := ""
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		user = rest[:i]
		rest = rest[i+1:]
		if user == "" {
			log.Warnf("target %q: blank user before '@' ignored", spec)
		}
	}

	host := rest
	port := DefaultPort
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		portStr := rest[i+1:]
		if p, ok := parsePort(portStr); ok {
			host = rest[:i]
			port = p
		} else {
			log.Warnf("target %q: invalid port %q, using default port %d", spec, portStr, DefaultPort)
		}
	}

	return Spec{User: user, Host: host, Port: port}
}

// parsePort accepts only a decimal integer in (0, 65535].
func parsePort(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if n <= 0 || n > 65535 {
		return 0, false
	}
	return n, true
}

// String reconstructs a "[user@]host[:port]" specifier, omitting the
// port when it is the default.
func (s Spec) String() string {
	var b strings.Builder
	if s.User != "" {
		b.WriteString(s.User)
		b.WriteByte('@')
	}
	b.WriteString(s.Host)
	if s.Port != DefaultPort {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(s.Port))
	}
	return b.String()
}
