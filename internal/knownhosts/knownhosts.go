// Package knownhosts implements lookup against the known_hosts line
// format: matching a hostname/port against plain, wildcard, negated, and
// HMAC-SHA1-hashed entries. It does not implement the full known_hosts
// *file format* (writing, revocation, CA markers) — only the matching
// semantics the host-key verifier needs.
package knownhosts

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Match reports whether host/port appears in the known_hosts-formatted
// file at path, per the algorithm in the relay's host-key verification
// design: candidates are both the raw hostname and "[host]:port", each
// checked against the hostnames field of every non-comment line that
// has three or four space-separated fields; other lines are skipped.
func Match(path string, host string, port int) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return MatchReader(f, host, port)
}

// MatchReader is Match against an already-open reader, used by tests and
// by callers that already have the file's contents in memory.
func MatchReader(r io.Reader, host string, port int) (bool, error) {
	hostport := formatHostPort(host, port)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Split(line, " ")
		if len(tokens) != 3 && len(tokens) != 4 {
			continue
		}
		hostnames := tokens[0]

		for _, candidate := range []string{hostport, host} {
			matched, err := matchHostnamesField(hostnames, candidate)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return false, nil
}

func formatHostPort(host string, port int) string {
	return "[" + host + "]:" + strconv.Itoa(port)
}

// matchHostnamesField matches a single known_hosts hostnames-field token
// (either an "|1|salt|hash" HMAC entry or a comma-separated glob list)
// against candidate.
func matchHostnamesField(field string, candidate string) (bool, error) {
	if strings.HasPrefix(field, "|1|") {
		return matchHashedEntry(field, candidate)
	}
	return matchGlobList(field, candidate), nil
}

func matchHashedEntry(field string, candidate string) (bool, error) {
	parts := strings.SplitN(field, "|", 4)
	if len(parts) != 4 {
		return false, nil
	}
	// parts = ["", "1", salt, hash]
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("invalid known_hosts hash salt: %w", err)
	}
	hash, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("invalid known_hosts hash: %w", err)
	}
	if len(hash) != sha1.Size {
		return false, nil
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(candidate))
	sum := mac.Sum(nil)
	return hmac.Equal(sum, hash), nil
}

// matchGlobList matches candidate against a comma-separated list of
// subpatterns, each optionally negated with a leading '!'. '?' matches
// any single character, '*' matches any run (including empty). A
// negated match short-circuits the whole field to "no"; otherwise any
// positive match wins. Matching is case-insensitive.
func matchGlobList(field string, candidate string) bool {
	candidate = strings.ToLower(candidate)
	matched := false
	for _, sub := range strings.Split(field, ",") {
		negate := false
		pattern := sub
		if strings.HasPrefix(pattern, "!") {
			negate = true
			pattern = pattern[1:]
		}
		if globMatch(strings.ToLower(pattern), candidate) {
			if negate {
				return false
			}
			matched = true
		}
	}
	return matched
}

// globMatch implements the restricted '?'/'*' glob used by known_hosts
// hostname patterns (no character classes, no escaping).
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(pattern, s []rune) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive '*'.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchRunes(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		}
	}
	return len(s) == 0
}

// LineFor renders a known_hosts style line for diagnostics, given the
// hostnames field and an already-formatted "<keytype> <base64key>" body.
func LineFor(hostnames string, keyTypeAndKey string) string {
	return hostnames + " " + keyTypeAndKey
}
