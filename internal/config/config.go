// Package config hand-parses the cockpit.conf INI dialect (§6.3). No
// example repo in the retrieval pack imports a third-party INI
// library, and the dialect's case-insensitive-keys/last-wins/
// caller-supplied-delimiter semantics do not map cleanly onto a
// generic one anyway, so this follows the teacher's own preference for
// small hand-rolled scanners (chunked.go, httpProcessor.go) over a
// heavyweight parsing dependency, so it imports only the standard
// library; see DESIGN.md.
package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// sectionRE and keyRE tokenize one non-blank, non-comment line into a
// section header or a key/value pair. Leading whitespace is stripped
// by the patterns themselves; trailing whitespace on values is stripped
// by Parse.
var (
	sectionRE = regexp.MustCompile(`^\s*\[([A-Za-z0-9-]+)\]\s*$`)
	keyRE     = regexp.MustCompile(`^\s*([A-Za-z0-9-]+)\s*=\s*(.*)$`)
)

// File is a parsed cockpit.conf: section and key names are folded to
// lower case on insertion so lookups are case-insensitive; the last
// definition of a given key wins.
type File struct {
	sections map[string]map[string]string
}

// Parse reads and parses r, which must already be positioned at the
// start of the file.
func Parse(r io.Reader) (*File, error) {
	f := &File{sections: make(map[string]map[string]string)}
	scanner := bufio.NewScanner(r)
	section := ""
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if m := sectionRE.FindStringSubmatch(line); m != nil {
			section = strings.ToLower(m[1])
			if _, ok := f.sections[section]; !ok {
				f.sections[section] = make(map[string]string)
			}
			continue
		}
		if m := keyRE.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(m[1])
			value := strings.TrimRight(m[2], " \t\r")
			if _, ok := f.sections[section]; !ok {
				f.sections[section] = make(map[string]string)
			}
			f.sections[section][key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseFile opens and parses path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// String returns the raw value for section/key (both matched
// case-insensitively), and whether it was present at all.
func (f *File) String(section, key string) (string, bool) {
	sec, ok := f.sections[strings.ToLower(section)]
	if !ok {
		return "", false
	}
	v, ok := sec[strings.ToLower(key)]
	return v, ok
}

// Bool returns the key's value interpreted per §6.3: yes/true/1
// (case-insensitive) is true and any other value is false; an absent
// key yields def.
func (f *File) Bool(section, key string, def bool) bool {
	v, ok := f.String(section, key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

// Uint returns the key's value parsed as an unsigned integer, falling
// back to def on any parse failure, out-of-range value, or trailing
// non-digit content.
func (f *File) Uint(section, key string, def uint) uint {
	v, ok := f.String(section, key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return uint(n)
}

// StringList splits the key's value on delim after trimming trailing
// whitespace; an absent key yields nil.
func (f *File) StringList(section, key, delim string) []string {
	v, ok := f.String(section, key)
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, delim)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// SearchPath locates name using $XDG_CONFIG_DIRS (colon-separated, in
// declared order), falling back to sysconfdir. A name containing a
// path separator is returned unchanged (it bypasses the search).
func SearchPath(name, sysconfdir string) string {
	if strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	if dirs := os.Getenv("XDG_CONFIG_DIRS"); dirs != "" {
		for _, dir := range strings.Split(dirs, ":") {
			if dir == "" {
				continue
			}
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return filepath.Join(sysconfdir, name)
}

// SshLoginConnectToUnknownHosts reads [Ssh-Login] connectToUnknownHosts,
// falling back to the legacy allowUnknown key.
func (f *File) SshLoginConnectToUnknownHosts(def bool) bool {
	if v, ok := f.String("ssh-login", "connecttounknownhosts"); ok {
		return parseBool(v, def)
	}
	return f.Bool("ssh-login", "allowunknown", def)
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(v) {
	case "yes", "true", "1":
		return true
	case "no", "false", "0":
		return false
	default:
		return def
	}
}
