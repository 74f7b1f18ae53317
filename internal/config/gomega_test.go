package config

import (
	"strings"
	"testing"

	. "github.com/onsi/gomega"
)

// These cases are expressed with gomega, matching the teacher's own
// assertion style (chunked_test.go, httpProcessor_test.go), rather than
// the plain testing.T checks used elsewhere in this package's tests.
func TestParseWithGomegaMatchers(t *testing.T) {
	g := NewWithT(t)

	f, err := Parse(strings.NewReader(`
[Log]
fatal = criticals warnings
[Ssh-Login]
connectToUnknownHosts = YES
`))
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(f.SshLoginConnectToUnknownHosts(false)).To(BeTrue())
	g.Expect(f.StringList("log", "fatal", " ")).To(Equal([]string{"criticals", "warnings"}))

	v, ok := f.String("ssh-login", "missing-key")
	g.Expect(ok).To(BeFalse())
	g.Expect(v).To(BeEmpty())
}

func TestSearchPathBypassesOnExplicitPath(t *testing.T) {
	g := NewWithT(t)

	g.Expect(SearchPath("/etc/cockpit/cockpit.conf", "/usr/share/cockpit")).To(Equal("/etc/cockpit/cockpit.conf"))
}
