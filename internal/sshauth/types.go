// Package sshauth implements the ordered SSH authentication state
// machine: publickey, keyboard-interactive (or password), then
// gssapi-mic, each producing exactly one recorded Result, folded into a
// flat auth-method-results map.
package sshauth

// Method identifies one of the SSH authentication methods the relay
// knows how to attempt, or (for hostbased/none) merely report on.
type Method string

const (
	MethodPublicKey          Method = "public-key"
	MethodKeyboardInteractive Method = "keyboard-interactive"
	MethodPassword            Method = "password"
	MethodGSSAPIMIC            Method = "gssapi-mic"
	MethodHostBased            Method = "hostbased"
	MethodNone                 Method = "none"
)

// orderedMethods is the fixed attempt order from §3/§4.E. Hostbased and
// none are never attempted, only reported on when seen elsewhere.
var orderedMethods = []Method{MethodPublicKey, MethodKeyboardInteractive, MethodGSSAPIMIC}

// Result is the outcome recorded for a single auth method attempt.
type Result string

const (
	ResultNotProvided    Result = "not-provided"
	ResultNoServerSupport Result = "no-server-support"
	ResultNotTried        Result = "not-tried"
	ResultSucceeded       Result = "succeeded"
	ResultDenied          Result = "denied"
	ResultPartial         Result = "partial"
	ResultAgain           Result = "again"
	ResultError           Result = "error"
)

// CredentialKind tags the Credential union (§3).
type CredentialKind int

const (
	CredNone CredentialKind = iota
	CredPassword
	CredPrivateKeyPem
	CredAgentProxy
	CredGSSAPIToken
	CredBridge
)

// Credential is the tagged union of authentication material the relay
// may be handed. Byte-slice fields are cleared by Clear.
type Credential struct {
	Kind          CredentialKind
	Password      []byte // CredPassword
	PrivateKeyPem []byte // CredPrivateKeyPem (base64-wrapped PEM)
	GSSAPIToken   []byte // CredGSSAPIToken (delegated Kerberos credentials, hex-decoded)
}

// Clear zeroes any secret byte slices held by c.
func (c *Credential) Clear() {
	zero(c.Password)
	zero(c.PrivateKeyPem)
	zero(c.GSSAPIToken)
	c.Password = nil
	c.PrivateKeyPem = nil
	c.GSSAPIToken = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Outcome is the folded result of running the state machine once.
type Outcome struct {
	Results   map[Method]Result
	Succeeded Method
	HaveWinner bool

	// Terminated is true when an auth attempt errored with a
	// disconnection-like message (§4.E); the caller should report
	// "terminated" rather than "authentication-failed".
	Terminated bool
	// InternalErr is true when an auth attempt errored unexpectedly
	// (not a disconnection, not a denial); the caller should report
	// "internal-error".
	InternalErr bool
	Err         error
}

// ResultStrings renders Outcome.Results keyed by the wire method
// description used in auth-method-results (see §4.E / test fixtures,
// which use "public-key" rather than "publickey").
func (o Outcome) ResultStrings() map[string]string {
	out := make(map[string]string, len(o.Results))
	for m, r := range o.Results {
		out[string(m)] = string(r)
	}
	return out
}
