package sshauth

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Attempt is one candidate auth method the machine may try, built by
// the caller (internal/relay) from whatever credentials and server
// metadata it has on hand.
type Attempt struct {
	Method Method
	// KnownUnsupported, when the caller knows the server's supported
	// method list (rare: golang.org/x/crypto/ssh does not expose it
	// through its stable client API), marks this method as one the
	// server will not accept. Left false/unknown by default, in which
	// case a failed attempt is classified by classifyAuthError rather
	// than recorded as NoServerSupport; see DESIGN.md.
	KnownUnsupported bool
	// Try performs one isolated connection attempt using exactly this
	// method and returns nil on success. Nil means no credential was
	// available for this method (ResultNotProvided).
	Try func() error
}

// Run folds attempts in order, stopping at the first success. Every
// attempt after a winner is recorded as NotTried, whether or not a
// credential or server support was known for it. Exactly one
// Attempt per Method is expected; callers that skip a method simply
// omit it from attempts.
func Run(attempts []Attempt) Outcome {
	out := Outcome{Results: make(map[Method]Result, len(orderedMethods))}

	for _, a := range attempts {
		if out.HaveWinner {
			out.Results[a.Method] = ResultNotTried
			continue
		}
		if a.KnownUnsupported {
			out.Results[a.Method] = ResultNoServerSupport
			continue
		}
		if a.Try == nil {
			out.Results[a.Method] = ResultNotProvided
			continue
		}

		err := a.Try()
		if err == nil {
			out.Results[a.Method] = ResultSucceeded
			out.Succeeded = a.Method
			out.HaveWinner = true
			continue
		}

		result := classifyAuthError(err)
		out.Results[a.Method] = result
		log.WithFields(log.Fields{"method": a.Method, "result": result}).Debug("ssh auth attempt failed")

		switch result {
		case ResultError:
			out.InternalErr = true
			out.Err = err
		}
		if isDisconnection(err) {
			out.Terminated = true
			out.Err = err
		}
	}

	if !out.HaveWinner && out.Err == nil {
		out.Err = errNoMethodSucceeded
	}
	return out
}

var errNoMethodSucceeded = authFailed("no authentication method succeeded")

type authFailed string

func (a authFailed) Error() string { return string(a) }

// classifyAuthError maps a single method attempt's error to a Result.
// golang.org/x/crypto/ssh does not export a typed hierarchy rich enough
// to distinguish every case the protocol allows (partial success,
// "try again"), so — exactly as spec'd for disconnection detection in
// §4.E — classification falls back to matching substrings of the
// library's error text.
func classifyAuthError(err error) Result {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "partial success"):
		return ResultPartial
	case strings.Contains(msg, "again") && strings.Contains(msg, "try"):
		return ResultAgain
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "no supported methods remain"):
		return ResultDenied
	default:
		return ResultError
	}
}

// isDisconnection reports whether err looks like the server tore down
// the connection out from under the handshake, as opposed to cleanly
// rejecting credentials.
func isDisconnection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "eof") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection")
}
