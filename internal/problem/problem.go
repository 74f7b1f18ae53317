// Package problem defines the small taxonomy of problem strings that cross
// the boundary between the relay subprocess and the session broker (see
// cockpit's ssh relay/broker split), and the table mapping a relay's exit
// code to one of them.
package problem

// Code is a problem string attached to a synthesized "close" control
// message or to a relay's own auth-FD verdict.
type Code string

const (
	AuthenticationFailed Code = "authentication-failed"
	UnknownHostKey       Code = "unknown-hostkey"
	InvalidHostKey       Code = "invalid-hostkey"
	UnknownHost          Code = "unknown-host"
	NoHost               Code = "no-host"
	NoCockpit            Code = "no-cockpit"
	Terminated           Code = "terminated"
	Disconnected         Code = "disconnected"
	InternalError        Code = "internal-error"
	Timeout              Code = "timeout"
	NotSupported         Code = "not-supported"
	AccessDenied         Code = "access-denied"
	NotFound             Code = "not-found"

	// None is the zero value: no problem, a clean close.
	None Code = ""
)

// ExitCode is the relay subprocess's process exit status, observed by the
// broker via the child's wait status.
type ExitCode int

const (
	ExitOK                   ExitCode = 0
	ExitInternalError        ExitCode = 1
	ExitAuthenticationFailed ExitCode = 2
	ExitNoCockpit            ExitCode = 127
	ExitDisconnected         ExitCode = 254
	ExitTerminated           ExitCode = 255
)

// FromExitCode maps a relay's process exit code to a problem string. A
// zero exit code has no associated problem (None): the close was clean.
func FromExitCode(code int) Code {
	switch ExitCode(code) {
	case ExitOK:
		return None
	case ExitInternalError:
		return InternalError
	case ExitAuthenticationFailed:
		return AuthenticationFailed
	case ExitNoCockpit:
		return NoCockpit
	case ExitDisconnected:
		return Disconnected
	case ExitTerminated:
		return Terminated
	default:
		return InternalError
	}
}
