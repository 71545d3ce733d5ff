package relay

import "fmt"

// ErrorKind classifies a relay failure so callers can decide what to
// surface to the invoker.
type ErrorKind int

const (
	// KindInternal is a store failure, malformed persisted data, or violated
	// invariant. Logged in full; surfaced only as a generic failure notice.
	KindInternal ErrorKind = iota
	// KindUser is a failure caused by the invoker: permission denied,
	// unknown codename, feature not configured. Surfaced verbatim, no
	// mutation performed, not logged as a fault.
	KindUser
	// KindUnknownCommand is a command that reached the dispatcher without a
	// handler: a programmer error, not a user error. Surfaced with a request
	// to report it and logged as a warning.
	KindUnknownCommand
)

// issuesURL is where unknown-command reports should be filed.
const issuesURL = "https://github.com/zulandar/backchannel/issues"

// genericFailure is the only detail internal errors expose to the invoker.
const genericFailure = "There was an error processing your command."

// Error is a classified relay failure.
type Error struct {
	Kind ErrorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		if e.msg != "" {
			return e.msg + ": " + e.err.Error()
		}
		return e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Userf creates a user error with a message surfaced verbatim.
func Userf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUser, msg: fmt.Sprintf(format, args...)}
}

// UnknownCommand creates an unknown-command error for the named command.
func UnknownCommand(name string) *Error {
	return &Error{Kind: KindUnknownCommand, msg: fmt.Sprintf("unknown command %q", name)}
}

// Internal wraps an underlying fault as an internal error.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, err: err}
}

// Internalf creates an internal error from a formatted message.
func Internalf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, msg: fmt.Sprintf(format, args...)}
}

// KindOf classifies any error. Plain errors are internal faults.
func KindOf(err error) ErrorKind {
	if re, ok := err.(*Error); ok {
		return re.Kind
	}
	return KindInternal
}

// Surface returns the text shown to the invoker for err. User errors pass
// through verbatim; unknown commands ask for a report; everything else gets
// the generic notice.
func Surface(err error) string {
	re, ok := err.(*Error)
	if !ok {
		return genericFailure
	}
	switch re.Kind {
	case KindUser:
		return re.msg
	case KindUnknownCommand:
		return fmt.Sprintf("You sent an unimplemented command. Please file an issue: %s", issuesURL)
	default:
		return genericFailure
	}
}
